package convstore

import (
	"emergencyline/app/service/ledger"
	"log/slog"
	"slices"
	"sync"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
)

// Service holds per-call conversation history for the calls currently
// in flight. Memory is bounded by active calls only: the engine must
// Close every call on its terminal signal, because telephony providers
// recycle call ids across logically distinct calls.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	utterances []Utterance
	category   ledger.Category
}

func New(_ *do.Injector) (*Service, error) {
	return NewService(), nil
}

func NewService() *Service {
	return &Service{
		sessions: make(map[string]*session),
	}
}

// Append adds an utterance to the call's session, creating the session
// on first use. Order of appends is preserved exactly.
func (s *Service) Append(callID string, u Utterance) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[callID]
	if !ok {
		sess = &session{}
		s.sessions[callID] = sess

		slog.Debug("Opened conversation session", "call_id", callID)
	}

	sess.utterances = append(sess.utterances, u)

	return s.snapshotLocked(callID, sess)
}

// History returns the utterance texts for a call, oldest first. An
// unknown or already closed call id yields an empty history, never an
// error: the engine treats it as a fresh session.
func (s *Service) History(callID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[callID]
	if !ok {
		return nil
	}

	return pie.Map(sess.utterances, func(u Utterance) string {
		return u.Text
	})
}

// SetCategory records the classified category for a call. Once a
// session has a specific department, a later "unknown" never reverts
// it; a later specific classification may refine it.
func (s *Service) SetCategory(callID string, category ledger.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[callID]
	if !ok {
		return
	}

	if !category.Known() && sess.category != "" {
		return
	}

	sess.category = category
}

// Get returns a snapshot of the call's session, reporting whether it
// exists and is still active.
func (s *Service) Get(callID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[callID]
	if !ok {
		return Session{}, false
	}

	return s.snapshotLocked(callID, sess), true
}

// Close marks the call COMPLETED and releases its session.
func (s *Service) Close(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[callID]; !ok {
		return
	}

	delete(s.sessions, callID)

	slog.Debug("Closed conversation session", "call_id", callID)
}

// ActiveCalls reports how many sessions are currently held.
func (s *Service) ActiveCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}

func (s *Service) snapshotLocked(callID string, sess *session) Session {
	return Session{
		CallID:     callID,
		Utterances: slices.Clone(sess.utterances),
		Category:   sess.category,
		Status:     StatusActive,
	}
}
