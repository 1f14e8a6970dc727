package conversation

import (
	"context"
	"emergencyline/app/service/classifier"
	"emergencyline/app/service/convstore"
	"emergencyline/app/service/dispatch"
	"emergencyline/app/service/ledger"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/do"
)

// Intake is the classification boundary as the engine sees it. It may
// not fail; failures degrade to the classifier's fallback analysis.
type Intake interface {
	Classify(ctx context.Context, utterance string, history []string) *classifier.Analysis
}

// Router takes a finalized case towards the department ledgers.
type Router interface {
	Submit(ctx context.Context, c ledger.Case) error
}

// Service runs one intake state machine per active call. Transitions
// for a single call are strictly serialized in arrival order; calls
// progress in parallel with each other.
type Service struct {
	store  *convstore.Service
	intake Intake
	router Router

	mu    sync.Mutex
	calls map[string]*call
}

type call struct {
	// procMu serializes transitions: a second utterance for the call
	// must not begin classification before the first one finished.
	procMu sync.Mutex

	// stateMu guards state and cancel, which EndCall touches from
	// outside the transition.
	stateMu sync.Mutex
	state   State
	cancel  context.CancelFunc

	// accumulated classification, only touched under procMu
	agg aggregate
}

type aggregate struct {
	categories []ledger.Category
	priority   int
	caseNumber string
	location   string
	situation  string
	dispatch   string
}

func New(di *do.Injector) (*Service, error) {
	return NewService(
		do.MustInvoke[*convstore.Service](di),
		do.MustInvoke[*classifier.Service](di),
		do.MustInvoke[*dispatch.Service](di),
	), nil
}

func NewService(store *convstore.Service, intake Intake, router Router) *Service {
	return &Service{
		store:  store,
		intake: intake,
		router: router,
		calls:  make(map[string]*call),
	}
}

// Greet answers a freshly connected call with the fixed opening
// prompt and arms the machine for the first utterance.
func (s *Service) Greet(callID string) Prompt {
	c := s.acquire(callID)

	c.stateMu.Lock()
	if c.state == StateGreeting {
		c.state = StateAwaitingUtterance
	}
	c.stateMu.Unlock()

	slog.Info("Greeted incoming call", "call_id", callID)

	return Prompt{Text: greetingText, Gather: true}
}

// HandleUtterance drives one full transition: append, classify (with
// fallback), then either ask the next question or finalize the case.
// Blank utterances are appended and classified like any other turn.
func (s *Service) HandleUtterance(ctx context.Context, ev Event) (Prompt, error) {
	c := s.acquireActive(ev.CallID)
	defer c.procMu.Unlock()

	classifyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The append happens under stateMu: EndCall flips the state before it
	// closes the session, so an utterance is either recorded on a live
	// machine or dropped, never written into a session already torn down.
	c.stateMu.Lock()
	if c.state == StateClosed {
		c.stateMu.Unlock()
		return Prompt{}, nil
	}
	history := s.store.History(ev.CallID)
	s.store.Append(ev.CallID, convstore.Utterance{Text: ev.Text, Timestamp: ev.Timestamp})
	c.state = StateClassifying
	c.cancel = cancel
	c.stateMu.Unlock()

	analysis := s.intake.Classify(classifyCtx, ev.Text, history)

	c.stateMu.Lock()
	c.cancel = nil
	closed := c.state == StateClosed
	c.stateMu.Unlock()

	if closed {
		slog.Info("Call hung up during classification, no case produced",
			"call_id", ev.CallID)
		return Prompt{}, nil
	}

	s.store.SetCategory(ev.CallID, analysis.Category())
	c.agg.absorb(analysis)

	if analysis.ShouldContinue {
		c.setState(StateAwaitingUtterance)

		slog.Debug("Continuing conversation",
			"call_id", ev.CallID,
			"category", analysis.Category(),
			"missing", analysis.MissingCriticalInfo)

		return Prompt{Text: analysis.NextQuestion, Gather: true}, nil
	}

	c.setState(StateFinalizing)

	emergencyCase := s.buildCase(ev.CallID, c)

	err := s.router.Submit(ctx, emergencyCase)
	if err != nil {
		slog.Error("Failed to dispatch finalized case",
			"call_id", ev.CallID,
			"case_number", emergencyCase.CaseNumber,
			"error", err,
			"telegram", true)

		err = fmt.Errorf("failed to dispatch case %q: %w", emergencyCase.CaseNumber, err)
	} else {
		slog.Info("Finalized emergency case",
			"call_id", ev.CallID,
			"case_number", emergencyCase.CaseNumber,
			"categories", emergencyCase.Categories)
	}

	s.closeCall(ev.CallID, c)

	return Prompt{Text: closingText, Gather: false}, err
}

// EndCall handles the external hang-up signal: the machine goes to
// CLOSED immediately, an in-flight classification is cancelled, and
// no case is dispatched if none had been finalized yet.
func (s *Service) EndCall(callID string) {
	s.mu.Lock()
	c, ok := s.calls[callID]
	s.mu.Unlock()

	if !ok {
		s.store.Close(callID)
		return
	}

	c.stateMu.Lock()
	if c.state != StateClosed {
		c.state = StateClosed
		if c.cancel != nil {
			c.cancel()
		}
	}
	c.stateMu.Unlock()

	s.store.Close(callID)
	s.forget(callID, c)

	slog.Info("Call ended", "call_id", callID)
}

// CallState reports the machine state for a call id; unknown ids are
// CLOSED.
func (s *Service) CallState(callID string) State {
	s.mu.Lock()
	c, ok := s.calls[callID]
	s.mu.Unlock()

	if !ok {
		return StateClosed
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.state
}

func (s *Service) acquire(callID string) *call {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[callID]
	if !ok {
		c = &call{state: StateGreeting}
		s.calls[callID] = c
	}

	return c
}

// acquireActive returns the call's record with procMu held, creating
// a fresh record when the previous one is already closed: a late event
// for a closed call id is a new, unrelated call.
func (s *Service) acquireActive(callID string) *call {
	for {
		c := s.acquire(callID)
		c.procMu.Lock()

		c.stateMu.Lock()
		closed := c.state == StateClosed
		c.stateMu.Unlock()

		if !closed {
			return c
		}

		c.procMu.Unlock()
		s.forget(callID, c)
	}
}

func (s *Service) forget(callID string, c *call) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.calls[callID] == c {
		delete(s.calls, callID)
	}
}

func (s *Service) closeCall(callID string, c *call) {
	c.setState(StateClosed)
	s.store.Close(callID)
	s.forget(callID, c)
}

func (s *Service) buildCase(callID string, c *call) ledger.Case {
	agg := c.agg

	caseNumber := agg.caseNumber
	if caseNumber == "" {
		caseNumber = dispatch.DeriveCaseNumber("call:" + callID)
	}

	situation := agg.situation
	if situation == "" {
		situation = firstNonEmpty(s.store.History(callID))
	}

	categories := agg.categories
	if len(categories) == 0 {
		categories = []ledger.Category{ledger.CategoryUnknown}
	}

	return ledger.Case{
		CaseNumber: caseNumber,
		Categories: categories,
		Location:   agg.location,
		Situation:  situation,
		Dispatch:   agg.dispatch,
		OpenStatus: ledger.StatusOpen,
		Severity:   agg.priority,
	}
}

func (c *call) setState(state State) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
}

// absorb folds a new classification turn into the accumulated case
// fields. Later specific values win; a turn that lost a field keeps
// the earlier one.
func (a *aggregate) absorb(analysis *classifier.Analysis) {
	if len(analysis.Categories) > 0 && analysis.Category().Known() {
		a.categories = analysis.Categories
	}
	a.priority = analysis.Priority

	if analysis.CaseNumber != "" {
		a.caseNumber = analysis.CaseNumber
	}
	if analysis.Location != "" {
		a.location = analysis.Location
	}
	if analysis.Situation != "" {
		a.situation = analysis.Situation
	}
	if analysis.Dispatch != "" {
		a.dispatch = analysis.Dispatch
	}
}

func firstNonEmpty(texts []string) string {
	for _, text := range texts {
		if text != "" {
			return text
		}
	}

	return ""
}
