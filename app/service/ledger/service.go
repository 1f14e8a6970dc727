package ledger

import (
	"cmp"
	"emergencyline/app/config"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
)

var ErrPersistence = fmt.Errorf("ledger persistence failed")

// Service is the durable case ledger. Each category owns an ordered,
// severity-ranked sequence of cases; case numbers are unique within a
// category and re-submission of a known number is a no-op.
type Service struct {
	storage Storage

	// one shard per category, fixed at startup
	shards map[Category]*shard
}

type shard struct {
	mu    sync.Mutex
	cases []Case
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	storage, err := NewFileStorage(cfg.Ledger.Path)
	if err != nil {
		return nil, err
	}

	return NewService(storage)
}

func NewService(storage Storage) (*Service, error) {
	loaded, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	shards := make(map[Category]*shard, len(Categories()))
	for _, category := range Categories() {
		shards[category] = &shard{cases: loaded[category]}
	}

	return &Service{
		storage: storage,
		shards:  shards,
	}, nil
}

// Merge inserts cases into one category's sequence with at-most-once
// semantics keyed by case number. New cases are appended and the
// sequence is re-sorted by severity, stable, so equal ranks keep
// arrival order. The whole operation is mutually exclusive with other
// merges on the same category only.
func (s *Service) Merge(category Category, cases ...Case) error {
	sh, ok := s.shards[category]
	if !ok {
		return fmt.Errorf("unknown ledger category %q", category)
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	before := slices.Clone(sh.cases)

	added := 0
	for _, c := range cases {
		if containsCase(sh.cases, c.CaseNumber) {
			slog.Debug("Duplicate case number, not adding",
				"category", category,
				"case_number", c.CaseNumber)
			continue
		}

		sh.cases = append(sh.cases, c)
		added++
	}

	if added == 0 {
		return nil
	}

	slices.SortStableFunc(sh.cases, func(a, b Case) int {
		return cmp.Compare(a.Severity, b.Severity)
	})

	if err := s.storage.Save(category, sh.cases); err != nil {
		sh.cases = before

		return fmt.Errorf("%w: category %q: %w", ErrPersistence, category, err)
	}

	slog.Info("Merged cases into ledger",
		"category", category,
		"added", added,
		"total", len(sh.cases))

	return nil
}

// Cases returns a copy of one category's sequence, severity order.
func (s *Service) Cases(category Category) []Case {
	sh, ok := s.shards[category]
	if !ok {
		return nil
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	return slices.Clone(sh.cases)
}

// Snapshot copies the whole ledger, one category at a time. Not a
// point-in-time view across categories, which merge semantics never
// require.
func (s *Service) Snapshot() map[Category][]Case {
	result := make(map[Category][]Case, len(s.shards))

	for _, category := range Categories() {
		result[category] = s.Cases(category)
	}

	return result
}

func containsCase(cases []Case, caseNumber string) bool {
	return pie.Any(cases, func(c Case) bool {
		return c.CaseNumber == caseNumber
	})
}
