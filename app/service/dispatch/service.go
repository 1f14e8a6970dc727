package dispatch

import (
	"context"
	"emergencyline/app/service/ledger"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/do"
)

// Ledger is the slice of the case repository the router needs.
type Ledger interface {
	Merge(category ledger.Category, cases ...ledger.Case) error
}

// Service routes classified cases into department ledgers. A case can
// fan out to several departments; a report that cannot be identified
// or categorized lands in the unknown holding category instead of
// being dropped.
type Service struct {
	ledgerSvc Ledger
}

func New(di *do.Injector) (*Service, error) {
	return NewService(do.MustInvoke[*ledger.Service](di)), nil
}

func NewService(ledgerSvc Ledger) *Service {
	return &Service{ledgerSvc: ledgerSvc}
}

// Submit merges one case into every category its classification names.
// Merge failures for one department do not stop the others; the caller
// gets the combined error and may retry the whole submission, merges
// being idempotent.
func (s *Service) Submit(ctx context.Context, c ledger.Case) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c = normalize(c)

	var errs []error
	for _, category := range c.Categories {
		if err := s.ledgerSvc.Merge(category, c); err != nil {
			errs = append(errs, fmt.Errorf("category %q: %w", category, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to submit case %q: %w", c.CaseNumber, err)
	}

	slog.Info("Routed case to departments",
		"case_number", c.CaseNumber,
		"categories", c.Categories,
		"severity", c.Severity)

	return nil
}

// SubmitBatch applies the merge for every case listed under every
// category of the payload. Safe to replay with the same payload.
func (s *Service) SubmitBatch(ctx context.Context, batch map[string][]ledger.Case) error {
	var errs []error

	for name, cases := range batch {
		for _, c := range cases {
			category := ledger.Category(strings.ToLower(strings.TrimSpace(name)))
			if !category.Known() {
				category = ledger.CategoryUnknown
			}

			c.Categories = mergeCategories(c.Categories, category)

			if err := s.Submit(ctx, c); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// normalize repairs a malformed record before any merge attempt: a
// missing case number gets a deterministic content-derived one, and a
// record without a resolvable category goes to the holding pen. No
// emergency report is ever silently lost.
func normalize(c ledger.Case) ledger.Case {
	if strings.TrimSpace(c.CaseNumber) == "" {
		c.CaseNumber = DeriveCaseNumber(c.Location + "|" + c.Situation)

		slog.Warn("Case submitted without case number, derived one",
			"case_number", c.CaseNumber,
			"situation", c.Situation)

		c.Categories = []ledger.Category{ledger.CategoryUnknown}
	}

	var categories []ledger.Category
	for _, category := range c.Categories {
		if category.Known() && !containsCategory(categories, category) {
			categories = append(categories, category)
		}
	}
	if len(categories) == 0 {
		categories = []ledger.Category{ledger.CategoryUnknown}
	}
	c.Categories = categories

	if c.OpenStatus == "" {
		c.OpenStatus = ledger.StatusOpen
	}

	return c
}

// DeriveCaseNumber builds a deterministic case number from whatever
// identity the record carries, so replays of the same report dedupe.
func DeriveCaseNumber(seed string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))

	return "C-" + strings.ToUpper(strings.SplitN(id.String(), "-", 2)[0])
}

func mergeCategories(list []ledger.Category, category ledger.Category) []ledger.Category {
	if containsCategory(list, category) {
		return list
	}

	return append(list, category)
}

func containsCategory(list []ledger.Category, category ledger.Category) bool {
	for _, c := range list {
		if c == category {
			return true
		}
	}

	return false
}
