package convstore

import (
	"emergencyline/app/service/ledger"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestHistoryPreservesAppendOrder(t *testing.T) {
	svc := NewService()

	texts := []string{"there's a fire", "123 Main Street", "", "third floor"}
	for i, text := range texts {
		svc.Append("CA1", Utterance{Text: text, Timestamp: time.Unix(int64(i), 0)})
	}

	got := svc.History("CA1")
	if len(got) != len(texts) {
		t.Fatalf("got %d utterances, want %d", len(got), len(texts))
	}
	for i, text := range texts {
		if got[i] != text {
			t.Errorf("position %d: got %q, want %q", i, got[i], text)
		}
	}
}

func TestHistoryUnknownCallID(t *testing.T) {
	svc := NewService()

	if got := svc.History("missing"); len(got) != 0 {
		t.Fatalf("unknown call id should give empty history, got %v", got)
	}
}

func TestCloseReleasesSession(t *testing.T) {
	svc := NewService()

	svc.Append("CA1", Utterance{Text: "help"})
	svc.Close("CA1")

	if got := svc.History("CA1"); len(got) != 0 {
		t.Fatalf("closed call should give empty history, got %v", got)
	}
	if svc.ActiveCalls() != 0 {
		t.Fatalf("session not released, %d active", svc.ActiveCalls())
	}

	// reused provider id after close is a brand new session
	svc.Append("CA1", Utterance{Text: "new call"})
	if got := svc.History("CA1"); len(got) != 1 || got[0] != "new call" {
		t.Fatalf("reopened session carries stale history: %v", got)
	}
}

func TestCategoryNeverRevertsToUnknown(t *testing.T) {
	svc := NewService()
	svc.Append("CA1", Utterance{Text: "help"})

	svc.SetCategory("CA1", ledger.CategoryUnknown)
	if sess, _ := svc.Get("CA1"); sess.Category != ledger.CategoryUnknown {
		t.Fatalf("initial unknown not recorded: %q", sess.Category)
	}

	svc.SetCategory("CA1", ledger.CategoryFire)
	if sess, _ := svc.Get("CA1"); sess.Category != ledger.CategoryFire {
		t.Fatalf("specific category not applied: %q", sess.Category)
	}

	// later unknown must not undo a specific classification
	svc.SetCategory("CA1", ledger.CategoryUnknown)
	if sess, _ := svc.Get("CA1"); sess.Category != ledger.CategoryFire {
		t.Fatalf("category reverted to %q", sess.Category)
	}

	// a later specific classification may refine
	svc.SetCategory("CA1", ledger.CategoryMedical)
	if sess, _ := svc.Get("CA1"); sess.Category != ledger.CategoryMedical {
		t.Fatalf("refinement not applied: %q", sess.Category)
	}
}

func TestAppendSnapshotIsDetached(t *testing.T) {
	svc := NewService()

	snapshot := svc.Append("CA1", Utterance{Text: "first"})
	svc.Append("CA1", Utterance{Text: "second"})

	if len(snapshot.Utterances) != 1 {
		t.Fatalf("snapshot should hold 1 utterance, got %d", len(snapshot.Utterances))
	}
}

func TestConcurrentCallsIsolated(t *testing.T) {
	svc := NewService()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			callID := fmt.Sprintf("CA%d", i)
			for j := 0; j < 10; j++ {
				svc.Append(callID, Utterance{Text: fmt.Sprintf("turn %d", j)})
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 16; i++ {
		got := svc.History(fmt.Sprintf("CA%d", i))
		if len(got) != 10 {
			t.Fatalf("call %d has %d utterances, want 10", i, len(got))
		}
		for j, text := range got {
			if text != fmt.Sprintf("turn %d", j) {
				t.Fatalf("call %d out of order at %d: %q", i, j, text)
			}
		}
	}
}
