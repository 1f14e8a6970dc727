package conversation

import (
	"context"
	"emergencyline/app/service/classifier"
	"emergencyline/app/service/convstore"
	"emergencyline/app/service/ledger"
	"sync"
	"testing"
	"time"
)

type scriptedIntake struct {
	mu       sync.Mutex
	analyses []*classifier.Analysis
	calls    int
	seen     []string
	started  chan struct{}
	release  chan struct{}
}

func (f *scriptedIntake) Classify(ctx context.Context, utterance string, _ []string) *classifier.Analysis {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.seen = append(f.seen, utterance)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return classifier.Fallback()
		}
	}

	if i >= len(f.analyses) {
		return classifier.Fallback()
	}

	return f.analyses[i]
}

type recordingRouter struct {
	mu    sync.Mutex
	cases []ledger.Case
	err   error
}

func (r *recordingRouter) Submit(_ context.Context, c ledger.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	r.cases = append(r.cases, c)

	return nil
}

func (r *recordingRouter) submitted() []ledger.Case {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]ledger.Case(nil), r.cases...)
}

func continueWith(category ledger.Category, question string) *classifier.Analysis {
	return &classifier.Analysis{
		Categories:     []ledger.Category{category},
		Priority:       1,
		NextQuestion:   question,
		ShouldContinue: true,
	}
}

func finalizeWith(category ledger.Category, caseNumber string) *classifier.Analysis {
	return &classifier.Analysis{
		Categories:     []ledger.Category{category},
		Priority:       1,
		CaseNumber:     caseNumber,
		Location:       "123 Main Street",
		Situation:      "apartment fire",
		Dispatch:       "engine 4",
		ShouldContinue: false,
	}
}

func newEngine(intake Intake, router Router) (*Service, *convstore.Service) {
	store := convstore.NewService()

	return NewService(store, intake, router), store
}

func TestGreetOpensCall(t *testing.T) {
	svc, _ := newEngine(&scriptedIntake{}, &recordingRouter{})

	prompt := svc.Greet("CA1")

	if prompt.Text != "911, what's your emergency?" {
		t.Errorf("greeting: got %q", prompt.Text)
	}
	if !prompt.Gather {
		t.Error("greeting must gather input")
	}
	if got := svc.CallState("CA1"); got != StateAwaitingUtterance {
		t.Errorf("state: got %q", got)
	}
}

func TestFireScenarioContinues(t *testing.T) {
	intake := &scriptedIntake{analyses: []*classifier.Analysis{
		continueWith(ledger.CategoryFire, "What is the exact address?"),
	}}
	svc, store := newEngine(intake, &recordingRouter{})

	prompt, err := svc.HandleUtterance(context.Background(), Event{
		CallID:    "CA1",
		Text:      "There's a fire in my apartment building",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}

	if prompt.Text != "What is the exact address?" {
		t.Errorf("prompt: got %q", prompt.Text)
	}
	if !prompt.Gather {
		t.Error("continuing prompt must gather input")
	}
	if got := svc.CallState("CA1"); got != StateAwaitingUtterance {
		t.Errorf("state: got %q", got)
	}
	if sess, ok := store.Get("CA1"); !ok || sess.Category != ledger.CategoryFire {
		t.Errorf("session category not recorded")
	}
}

func TestFinalizeDispatchesCaseAndCloses(t *testing.T) {
	intake := &scriptedIntake{analyses: []*classifier.Analysis{
		continueWith(ledger.CategoryFire, "What is the exact address?"),
		finalizeWith(ledger.CategoryFire, "C-100"),
	}}
	router := &recordingRouter{}
	svc, store := newEngine(intake, router)

	ctx := context.Background()
	if _, err := svc.HandleUtterance(ctx, Event{CallID: "CA1", Text: "fire in my building"}); err != nil {
		t.Fatalf("turn 1: %v", err)
	}

	prompt, err := svc.HandleUtterance(ctx, Event{CallID: "CA1", Text: "123 Main Street, apartment 4B"})
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	if prompt.Gather {
		t.Error("closing prompt must not gather input")
	}
	if prompt.Text == "" {
		t.Error("closing prompt must not be empty")
	}

	cases := router.submitted()
	if len(cases) != 1 {
		t.Fatalf("got %d dispatched cases, want 1", len(cases))
	}
	if cases[0].CaseNumber != "C-100" {
		t.Errorf("case number: got %q", cases[0].CaseNumber)
	}
	if cases[0].OpenStatus != ledger.StatusOpen {
		t.Errorf("open status: got %q", cases[0].OpenStatus)
	}
	if cases[0].Severity != 1 {
		t.Errorf("severity: got %d", cases[0].Severity)
	}

	if got := svc.CallState("CA1"); got != StateClosed {
		t.Errorf("state: got %q", got)
	}
	if got := store.History("CA1"); len(got) != 0 {
		t.Errorf("session not released: %v", got)
	}
}

func TestCaseNumberDerivedWhenClassifierOmitsIt(t *testing.T) {
	final := finalizeWith(ledger.CategoryPolice, "")
	intake := &scriptedIntake{analyses: []*classifier.Analysis{final}}
	router := &recordingRouter{}
	svc, _ := newEngine(intake, router)

	if _, err := svc.HandleUtterance(context.Background(), Event{CallID: "CA7", Text: "break-in"}); err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}

	cases := router.submitted()
	if len(cases) != 1 || cases[0].CaseNumber == "" {
		t.Fatalf("case number not derived: %+v", cases)
	}

	first := cases[0].CaseNumber

	// the same call id must derive the same number
	svc2, _ := newEngine(&scriptedIntake{analyses: []*classifier.Analysis{finalizeWith(ledger.CategoryPolice, "")}}, router)
	if _, err := svc2.HandleUtterance(context.Background(), Event{CallID: "CA7", Text: "break-in"}); err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	if router.submitted()[1].CaseNumber != first {
		t.Errorf("derivation not deterministic: %q vs %q", router.submitted()[1].CaseNumber, first)
	}
}

func TestBlankUtteranceStillClassified(t *testing.T) {
	intake := &scriptedIntake{}
	svc, _ := newEngine(intake, &recordingRouter{})

	prompt, err := svc.HandleUtterance(context.Background(), Event{CallID: "CA1", Text: ""})
	if err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}

	if intake.calls != 1 {
		t.Fatalf("classifier called %d times, want 1", intake.calls)
	}
	if prompt.Text == "" {
		t.Error("fallback must still produce a question")
	}
}

func TestFallbackNeverBlocksConversation(t *testing.T) {
	// scripted intake exhausted: every turn degrades to fallback
	svc, _ := newEngine(&scriptedIntake{}, &recordingRouter{})

	for i := 0; i < 3; i++ {
		prompt, err := svc.HandleUtterance(context.Background(), Event{CallID: "CA1", Text: "..."})
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if prompt.Text == "" || !prompt.Gather {
			t.Fatalf("turn %d did not produce a question: %+v", i, prompt)
		}
	}

	if got := svc.CallState("CA1"); got != StateAwaitingUtterance {
		t.Errorf("state: got %q", got)
	}
}

func TestHangUpDuringClassification(t *testing.T) {
	intake := &scriptedIntake{
		analyses: []*classifier.Analysis{finalizeWith(ledger.CategoryFire, "C-100")},
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	router := &recordingRouter{}
	svc, store := newEngine(intake, router)

	done := make(chan Prompt, 1)
	go func() {
		prompt, _ := svc.HandleUtterance(context.Background(), Event{CallID: "CA1", Text: "fire"})
		done <- prompt
	}()

	<-intake.started
	if got := svc.CallState("CA1"); got != StateClassifying {
		t.Fatalf("state during classification: got %q", got)
	}

	svc.EndCall("CA1")
	close(intake.release)

	prompt := <-done
	if prompt.Text != "" || prompt.Gather {
		t.Errorf("hung-up call got a prompt: %+v", prompt)
	}
	if len(router.submitted()) != 0 {
		t.Fatalf("case dispatched despite hang-up: %+v", router.submitted())
	}
	if got := svc.CallState("CA1"); got != StateClosed {
		t.Errorf("state: got %q", got)
	}
	if got := store.History("CA1"); len(got) != 0 {
		t.Errorf("session not released: %v", got)
	}
}

func TestLateEventAfterCloseStartsFreshSession(t *testing.T) {
	intake := &scriptedIntake{analyses: []*classifier.Analysis{
		continueWith(ledger.CategoryFire, "address?"),
		continueWith(ledger.CategoryMedical, "what happened?"),
	}}
	svc, store := newEngine(intake, &recordingRouter{})

	if _, err := svc.HandleUtterance(context.Background(), Event{CallID: "CA1", Text: "fire"}); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	svc.EndCall("CA1")

	// same provider id, logically a new call
	if _, err := svc.HandleUtterance(context.Background(), Event{CallID: "CA1", Text: "my friend collapsed"}); err != nil {
		t.Fatalf("turn after close: %v", err)
	}

	got := store.History("CA1")
	if len(got) != 1 || got[0] != "my friend collapsed" {
		t.Fatalf("fresh session carries stale history: %v", got)
	}
	if sess, _ := store.Get("CA1"); sess.Category != ledger.CategoryMedical {
		t.Errorf("fresh session category: got %q", sess.Category)
	}
}

func TestUtterancesSerializedPerCall(t *testing.T) {
	intake := &scriptedIntake{
		analyses: []*classifier.Analysis{
			continueWith(ledger.CategoryFire, "q1"),
			continueWith(ledger.CategoryFire, "q2"),
			continueWith(ledger.CategoryFire, "q3"),
		},
		started: make(chan struct{}, 3),
		release: make(chan struct{}),
	}
	svc, store := newEngine(intake, &recordingRouter{})

	var wg sync.WaitGroup
	launch := func(text string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.HandleUtterance(context.Background(), Event{CallID: "CA1", Text: text})
		}()
	}

	// each turn is held inside the classifier; the next one is launched
	// only once the previous turn is provably mid-classification, so the
	// machine sees a fixed arrival order without timing assumptions
	launch("first")
	<-intake.started
	launch("second")

	intake.release <- struct{}{}
	<-intake.started
	launch("third")

	intake.release <- struct{}{}
	<-intake.started
	intake.release <- struct{}{}
	wg.Wait()

	want := []string{"first", "second", "third"}

	got := store.History("CA1")
	if len(got) != 3 {
		t.Fatalf("got %d utterances, want 3", len(got))
	}
	for i, text := range want {
		if got[i] != text {
			t.Fatalf("history out of order: %v", got)
		}
		if intake.seen[i] != text {
			t.Fatalf("classification out of order: %v", intake.seen)
		}
	}
}

func TestHangUpConcurrentWithUtteranceLeavesNoSession(t *testing.T) {
	for i := 0; i < 300; i++ {
		intake := &scriptedIntake{analyses: []*classifier.Analysis{
			continueWith(ledger.CategoryFire, "address?"),
		}}
		svc, store := newEngine(intake, &recordingRouter{})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.HandleUtterance(context.Background(), Event{CallID: "CA1", Text: "fire"})
		}()
		go func() {
			defer wg.Done()
			svc.EndCall("CA1")
		}()
		wg.Wait()

		// whichever side won, a closed machine must not leave a live
		// session behind: it would bleed into the next call that
		// reuses the provider id
		if svc.CallState("CA1") == StateClosed && store.ActiveCalls() != 0 {
			t.Fatalf("iteration %d: closed call left a live session", i)
		}
	}
}

func TestDispatchFailureSurfacedButCallStillCloses(t *testing.T) {
	intake := &scriptedIntake{analyses: []*classifier.Analysis{finalizeWith(ledger.CategoryFire, "C-1")}}
	router := &recordingRouter{err: ledger.ErrPersistence}
	svc, _ := newEngine(intake, router)

	prompt, err := svc.HandleUtterance(context.Background(), Event{CallID: "CA1", Text: "fire"})
	if err == nil {
		t.Fatal("dispatch failure not surfaced")
	}
	if prompt.Text == "" || prompt.Gather {
		t.Errorf("caller should still hear the closing message: %+v", prompt)
	}
	if got := svc.CallState("CA1"); got != StateClosed {
		t.Errorf("state: got %q", got)
	}
}

func TestAggregateKeepsEarlierFields(t *testing.T) {
	final := &classifier.Analysis{
		Categories:     []ledger.Category{ledger.CategoryFire},
		Priority:       2,
		ShouldContinue: false,
		CaseNumber:     "C-5",
		// location was gathered on the earlier turn and not repeated
	}
	intake := &scriptedIntake{analyses: []*classifier.Analysis{
		{
			Categories:     []ledger.Category{ledger.CategoryFire},
			Priority:       1,
			Location:       "123 Main Street",
			Situation:      "apartment fire",
			NextQuestion:   "anyone trapped?",
			ShouldContinue: true,
		},
		final,
	}}
	router := &recordingRouter{}
	svc, _ := newEngine(intake, router)

	ctx := context.Background()
	if _, err := svc.HandleUtterance(ctx, Event{CallID: "CA1", Text: "fire at 123 Main Street"}); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := svc.HandleUtterance(ctx, Event{CallID: "CA1", Text: "no"}); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	cases := router.submitted()
	if len(cases) != 1 {
		t.Fatalf("got %d cases", len(cases))
	}
	if cases[0].Location != "123 Main Street" {
		t.Errorf("earlier location lost: %q", cases[0].Location)
	}
	if cases[0].Situation != "apartment fire" {
		t.Errorf("earlier situation lost: %q", cases[0].Situation)
	}
	if cases[0].Severity != 2 {
		t.Errorf("latest priority not used: %d", cases[0].Severity)
	}
}
