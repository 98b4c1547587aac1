package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/carbon-ledger/internal/engine"
	"github.com/celerix-dev/carbon-ledger/internal/records"
	"github.com/celerix-dev/carbon-ledger/internal/scoring"
	"github.com/celerix-dev/carbon-ledger/pkg/schema"
	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

var (
	emittedAt = time.Date(2024, 4, 2, 8, 30, 0, 0, time.UTC)
	stampedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

// fakeScorer records its input and answers with a canned result.
type fakeScorer struct {
	mu     sync.Mutex
	inputs [][]byte
	result scoring.Result
	run    func(ctx context.Context, input []byte) scoring.Result
}

func (f *fakeScorer) Run(ctx context.Context, input []byte) scoring.Result {
	f.mu.Lock()
	f.inputs = append(f.inputs, append([]byte(nil), input...))
	f.mu.Unlock()
	if f.run != nil {
		return f.run(ctx, input)
	}
	return f.result
}

func (f *fakeScorer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func emits(out string) *fakeScorer {
	return &fakeScorer{result: scoring.Result{Outcome: scoring.Success, Stdout: []byte(out)}}
}

type fixture struct {
	store  *engine.MemStore
	ledger *records.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := engine.NewMemStore(nil, nil)
	return &fixture{store: store, ledger: records.NewLedger(store, func() time.Time { return stampedAt })}
}

func (f *fixture) addEmission(t *testing.T, userID string, amount float64) {
	t.Helper()
	_, err := f.ledger.Emissions.Create(context.Background(), schema.EmissionRecord{
		UserID:       userID,
		ActivityType: schema.ActivityTransportation,
		Amount:       amount,
		Unit:         schema.UnitKilograms,
		Category:     schema.CategoryDirect,
		Timestamp:    emittedAt,
	})
	require.NoError(t, err)
}

func (f *fixture) exchange(scorer Scorer, opts ...Option) *Exchange {
	opts = append([]Option{WithClock(func() time.Time { return stampedAt })}, opts...)
	return New(f.ledger.Emissions, f.ledger.Recommendations, scorer, opts...)
}

func (f *fixture) persisted(t *testing.T) []schema.RecommendationRecord {
	t.Helper()
	recs, err := f.ledger.Recommendations.List(context.Background(), nil)
	require.NoError(t, err)
	return recs
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	require.Equal(t, kind, xerr.Kind, "error: %v", err)
	return xerr
}

func TestGenerate_ConcreteScenario(t *testing.T) {
	f := newFixture(t)
	f.addEmission(t, "u1", 12.5)
	scorer := emits(`[{"userId":"u1","category":"Transportation","recommendationText":"Carpool more","impactEstimate":3.2,"status":"ignored"}]`)

	report, err := f.exchange(scorer).Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)

	var sent []map[string]any
	require.NoError(t, json.Unmarshal(scorer.inputs[0], &sent))
	require.Len(t, sent, 1)
	assert.Equal(t, "u1", sent[0]["userId"])
	assert.Equal(t, "Transportation", sent[0]["activityType"])
	assert.Equal(t, 12.5, sent[0]["amount"])
	assert.Equal(t, "kg", sent[0]["unit"])
	assert.Equal(t, "Direct", sent[0]["category"])
	assert.Equal(t, "2024-04-02T08:30:00Z", sent[0]["timestamp"])
	assert.NotEmpty(t, sent[0]["id"])

	require.Len(t, report.Recommendations, 1)
	assert.JSONEq(t, `{"userId":"u1","category":"Transportation","recommendationText":"Carpool more","impactEstimate":3.2,"status":"ignored"}`,
		string(report.Recommendations[0]), "the report carries the output as emitted")

	recs := f.persisted(t)
	require.Len(t, recs, 1)
	assert.Equal(t, schema.StatusPending, recs[0].Status)
	assert.Equal(t, 3.2, recs[0].ImpactEstimate)
	assert.Equal(t, "Carpool more", recs[0].RecommendationText)
	assert.True(t, recs[0].Timestamp.Equal(stampedAt))

	require.Len(t, report.Saved, 1)
	assert.Equal(t, Saved{Index: 0, ID: recs[0].ID}, report.Saved[0])
	assert.Empty(t, report.Failed)
}

func TestGenerate_EmptySnapshot(t *testing.T) {
	f := newFixture(t)
	scorer := emits("[]\n")

	report, err := f.exchange(scorer).Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "[]", string(scorer.inputs[0]))
	assert.NotNil(t, report.Recommendations)
	assert.Empty(t, report.Recommendations)
	assert.Empty(t, f.persisted(t))

	body, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t, `{"recommendations":[],"saved":[],"failed":[]}`, string(body))
}

func TestGenerate_PersistsEveryItemVerbatim(t *testing.T) {
	f := newFixture(t)
	f.addEmission(t, "u1", 10)
	f.addEmission(t, "u2", 20)
	out := `[
		{"userId":"u1","category":"Transportation","recommendationText":"Cycle to work","impactEstimate":0.1},
		{"userId":"u2","category":"Energy","recommendationText":"Lower the thermostat","impactEstimate":42,"status":"Completed","timestamp":"1999-01-01T00:00:00Z"},
		{"userId":"u2","category":"General","recommendationText":"Keep it up","impactEstimate":0}
	]`

	report, err := f.exchange(emits(out)).Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Recommendations, 3)
	require.Len(t, report.Saved, 3)

	recs := f.persisted(t)
	require.Len(t, recs, 3)
	want := []struct {
		user, category, text string
		impact               float64
	}{
		{"u1", "Transportation", "Cycle to work", 0.1},
		{"u2", "Energy", "Lower the thermostat", 42},
		{"u2", "General", "Keep it up", 0},
	}
	for i, w := range want {
		assert.Equal(t, report.Saved[i].ID, recs[i].ID, "stored in scorer order")
		assert.Equal(t, w.user, recs[i].UserID)
		assert.Equal(t, w.category, recs[i].Category)
		assert.Equal(t, w.text, recs[i].RecommendationText)
		assert.Equal(t, w.impact, recs[i].ImpactEstimate)
		assert.Equal(t, schema.StatusPending, recs[i].Status)
		assert.True(t, recs[i].Timestamp.Equal(stampedAt))
	}
}

func TestGenerate_NonZeroExitPersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.addEmission(t, "u1", 1)
	scorer := &fakeScorer{result: scoring.Result{
		Outcome:  scoring.ExitError,
		ExitCode: 2,
		Stdout:   []byte(`[{"userId":"u1","category":"x","recommendationText":"y","impactEstimate":1}]`),
		Stderr:   []byte("boom\n"),
	}}

	report, err := f.exchange(scorer).Generate(context.Background())
	assert.Nil(t, report)
	xerr := requireKind(t, err, KindProcessExecutionFailure)
	assert.Equal(t, StateScoring, xerr.State)
	assert.Contains(t, err.Error(), "boom")
	assert.Empty(t, f.persisted(t))
}

func TestGenerate_MalformedOutputPersistsNothing(t *testing.T) {
	cases := map[string]scoring.Result{
		"not json":         {Outcome: scoring.Success, Stdout: []byte("Here are your tips!")},
		"object":           {Outcome: scoring.Success, Stdout: []byte(`{"recommendations":[]}`)},
		"empty":            {Outcome: scoring.Success, Stdout: []byte("  \n")},
		"scalar items":     {Outcome: scoring.Success, Stdout: []byte(`[1, 2]`)},
		"null item":        {Outcome: scoring.Success, Stdout: []byte(`[null]`)},
		"missing fields":   {Outcome: scoring.Success, Stdout: []byte(`[{"userId":"u1","category":"Energy"}]`)},
		"string impact":    {Outcome: scoring.Success, Stdout: []byte(`[{"userId":"u1","category":"Energy","recommendationText":"t","impactEstimate":"30%"}]`)},
		"blank text":       {Outcome: scoring.Success, Stdout: []byte(`[{"userId":"u1","category":"Energy","recommendationText":" ","impactEstimate":1}]`)},
		"truncated":        {Outcome: scoring.Success, Stdout: []byte(`[{"userId":"u1"`), Truncated: true},
		"second item bad":  {Outcome: scoring.Success, Stdout: []byte(`[{"userId":"u1","category":"Energy","recommendationText":"t","impactEstimate":1},{"userId":7}]`)},
		"trailing garbage": {Outcome: scoring.Success, Stdout: []byte(`[] []`)},
	}
	for name, result := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.addEmission(t, "u1", 1)

			report, err := f.exchange(&fakeScorer{result: result}).Generate(context.Background())
			assert.Nil(t, report)
			xerr := requireKind(t, err, KindMalformedOutput)
			assert.Equal(t, StateParsingOutput, xerr.State)
			assert.Empty(t, f.persisted(t))
		})
	}
}

func TestGenerate_InvalidItemKeepsSchemaCause(t *testing.T) {
	f := newFixture(t)
	scorer := emits(`[{"userId":"u1","category":"Energy","recommendationText":"ok","impactEstimate":1},{"userId":"u1","category":" ","recommendationText":"t","impactEstimate":1}]`)

	_, err := f.exchange(scorer).Generate(context.Background())
	requireKind(t, err, KindMalformedOutput)
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)
	assert.Contains(t, err.Error(), "item 1")
	assert.Contains(t, err.Error(), "category is required")
	assert.Empty(t, f.persisted(t))
}

func TestGenerate_ScorerOutcomes(t *testing.T) {
	cases := []struct {
		outcome scoring.Outcome
		kind    Kind
	}{
		{scoring.SpawnError, KindProcessSpawnFailure},
		{scoring.Timeout, KindTimeout},
		{scoring.Canceled, KindCanceled},
	}
	for _, tc := range cases {
		t.Run(string(tc.outcome), func(t *testing.T) {
			f := newFixture(t)
			scorer := &fakeScorer{result: scoring.Result{Outcome: tc.outcome, Err: errors.New(string(tc.outcome))}}

			_, err := f.exchange(scorer).Generate(context.Background())
			xerr := requireKind(t, err, tc.kind)
			assert.Equal(t, StateScoring, xerr.State)
			assert.Empty(t, f.persisted(t))
		})
	}
}

type failingSource struct{}

func (failingSource) List(context.Context, *sdk.Filter) ([]schema.EmissionRecord, error) {
	return nil, errors.New("connection refused")
}

func TestGenerate_FetchFailure(t *testing.T) {
	f := newFixture(t)
	scorer := emits("[]")
	x := New(failingSource{}, f.ledger.Recommendations, scorer)

	_, err := x.Generate(context.Background())
	xerr := requireKind(t, err, KindStoreUnavailable)
	assert.Equal(t, StateFetching, xerr.State)
	assert.Zero(t, scorer.calls(), "the scorer is never started")
}

// flakySink fails the creates whose index is listed.
type flakySink struct {
	next  RecommendationSink
	fail  map[int]bool
	calls int
}

func (s *flakySink) Create(ctx context.Context, rec schema.RecommendationRecord) (string, error) {
	i := s.calls
	s.calls++
	if s.fail[i] {
		return "", errors.New("quota exceeded")
	}
	return s.next.Create(ctx, rec)
}

const threeItems = `[
	{"userId":"u1","category":"A","recommendationText":"one","impactEstimate":1},
	{"userId":"u1","category":"B","recommendationText":"two","impactEstimate":2},
	{"userId":"u1","category":"C","recommendationText":"three","impactEstimate":3}
]`

func TestGenerate_PartialPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	sink := &flakySink{next: f.ledger.Recommendations, fail: map[int]bool{1: true}}
	x := New(f.ledger.Emissions, sink, emits(threeItems), WithClock(func() time.Time { return stampedAt }))

	report, err := x.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sink.calls, "later items are still attempted")
	require.Len(t, report.Saved, 2)
	assert.Equal(t, 0, report.Saved[0].Index)
	assert.Equal(t, 2, report.Saved[1].Index)
	assert.Equal(t, []ItemFailure{{Index: 1, Error: "quota exceeded"}}, report.Failed)
	assert.Len(t, report.Recommendations, 3)

	recs := f.persisted(t)
	require.Len(t, recs, 2)
	assert.Equal(t, "one", recs[0].RecommendationText)
	assert.Equal(t, "three", recs[1].RecommendationText)
}

func TestGenerate_AllCreatesFail(t *testing.T) {
	f := newFixture(t)
	sink := &flakySink{next: f.ledger.Recommendations, fail: map[int]bool{0: true, 1: true, 2: true}}
	x := New(f.ledger.Emissions, sink, emits(threeItems))

	report, err := x.Generate(context.Background())
	xerr := requireKind(t, err, KindStoreUnavailable)
	assert.Equal(t, StatePersisting, xerr.State)
	require.NotNil(t, report)
	assert.Equal(t, StateFailed, report.State)
	assert.Len(t, report.Failed, 3)
	assert.Empty(t, report.Saved)
}

// cancelingSink cancels the run after its first successful create.
type cancelingSink struct {
	next   RecommendationSink
	cancel context.CancelFunc
}

func (s *cancelingSink) Create(ctx context.Context, rec schema.RecommendationRecord) (string, error) {
	id, err := s.next.Create(ctx, rec)
	s.cancel()
	return id, err
}

func TestGenerate_CanceledWhilePersisting(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &cancelingSink{next: f.ledger.Recommendations, cancel: cancel}
	x := New(f.ledger.Emissions, sink, emits(threeItems), WithPolicy(PolicyConcurrent))

	report, err := x.Generate(ctx)
	requireKind(t, err, KindCanceled)
	require.NotNil(t, report)
	assert.Len(t, report.Saved, 1)
	require.Len(t, report.Failed, 2)
	assert.Equal(t, 1, report.Failed[0].Index)
	assert.Equal(t, 2, report.Failed[1].Index)
	assert.Len(t, f.persisted(t), 1)
}

func TestGenerate_Transitions(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	observe := func(_, to State) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	}

	f := newFixture(t)
	_, err := f.exchange(emits("[]"), WithObserver(observe)).Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []State{StateFetching, StateScoring, StateParsingOutput, StatePersisting, StateDone}, seen)

	seen = nil
	_, err = f.exchange(emits("nope"), WithObserver(observe)).Generate(context.Background())
	require.Error(t, err)
	assert.Equal(t, []State{StateFetching, StateScoring, StateParsingOutput, StateFailed}, seen)
}

func TestMachine_RejectsIllegalTransition(t *testing.T) {
	m := newMachine(nil)
	assert.Panics(t, func() { m.to(StatePersisting) })
}

// blockingScorer holds every run until released.
func blockingScorer(entered chan<- struct{}, release <-chan struct{}) *fakeScorer {
	return &fakeScorer{run: func(ctx context.Context, _ []byte) scoring.Result {
		entered <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return scoring.Result{Outcome: scoring.Canceled, Err: ctx.Err()}
		}
		return scoring.Result{Outcome: scoring.Success, Stdout: []byte(`[{"userId":"u1","category":"A","recommendationText":"one","impactEstimate":1}]`)}
	}}
}

func TestGenerate_SharedPolicyCoalescesOverlappingCalls(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	scorer := blockingScorer(entered, release)
	x := f.exchange(scorer)

	var wg sync.WaitGroup
	var failures atomic.Int32
	reports := make([]*Report, 2)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := x.Generate(context.Background())
			if err != nil {
				failures.Add(1)
			}
			reports[i] = r
		}()
		if i == 0 {
			<-entered
		}
	}

	// Give the second caller time to join the in-flight run.
	time.Sleep(100 * time.Millisecond)
	runtime.Gosched()
	close(release)
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, 1, scorer.calls())
	assert.Len(t, f.persisted(t), 1, "one run, one set of recommendations")
	assert.Same(t, reports[0], reports[1])
}

func TestGenerate_ConcurrentPolicyRunsEveryCall(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	scorer := blockingScorer(entered, release)
	x := f.exchange(scorer, WithPolicy(PolicyConcurrent))

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := x.Generate(context.Background())
			assert.NoError(t, err)
		}()
	}
	<-entered
	<-entered
	close(release)
	wg.Wait()

	assert.Equal(t, 2, scorer.calls())
	assert.Len(t, f.persisted(t), 2, "duplicates are accepted under this policy")
}

func TestGenerate_CallerCancelWhileWaiting(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	x := f.exchange(blockingScorer(entered, release))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := x.Generate(ctx)
		done <- err
	}()
	<-entered
	cancel()

	select {
	case err := <-done:
		requireKind(t, err, KindCanceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Generate did not return after cancel")
	}
	close(release)
	assert.Empty(t, f.persisted(t))
}

func (x *Exchange) waiting() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.flight == nil {
		return 0
	}
	return x.flight.waiters
}

func TestGenerate_SharedRunOutlivesFirstCallerCancel(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	scorer := blockingScorer(entered, release)
	x := f.exchange(scorer)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := x.Generate(firstCtx)
		firstErr <- err
	}()
	<-entered

	type outcome struct {
		report *Report
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		r, err := x.Generate(context.Background())
		second <- outcome{r, err}
	}()
	require.Eventually(t, func() bool { return x.waiting() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		requireKind(t, err, KindCanceled)
	case <-time.After(2 * time.Second):
		t.Fatal("first caller did not return after cancel")
	}
	assert.Equal(t, 1, x.waiting())

	close(release)
	select {
	case got := <-second:
		require.NoError(t, got.err)
		require.NotNil(t, got.report)
		assert.Len(t, got.report.Saved, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not get the shared report")
	}
	assert.Equal(t, 1, scorer.calls())
	assert.Len(t, f.persisted(t), 1)
}

func TestGenerate_WithProcessRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("scorer script needs a POSIX shell")
	}
	f := newFixture(t)
	f.addEmission(t, "u1", 12.5)

	// The script drains stdin before answering.
	runner := &scoring.Runner{
		Command: "sh",
		Args:    []string{"-c", `cat >/dev/null; printf '[{"userId":"u1","category":"Transportation","recommendationText":"Carpool more","impactEstimate":3.2,"status":"ignored"}]'`},
		Timeout: 5 * time.Second,
	}

	report, err := f.exchange(runner).Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Saved, 1)

	recs := f.persisted(t)
	require.Len(t, recs, 1)
	assert.Equal(t, schema.StatusPending, recs[0].Status)
}
