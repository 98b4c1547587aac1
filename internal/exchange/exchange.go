// Package exchange generates recommendations by handing the emission snapshot
// to an external scoring process and storing what it returns.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/celerix-dev/carbon-ledger/internal/observability"
	"github.com/celerix-dev/carbon-ledger/internal/scoring"
	"github.com/celerix-dev/carbon-ledger/pkg/schema"
	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

// EmissionSource lists emission records.
type EmissionSource interface {
	List(ctx context.Context, filter *sdk.Filter) ([]schema.EmissionRecord, error)
}

// RecommendationSink stores one recommendation and returns its id.
type RecommendationSink interface {
	Create(ctx context.Context, rec schema.RecommendationRecord) (string, error)
}

// Scorer runs the scoring process once.
type Scorer interface {
	Run(ctx context.Context, input []byte) scoring.Result
}

// Policy decides what overlapping Generate calls do.
type Policy string

const (
	// PolicyShared lets overlapping calls join the run already in flight.
	PolicyShared Policy = "shared"
	// PolicyConcurrent runs every call independently; overlapping calls may
	// store duplicate recommendations.
	PolicyConcurrent Policy = "concurrent"
)

// Saved is a recommendation that was stored.
type Saved struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
}

// ItemFailure is a recommendation the store rejected.
type ItemFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Report is the result of one generation. Recommendations holds the scorer's
// output exactly as emitted, before stamping.
type Report struct {
	Recommendations []json.RawMessage `json:"recommendations"`
	Saved           []Saved           `json:"saved"`
	Failed          []ItemFailure     `json:"failed"`
	State           State             `json:"-"`
}

// Exchange runs recommendation generations.
type Exchange struct {
	emissions       EmissionSource
	recommendations RecommendationSink
	scorer          Scorer

	now      func() time.Time
	logger   *zap.Logger
	observer Observer
	policy   Policy
	group    singleflight.Group

	mu      sync.Mutex
	flight  *flight
	flights uint64
}

// flight is one shared generation and the number of callers waiting on it.
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Option configures an Exchange.
type Option func(*Exchange)

// WithClock sets the clock used to stamp recommendations.
func WithClock(now func() time.Time) Option {
	return func(x *Exchange) { x.now = now }
}

// WithLogger sets the logger. The default is zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(x *Exchange) { x.logger = l }
}

// WithObserver registers a callback for state transitions.
func WithObserver(o Observer) Option {
	return func(x *Exchange) { x.observer = o }
}

// WithPolicy sets the concurrency policy. The default is PolicyShared.
func WithPolicy(p Policy) Option {
	return func(x *Exchange) { x.policy = p }
}

func New(emissions EmissionSource, recommendations RecommendationSink, scorer Scorer, opts ...Option) *Exchange {
	x := &Exchange{
		emissions:       emissions,
		recommendations: recommendations,
		scorer:          scorer,
		now:             time.Now,
		policy:          PolicyShared,
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.logger == nil {
		x.logger = zap.L()
	}
	return x
}

// Generate runs one generation: fetch every emission, score them, and store
// each returned recommendation as Pending. Failures before persistence store
// nothing. Per-item store failures are listed in the report; if every item
// fails, or ctx is canceled while storing, the report is returned together
// with an *Error. Under PolicyShared a run is canceled only after every
// caller waiting on it has returned.
func (x *Exchange) Generate(ctx context.Context) (*Report, error) {
	if x.policy != PolicyShared {
		return x.run(ctx)
	}

	f, ch := x.join(ctx)
	select {
	case res := <-ch:
		x.leave(f)
		report, _ := res.Val.(*Report)
		if res.Shared {
			x.logger.Debug("joined in-flight generation", zap.String("flight", f.key))
		}
		return report, res.Err
	case <-ctx.Done():
		x.leave(f)
		return nil, &Error{Kind: KindCanceled, State: StateIdle, Err: ctx.Err()}
	}
}

// join attaches the caller to the generation in flight, starting one if
// none is. The run does not inherit the caller's cancellation.
func (x *Exchange) join(ctx context.Context) (*flight, <-chan singleflight.Result) {
	x.mu.Lock()
	defer x.mu.Unlock()
	f := x.flight
	if f == nil {
		x.flights++
		f = &flight{key: strconv.FormatUint(x.flights, 10)}
		f.ctx, f.cancel = context.WithCancel(context.WithoutCancel(ctx))
		x.flight = f
	}
	f.waiters++
	ch := x.group.DoChan(f.key, func() (any, error) {
		defer x.land(f)
		return x.run(f.ctx)
	})
	return f, ch
}

// leave drops one waiter. A run nobody waits for any more is canceled and
// later callers start a fresh one.
func (x *Exchange) leave(f *flight) {
	x.mu.Lock()
	defer x.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if x.flight == f {
		x.flight = nil
	}
}

func (x *Exchange) land(f *flight) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.flight == f {
		x.flight = nil
	}
}

func (x *Exchange) run(ctx context.Context) (*Report, error) {
	m := newMachine(x.observer)
	log := x.logger.With(zap.String("op", "generate_recommendations"))

	m.to(StateFetching)
	emissions, err := x.emissions.List(ctx, nil)
	if err != nil {
		return nil, x.fail(m, ctxKind(ctx, KindStoreUnavailable), eris.Wrap(err, "list emissions"))
	}
	payload, err := encodePayload(emissions)
	if err != nil {
		return nil, x.fail(m, KindStoreUnavailable, eris.Wrap(err, "encode emissions"))
	}
	log.Info("scoring emissions", zap.Int("emissions", len(emissions)), zap.Int("payload_bytes", len(payload)))

	m.to(StateScoring)
	res := x.scorer.Run(ctx, payload)
	observability.RecordScorerDuration(res.Duration)
	switch res.Outcome {
	case scoring.Success:
	case scoring.SpawnError:
		return nil, x.fail(m, KindProcessSpawnFailure, res.Err)
	case scoring.ExitError:
		return nil, x.fail(m, KindProcessExecutionFailure,
			eris.Errorf("scorer exited with status %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr))))
	case scoring.Timeout:
		return nil, x.fail(m, KindTimeout, res.Err)
	case scoring.Canceled:
		return nil, x.fail(m, KindCanceled, res.Err)
	default:
		return nil, x.fail(m, KindProcessExecutionFailure, eris.Errorf("unexpected scorer outcome %q", res.Outcome))
	}

	m.to(StateParsingOutput)
	if res.Truncated {
		return nil, x.fail(m, KindMalformedOutput, eris.New("scorer output exceeded the size limit"))
	}
	raw, items, err := parseOutput(res.Stdout)
	if err != nil {
		return nil, x.fail(m, KindMalformedOutput, err)
	}
	for i, item := range items {
		if err := item.record(x.now()).Validate(); err != nil {
			return nil, x.fail(m, KindMalformedOutput, eris.Wrapf(err, "item %d", i))
		}
	}

	m.to(StatePersisting)
	report := &Report{
		Recommendations: raw,
		Saved:           make([]Saved, 0, len(items)),
		Failed:          make([]ItemFailure, 0),
	}
	var canceled error
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			canceled = err
			for j := i; j < len(items); j++ {
				report.Failed = append(report.Failed, ItemFailure{Index: j, Error: err.Error()})
			}
			break
		}
		id, err := x.recommendations.Create(ctx, item.record(x.now()))
		if err != nil {
			log.Warn("recommendation not stored", zap.Int("index", i), zap.Error(err))
			report.Failed = append(report.Failed, ItemFailure{Index: i, Error: err.Error()})
			continue
		}
		report.Saved = append(report.Saved, Saved{Index: i, ID: id})
	}
	observability.RecordPersistence(len(report.Saved), len(report.Failed))

	switch {
	case canceled != nil:
		report.State = StateFailed
		return report, x.fail(m, KindCanceled, canceled)
	case len(items) > 0 && len(report.Saved) == 0:
		report.State = StateFailed
		return report, x.fail(m, KindStoreUnavailable, eris.Errorf("all %d recommendations failed to store: %s", len(items), report.Failed[0].Error))
	}

	m.to(StateDone)
	report.State = StateDone
	observability.RecordGeneration(string(StateDone))
	observability.RecordGenerationSuccess(x.now())
	log.Info("recommendations generated",
		zap.Int("returned", len(items)),
		zap.Int("saved", len(report.Saved)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

func (x *Exchange) fail(m *machine, kind Kind, err error) error {
	state := m.state
	m.to(StateFailed)
	observability.RecordGeneration(string(kind))
	x.logger.Error("recommendation generation failed",
		zap.String("kind", string(kind)),
		zap.String("state", string(state)),
		zap.Error(err),
	)
	return &Error{Kind: kind, State: state, Err: err}
}

// ctxKind reports a canceled or expired context in place of fallback.
func ctxKind(ctx context.Context, fallback Kind) Kind {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return KindCanceled
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return KindTimeout
	}
	return fallback
}
