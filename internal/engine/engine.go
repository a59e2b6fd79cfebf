// Package engine runs the polling loop: resolve the watchlist, fetch quote
// batches, evaluate each symbol, and emit results and alerts to consumers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vtqube/tbqwatch/internal/logger"
	"github.com/vtqube/tbqwatch/internal/models"
	"github.com/vtqube/tbqwatch/internal/monitor"
)

// QuoteSource fetches live quotes for one batch of instruments.
type QuoteSource interface {
	QuoteBatch(ctx context.Context, refs []models.InstrumentRef) (map[string]models.QuoteSnapshot, error)
}

// Resolver maps watchlist symbols to catalog instruments.
type Resolver interface {
	Resolve(symbol string) (models.InstrumentRef, error)
}

// Calendar gates polling on trading sessions.
type Calendar interface {
	IsOpen(now time.Time) bool
	AfterClose(now time.Time) bool
}

// CredentialProvider exposes the broker session token. Start refuses to run
// without one.
type CredentialProvider interface {
	CurrentToken() string
}

// Callbacks are invoked synchronously from the polling goroutine. Nil
// callbacks are skipped.
type Callbacks struct {
	// OnBatchResult receives all evaluated results of one tick in a single
	// call, after every symbol has been processed.
	OnBatchResult func(results []models.SymbolResult)

	// OnAlert receives one call per fired alert kind, after OnBatchResult.
	OnAlert func(result models.SymbolResult, kind models.AlertKind)

	OnStatusChanged func(status models.EngineStatus)

	// OnError receives non-start errors. Only models.ScopeFatal implies the
	// engine has stopped.
	OnError func(scope models.ErrorScope, err error)
}

// Config holds the engine's polling and evaluation parameters.
type Config struct {
	PollInterval     time.Duration
	BatchSize        int
	BatchParallelism int
	Thresholds       monitor.Thresholds
}

// Engine polls quotes for a watchlist at a fixed interval and evaluates
// every symbol against its rolling state.
type Engine struct {
	cfg       Config
	resolver  Resolver
	quotes    QuoteSource
	calendar  Calendar
	creds     CredentialProvider
	callbacks Callbacks
	evaluator *monitor.Evaluator

	mu        sync.Mutex
	status    models.EngineStatus
	watchlist []string
	pending   []string // applied at the next tick boundary
	states    map[string]*models.SignalState
	day       time.Time

	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

// New creates a stopped engine.
func New(cfg Config, resolver Resolver, quotes QuoteSource, calendar Calendar, creds CredentialProvider, callbacks Callbacks) (*Engine, error) {
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive: %w", models.ErrConfiguration)
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1: %w", models.ErrConfiguration)
	}
	if cfg.BatchParallelism < 1 {
		return nil, fmt.Errorf("batch parallelism must be at least 1: %w", models.ErrConfiguration)
	}
	if cfg.Thresholds.SpikeThreshold < 0 || cfg.Thresholds.StabilityThreshold < 0 {
		return nil, fmt.Errorf("thresholds must not be negative: %w", models.ErrConfiguration)
	}
	if cfg.Thresholds.Cooldown < 0 || cfg.Thresholds.StabilityDuration < 0 {
		return nil, fmt.Errorf("durations must not be negative: %w", models.ErrConfiguration)
	}

	return &Engine{
		cfg:       cfg,
		resolver:  resolver,
		quotes:    quotes,
		calendar:  calendar,
		creds:     creds,
		callbacks: callbacks,
		evaluator: monitor.New(cfg.Thresholds),
		status:    models.StatusStopped,
		states:    make(map[string]*models.SignalState),
		now:       time.Now,
	}, nil
}

// Status returns the engine's current run state.
func (e *Engine) Status() models.EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// SetWatchlist replaces the monitored symbols. The change takes effect at
// the next tick boundary; the in-flight tick finishes on the old list.
// Rolling state of symbols present in both lists is preserved.
func (e *Engine) SetWatchlist(symbols []string) {
	cp := make([]string, len(symbols))
	copy(cp, symbols)

	e.mu.Lock()
	e.pending = cp
	e.mu.Unlock()
}

// Watchlist returns the currently active symbol list.
func (e *Engine) Watchlist() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]string, len(e.watchlist))
	copy(cp, e.watchlist)
	return cp
}

// Start launches the polling loop. Only a stopped engine can start, and only
// with a non-empty watchlist and a broker session token.
func (e *Engine) Start() error {
	if e.creds != nil && e.creds.CurrentToken() == "" {
		return fmt.Errorf("cannot start: %w", models.ErrAuth)
	}

	e.mu.Lock()
	if e.status != models.StatusStopped {
		e.mu.Unlock()
		return fmt.Errorf("engine already running (status %s)", e.status)
	}
	effective := e.watchlist
	if e.pending != nil {
		effective = e.pending
	}
	if len(effective) == 0 {
		e.mu.Unlock()
		return fmt.Errorf("cannot start with an empty watchlist: %w", models.ErrConfiguration)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.status = models.StatusRunning
	e.mu.Unlock()

	e.emitStatus(models.StatusRunning)
	go e.run(ctx)
	return nil
}

// Pause suspends evaluation without tearing down the loop. Ticks elapse
// silently while paused.
func (e *Engine) Pause() error {
	return e.transition(models.StatusRunning, models.StatusPaused)
}

// Resume continues a paused engine.
func (e *Engine) Resume() error {
	return e.transition(models.StatusPaused, models.StatusRunning)
}

func (e *Engine) transition(from, to models.EngineStatus) error {
	e.mu.Lock()
	if e.status != from {
		e.mu.Unlock()
		return fmt.Errorf("cannot move to %s from %s", to, e.status)
	}
	e.status = to
	e.mu.Unlock()

	e.emitStatus(to)
	return nil
}

// Stop shuts down the polling loop, waiting up to five seconds for the
// in-flight tick to finish.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.status == models.StatusStopped {
		e.mu.Unlock()
		return errors.New("engine not running")
	}
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("polling loop did not stop within 5s")
	}

	e.mu.Lock()
	e.status = models.StatusStopped
	e.states = make(map[string]*models.SignalState) // session state dies with the loop
	e.mu.Unlock()
	e.emitStatus(models.StatusStopped)
	return nil
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	if stop := e.pollOnce(ctx); stop {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stop := e.pollOnce(ctx); stop {
				return
			}
		}
	}
}

// pollOnce runs one tick unless paused. A true return stops the loop.
func (e *Engine) pollOnce(ctx context.Context) bool {
	if e.Status() == models.StatusPaused {
		return false
	}
	return e.tick(ctx)
}

// tick performs one full polling cycle. A true return stops the loop: the
// session ended or authentication failed mid-session.
func (e *Engine) tick(ctx context.Context) bool {
	now := e.now()

	e.rolloverIfNewDay(now)

	if e.calendar.AfterClose(now) {
		logger.Info("market session ended, stopping engine")
		e.autoStop()
		return true
	}
	if !e.calendar.IsOpen(now) {
		e.markClosed()
		return false
	}
	e.markOpen()

	watchlist := e.applyPendingWatchlist()
	if len(watchlist) == 0 {
		return false
	}

	refs, keyToSymbol := e.resolveAll(watchlist)
	if len(refs) == 0 {
		return false
	}

	quotes, err := e.fetchAll(ctx, refs)
	if err != nil {
		// Only authentication failures surface here; everything else is
		// reported per batch and skipped.
		e.emitError(models.ScopeFatal, err)
		logger.Error("authentication failed mid-session: %v", err)
		e.autoStop()
		return true
	}

	results := make([]models.SymbolResult, 0, len(refs))
	for _, ref := range refs {
		snap, ok := quotes[ref.QuoteKey()]
		if !ok {
			continue
		}
		symbol := keyToSymbol[ref.QuoteKey()]
		st := e.getOrCreateState(symbol)
		results = append(results, e.evaluator.Evaluate(ref, snap, st, now))
	}

	if e.callbacks.OnBatchResult != nil {
		e.callbacks.OnBatchResult(results)
	}
	if e.callbacks.OnAlert != nil {
		for _, result := range results {
			for _, kind := range result.FiredAlerts {
				e.callbacks.OnAlert(result, kind)
			}
		}
	}
	return false
}

// rolloverIfNewDay drops all rolling state when the calendar day changes.
func (e *Engine) rolloverIfNewDay(now time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.day.IsZero() {
		e.day = day
		return
	}
	if !day.Equal(e.day) {
		logger.Info("day rollover, resetting %d symbol states", len(e.states))
		e.states = make(map[string]*models.SignalState)
		e.day = day
	}
}

func (e *Engine) applyPendingWatchlist() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		e.watchlist = e.pending
		e.pending = nil

		// Rolling state follows watchlist membership: a removed symbol starts
		// over from a fresh first observation if it ever comes back.
		kept := make(map[string]bool, len(e.watchlist))
		for _, symbol := range e.watchlist {
			kept[symbol] = true
		}
		for symbol := range e.states {
			if !kept[symbol] {
				delete(e.states, symbol)
			}
		}
	}
	cp := make([]string, len(e.watchlist))
	copy(cp, e.watchlist)
	return cp
}

// resolveAll maps watchlist symbols to instruments. Unresolvable symbols are
// reported and skipped; the tick continues with the rest.
func (e *Engine) resolveAll(watchlist []string) ([]models.InstrumentRef, map[string]string) {
	refs := make([]models.InstrumentRef, 0, len(watchlist))
	keyToSymbol := make(map[string]string, len(watchlist))
	for _, symbol := range watchlist {
		ref, err := e.resolver.Resolve(symbol)
		if err != nil {
			e.emitError(models.ScopeResolve, fmt.Errorf("resolve %s: %w", symbol, err))
			continue
		}
		refs = append(refs, ref)
		keyToSymbol[ref.QuoteKey()] = symbol
	}
	return refs, keyToSymbol
}

// fetchAll fetches quotes in size-bounded batches with limited parallelism.
// Failed batches are reported and dropped, except authentication failures,
// which abort the whole tick.
func (e *Engine) fetchAll(ctx context.Context, refs []models.InstrumentRef) (map[string]models.QuoteSnapshot, error) {
	merged := make(map[string]models.QuoteSnapshot, len(refs))
	var mergedMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BatchParallelism)

	for start := 0; start < len(refs); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(refs) {
			end = len(refs)
		}
		batch := refs[start:end]

		g.Go(func() error {
			quotes, err := e.quotes.QuoteBatch(gctx, batch)
			if err != nil {
				if errors.Is(err, models.ErrAuth) {
					return err
				}
				// A sibling auth failure or Stop cancels in-flight batches;
				// their cancellation errors are not batch failures.
				if gctx.Err() != nil || errors.Is(err, context.Canceled) {
					return nil
				}
				e.emitError(models.ScopeBatch, err)
				return nil
			}
			mergedMu.Lock()
			for key, snap := range quotes {
				merged[key] = snap
			}
			mergedMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (e *Engine) getOrCreateState(symbol string) *models.SignalState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[symbol]
	if !ok {
		st = models.NewSignalState(symbol)
		e.states[symbol] = st
	}
	return st
}

// autoStop transitions to Stopped from inside the polling loop.
func (e *Engine) autoStop() {
	e.mu.Lock()
	e.status = models.StatusStopped
	e.states = make(map[string]*models.SignalState)
	e.mu.Unlock()
	e.emitStatus(models.StatusStopped)
}

// markClosed flags a pre-open session gap without stopping the loop.
func (e *Engine) markClosed() {
	e.mu.Lock()
	if e.status != models.StatusRunning {
		e.mu.Unlock()
		return
	}
	e.status = models.StatusMarketClosed
	e.mu.Unlock()
	e.emitStatus(models.StatusMarketClosed)
}

// markOpen returns to Running once the session opens.
func (e *Engine) markOpen() {
	e.mu.Lock()
	if e.status != models.StatusMarketClosed {
		e.mu.Unlock()
		return
	}
	e.status = models.StatusRunning
	e.mu.Unlock()
	e.emitStatus(models.StatusRunning)
}

func (e *Engine) emitStatus(status models.EngineStatus) {
	if e.callbacks.OnStatusChanged != nil {
		e.callbacks.OnStatusChanged(status)
	}
}

func (e *Engine) emitError(scope models.ErrorScope, err error) {
	if e.callbacks.OnError != nil {
		e.callbacks.OnError(scope, err)
	}
}
