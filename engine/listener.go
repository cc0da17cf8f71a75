package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"leaderwatch/core"
)

var (
	// ErrBootstrap wraps failures before the listener starts consuming changes.
	ErrBootstrap = errors.New("listener bootstrap failed")
	// ErrStreamFailed wraps an unrecoverable change-stream error.
	ErrStreamFailed = errors.New("change stream failed")
	ErrNilStore     = errors.New("listener requires a store")
	ErrNilPusher    = errors.New("listener requires a pusher")
	ErrStarted      = errors.New("listener already started")
)

// State is the listener lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateBootstrapping
	StateListening
	StateProcessing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBootstrapping:
		return "bootstrapping"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options tunes a Listener. The zero value processes overtaken users one at a
// time and logs through slog.Default.
type Options struct {
	Logger *slog.Logger
	Bus    *EventBus
	// ParallelDispatch notifies the overtaken users of one change
	// concurrently. Distinct changes are still processed in stream order.
	ParallelDispatch bool
	// MaxParallel bounds ParallelDispatch; <= 0 means unbounded.
	MaxParallel int
}

// Listener drives classify, resolve, dispatch and reconcile for every change
// delivered by the store's stream.
type Listener struct {
	store      Store
	cache      *ScoreCache
	resolver   *Resolver
	dispatcher *Dispatcher
	reconciler *Reconciler
	bus        *EventBus
	log        *slog.Logger
	parallel   bool
	limit      int
	state      atomic.Int32
}

// NewListener wires the pipeline. cache may be nil, in which case a fresh one
// is created.
func NewListener(store Store, pusher Pusher, cache *ScoreCache, opts Options) (*Listener, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if pusher == nil {
		return nil, ErrNilPusher
	}
	if cache == nil {
		cache = NewScoreCache()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		store:      store,
		cache:      cache,
		resolver:   NewResolver(store),
		dispatcher: NewDispatcher(store, pusher),
		reconciler: NewReconciler(store),
		bus:        opts.Bus,
		log:        logger,
		parallel:   opts.ParallelDispatch,
		limit:      opts.MaxParallel,
	}, nil
}

// State reports the current lifecycle state.
func (l *Listener) State() State { return State(l.state.Load()) }

// Cache exposes the score cache for read-only inspection.
func (l *Listener) Cache() *ScoreCache { return l.cache }

func (l *Listener) setState(s State) { l.state.Store(int32(s)) }

// Run bootstraps the cache and consumes the change stream until the context
// is cancelled or the stream fails. The subscription is opened before the bulk
// load and no change is classified until the load completes, so the cache
// ends up consistent with the store. An increase committed between Watch and
// LoadScores is already in the snapshot: its streamed change classifies as a
// no-op and no overtake notifications are sent for it. Loading first would
// instead miss the change altogether.
func (l *Listener) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateUninitialized), int32(StateBootstrapping)) {
		return ErrStarted
	}
	l.log.Info("opening leaderboard change stream")
	stream, err := l.store.Watch(ctx)
	if err != nil {
		l.setState(StateTerminated)
		return fmt.Errorf("%w: open change stream: %w", ErrBootstrap, err)
	}
	defer stream.Close()

	l.log.Info("loading initial scores")
	records, err := l.store.LoadScores(ctx)
	if err != nil {
		l.setState(StateTerminated)
		return fmt.Errorf("%w: load scores: %w", ErrBootstrap, err)
	}
	l.cache.Load(records)
	l.log.Info("initial scores loaded", "total", l.cache.Len())

	l.setState(StateListening)
	for {
		batch, err := stream.Next(ctx)
		if err != nil {
			l.setState(StateTerminated)
			if ctx.Err() != nil {
				l.log.Info("listener stopped", "reason", ctx.Err())
				return ctx.Err()
			}
			l.log.Error("change stream failed", "error", err)
			return fmt.Errorf("%w: %w", ErrStreamFailed, err)
		}
		l.setState(StateProcessing)
		// in-flight work finishes even if ctx is cancelled mid-batch
		work := context.WithoutCancel(ctx)
		for _, ev := range batch {
			l.HandleChange(work, ev)
		}
		l.setState(StateListening)
	}
}

// ChangeReport summarizes the processing of one change.
type ChangeReport struct {
	Classification Classification
	Overtaken      []core.UserID
	Targets        []TargetReport
	Err            error
}

// TargetReport summarizes notification delivery to one overtaken user.
type TargetReport struct {
	Target    core.UserID
	Delivered int
	Failed    int
	Pruned    []string
	Err       error
}

// HandleChange runs the full pipeline for one change. Errors are logged and
// recorded in the report; they never stop the caller.
func (l *Listener) HandleChange(ctx context.Context, ev core.ChangeEvent) ChangeReport {
	l.publish(ctx, core.NewChangeReceived(ev.Record.UserID, ev.Kind))
	if err := core.ValidateUserID(ev.Record.UserID); err != nil {
		l.log.Warn("ignoring change without user id", "kind", ev.Kind)
		return ChangeReport{Err: err}
	}
	c := Classify(l.cache, ev)
	report := ChangeReport{Classification: c}
	if !c.Increase {
		return report
	}
	log := l.log.With("actor", c.UserID, "old_score", c.OldScore, "new_score", c.NewScore)
	log.Info("score increased", "name", c.Name)
	l.publish(ctx, core.NewScoreIncreased(c.UserID, c.Name, c.OldScore, c.NewScore))

	overtaken, err := l.resolver.Resolve(ctx, c)
	if err != nil {
		log.Error("overtake resolution failed", "error", err)
		report.Err = err
		return report
	}
	report.Overtaken = overtaken
	if len(overtaken) == 0 {
		log.Info("no one overtaken")
		return report
	}

	n := OvertakeNotification(c.Name, c.NewScore)
	report.Targets = make([]TargetReport, len(overtaken))
	if l.parallel && len(overtaken) > 1 {
		var g errgroup.Group
		if l.limit > 0 {
			g.SetLimit(l.limit)
		}
		for i, target := range overtaken {
			g.Go(func() error {
				report.Targets[i] = l.notifyTarget(ctx, log, c, target, n)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, target := range overtaken {
			report.Targets[i] = l.notifyTarget(ctx, log, c, target, n)
		}
	}
	return report
}

func (l *Listener) notifyTarget(ctx context.Context, log *slog.Logger, c Classification, target core.UserID, n core.Notification) TargetReport {
	log = log.With("target", target)
	tr := TargetReport{Target: target}
	l.publish(ctx, core.NewUserOvertaken(c.UserID, target, c.Name, c.OldScore, c.NewScore))

	tokens, outcomes, err := l.dispatcher.Dispatch(ctx, target, n)
	if err != nil {
		log.Error("notification dispatch failed", "error", err)
		tr.Err = err
		return tr
	}
	if len(tokens) == 0 {
		log.Debug("target has no device tokens")
		return tr
	}

	var lastFailure core.FailureKind
	for _, o := range outcomes {
		if o.Success() {
			tr.Delivered++
			continue
		}
		tr.Failed++
		lastFailure = o.Failure
		log.Debug("token delivery failed", "failure", o.Failure, "error", o.Err)
	}
	log.Info("notifications sent", "success", tr.Delivered, "failure", tr.Failed)
	if tr.Delivered > 0 {
		l.publish(ctx, core.NewNotificationDelivered(c.UserID, target, tr.Delivered))
	}
	if tr.Failed > 0 {
		l.publish(ctx, core.NewNotificationFailed(c.UserID, target, lastFailure, tr.Failed))
	}

	pruned, err := l.reconciler.Reconcile(ctx, target, tokens, outcomes)
	if err != nil {
		log.Error("invalid token removal failed", "error", err)
		tr.Err = err
		return tr
	}
	if len(pruned) > 0 {
		log.Info("removed invalid tokens", "count", len(pruned), "tokens", pruned)
		tr.Pruned = pruned
		l.publish(ctx, core.NewTokensPruned(target, len(pruned)))
	}
	return tr
}

func (l *Listener) publish(ctx context.Context, ev core.Event) {
	if l.bus != nil {
		l.bus.Publish(ctx, ev)
	}
}
