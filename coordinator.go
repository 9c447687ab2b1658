package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Coordinator is the only entry point the transports use. Every call names
// its session explicitly; nothing is remembered between calls.
type Coordinator struct {
	store    *SnapshotStore
	backend  SavePointBackend
	locks    *LockManager
	cache    *SessionCache
	scorer   *Scorer
	index    *VersionIndex
	proposer EditProposer
	config   *ConfigHandle
	logger   *slog.Logger

	// background tracks detached work (indexing, late scores) for Close.
	background sync.WaitGroup
}

// CoordinatorOption configures optional collaborators.
type CoordinatorOption func(*Coordinator)

func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

func WithScorer(s *Scorer) CoordinatorOption {
	return func(c *Coordinator) { c.scorer = s }
}

func WithVersionIndex(x *VersionIndex) CoordinatorOption {
	return func(c *Coordinator) { c.index = x }
}

func WithProposer(p EditProposer) CoordinatorOption {
	return func(c *Coordinator) { c.proposer = p }
}

// NewCoordinator wires the engine around backend.
func NewCoordinator(backend SavePointBackend, config *ConfigHandle, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{backend: backend, config: config, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.store = NewSnapshotStore(backend, config, c.logger)
	c.locks = NewLockManager(backend, config, c.logger)
	c.cache = NewSessionCache(c.store, backend, c.locks, config, c.logger)

	c.store.OnRestore(func(session string, _ *SavePoint) {
		c.cache.Invalidate(session)
	})
	if c.index != nil {
		c.store.OnPrune(func(session string, versions []int) {
			if err := c.index.Remove(context.Background(), session, versions); err != nil {
				c.logger.Warn("failed to drop pruned versions from index", "session", session, "error", err)
			}
		})
	}
	return c
}

// Close waits for background work to finish.
func (c *Coordinator) Close() {
	c.background.Wait()
}

func (c *Coordinator) startSpan(ctx context.Context, name, session string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("deck.session", session))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Mutate applies op to the session's deck. The sequence is: take the
// session lock, load the live deck, apply the operation to a scratch copy,
// swap it in, dispatch scoring for new content, wait (bounded) for that
// pass, record a save point, release the lock. A failed operation leaves
// the live deck untouched.
func (c *Coordinator) Mutate(ctx context.Context, session string, op Operation) (out *MutationOutcome, err error) {
	if err := validateSessionID(session); err != nil {
		return nil, err
	}
	// A client going away must not abandon a mutation half way.
	ctx = context.WithoutCancel(ctx)
	ctx, span := c.startSpan(ctx, "deck.mutate", session, attribute.String("deck.operation", string(op.Kind)))
	start := time.Now()
	defer func() {
		mutationsTotal.WithLabelValues(string(op.Kind), resultLabel(err)).Inc()
		mutationDuration.WithLabelValues(string(op.Kind)).Observe(time.Since(start).Seconds())
		endSpan(span, err)
	}()

	token, err := c.locks.Acquire(ctx, session)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := c.locks.Release(ctx, session, token); rerr != nil {
			c.logger.Error("failed to release session lock", "session", session, "error", rerr)
		}
	}()

	previous, book, err := c.cache.Get(ctx, session)
	if err != nil {
		return nil, err
	}
	result, err := ApplyOperation(previous, op)
	if err != nil {
		return nil, err
	}

	jobs := c.pendingJobs(result.Deck, book)
	live := c.cache.Swap(session, result.Deck, book)
	span.SetAttributes(attribute.Int("deck.slides", len(live.Slides)), attribute.Int("deck.scoring_jobs", len(jobs)))

	if len(jobs) > 0 {
		// Late scores outlive this request; Close waits for them.
		scoreCtx := context.WithoutCancel(ctx)
		c.background.Add(1)
		done := c.scorer.Dispatch(ctx, session, jobs,
			func(hash string, score float64) {
				if err := c.UpdateScore(scoreCtx, session, hash, score); err != nil {
					c.logger.Warn("failed to record score", "session", session, "hash", hash, "error", err)
				}
			},
			func(hash string) {
				book.ClearPending(hash)
				c.cache.Refresh(session)
			})
		go func() {
			<-done
			c.background.Done()
		}()
		c.waitForScoring(done)
	}

	// Snapshot whatever statuses the scoring pass reached.
	snapshot, _, err := c.cache.Get(ctx, session)
	if err != nil {
		return nil, err
	}
	version, err := c.store.Create(ctx, session, snapshot, book.Snapshot(), result.Description)
	if err != nil {
		c.cache.Swap(session, previous, book)
		return nil, err
	}
	c.indexAsync(session, version)

	c.logger.Info("deck mutated",
		"session", session,
		"operation", op.Kind,
		"version", version,
		"slides", len(snapshot.Slides),
		"repairs", len(result.Repairs))
	return &MutationOutcome{
		View:        snapshot.View(session),
		Version:     version,
		Description: result.Description,
		Repairs:     result.Repairs,
	}, nil
}

// pendingJobs marks every unscored hash of deck as pending and returns one
// job per distinct hash. It is empty when scoring is off.
func (c *Coordinator) pendingJobs(deck *Deck, book *ScoreBook) []scoreJob {
	if !c.scorer.Enabled() {
		return nil
	}
	var jobs []scoreJob
	seen := map[string]bool{}
	for _, s := range deck.Slides {
		if seen[s.ContentHash] {
			continue
		}
		seen[s.ContentHash] = true
		if book.MarkPending(s.ContentHash) {
			jobs = append(jobs, scoreJob{hash: s.ContentHash, html: s.HTML})
		}
	}
	return jobs
}

func (c *Coordinator) waitForScoring(done <-chan struct{}) {
	wait := c.config.Load().Deck.ScoringWait
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		c.logger.Debug("scoring still running, snapshotting pending statuses", "wait", wait)
	}
}

func (c *Coordinator) indexAsync(session string, version int) {
	if c.index == nil {
		return
	}
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		ctx := context.Background()
		sp, err := c.store.Preview(ctx, session, version)
		if err != nil {
			// Already pruned or restored away.
			return
		}
		if err := c.index.Add(ctx, sp); err != nil {
			c.logger.Warn("failed to index save point", "session", session, "version", version, "error", err)
		}
	}()
}

// GetCurrentDeck returns the live deck without taking the mutation lock.
func (c *Coordinator) GetCurrentDeck(ctx context.Context, session string) (DeckView, error) {
	if err := validateSessionID(session); err != nil {
		return DeckView{}, err
	}
	deck, _, err := c.cache.Get(ctx, session)
	if err != nil {
		return DeckView{}, err
	}
	return deck.View(session), nil
}

// ListVersions returns the session's save points newest first.
func (c *Coordinator) ListVersions(ctx context.Context, session string) ([]VersionSummary, error) {
	return c.store.List(ctx, session)
}

// PreviewVersion renders a save point without touching live state.
func (c *Coordinator) PreviewVersion(ctx context.Context, session string, version int) (DeckView, error) {
	sp, err := c.store.Preview(ctx, session, version)
	if err != nil {
		return DeckView{}, err
	}
	return sp.Deck.withVerification(NewScoreBook(sp.Verification)).View(session), nil
}

// RestoreVersion makes version the live deck and permanently deletes every
// later save point. Transports must confirm with the user first.
func (c *Coordinator) RestoreVersion(ctx context.Context, session string, version int) (out *RestoreOutcome, err error) {
	if err := validateSessionID(session); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	ctx, span := c.startSpan(ctx, "deck.restore", session, attribute.Int("deck.version", version))
	defer func() { endSpan(span, err) }()

	// Restoring under the lock keeps it from interleaving with a mutation.
	token, err := c.locks.Acquire(ctx, session)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := c.locks.Release(ctx, session, token); rerr != nil {
			c.logger.Error("failed to release session lock", "session", session, "error", rerr)
		}
	}()

	sp, deleted, err := c.store.Restore(ctx, session, version)
	if err != nil {
		return nil, err
	}
	deck, _, err := c.cache.Get(ctx, session)
	if err != nil {
		return nil, err
	}
	return &RestoreOutcome{View: deck.View(session), Version: sp.Version, DeletedCount: deleted}, nil
}

// UpdateScore is the write-back entry point of the quality judge. It is
// independent of the mutation lock: scores are per content hash.
func (c *Coordinator) UpdateScore(ctx context.Context, session, hash string, score float64) error {
	if err := validateSessionID(session); err != nil {
		return err
	}
	if hash == "" {
		return errors.New("content hash is required")
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return fmt.Errorf("score %v is not a finite number", score)
	}
	if err := c.backend.PutScore(ctx, session, hash, score); err != nil {
		return fmt.Errorf("failed to persist score: %w", err)
	}
	c.cache.RecordScore(session, hash, score)
	return nil
}

// SearchVersions finds save points whose description or slides match query.
func (c *Coordinator) SearchVersions(ctx context.Context, session, query string, limit int) ([]VersionHit, error) {
	if err := validateSessionID(session); err != nil {
		return nil, err
	}
	if c.index == nil {
		return nil, errors.New("version search is not configured")
	}
	return c.index.Search(ctx, session, query, limit)
}

// ApplyIntent asks the proposer for an operation and applies it.
func (c *Coordinator) ApplyIntent(ctx context.Context, session, intent string) (*MutationOutcome, Operation, error) {
	if c.proposer == nil {
		return nil, Operation{}, errors.New("edit proposer is not configured")
	}
	view, err := c.GetCurrentDeck(ctx, session)
	if err != nil {
		return nil, Operation{}, err
	}
	op, err := c.proposer.ProposeEdit(ctx, view, intent)
	if err != nil {
		return nil, Operation{}, err
	}
	out, err := c.Mutate(ctx, session, op)
	return out, op, err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrOutOfRange), errors.Is(err, ErrInvalidPermutation), errors.Is(err, ErrUnknownOperation):
		return "input"
	case errors.Is(err, ErrValidationFailed):
		return "integrity"
	default:
		return "error"
	}
}
