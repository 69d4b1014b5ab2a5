// Package sweeper finalizes confirmed bookings whose stay has ended.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rentflow/internal/database"
	"rentflow/internal/domain"
	"rentflow/internal/metrics"
	"rentflow/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LeaseKey guards against two processes sweeping at once.
const LeaseKey = "sweeper:lease"

const defaultLeaseTTL = 10 * time.Minute

// ErrAlreadyRunning is returned when another process holds the sweep lease.
var ErrAlreadyRunning = errors.New("sweep already running")

type Options struct {
	BatchSize int
	DryRun    bool
	// LookbackDays bounds the scan to end dates within that many days; 0 scans everything.
	LookbackDays int
}

// DefaultOptions returns batch 500 with a 90 day lookback.
func DefaultOptions() Options {
	return Options{
		BatchSize:    models.DefaultSweepBatchSize,
		LookbackDays: models.DefaultSweepLookbackDays,
	}
}

type Report struct {
	Candidates    int                          `json:"candidates"`
	Completed     int                          `json:"completed"`
	Skipped       int                          `json:"skipped"`
	Batches       int                          `json:"batches"`
	FailedBatches int                          `json:"failed_batches"`
	Sample        []models.CompletionCandidate `json:"sample,omitempty"`
	DryRun        bool                         `json:"dry_run"`
}

type Sweeper struct {
	store    domain.SweepStore
	catalog  domain.PropertyCatalog
	notifier domain.Notifier
	lease    domain.Limiter
	leaseTTL time.Duration
	owner    string
	now      func() time.Time
	logger   *zerolog.Logger
}

type Option func(*Sweeper)

// WithLease makes every run hold LeaseKey on limiter for ttl.
func WithLease(limiter domain.Limiter, ttl time.Duration) Option {
	return func(s *Sweeper) {
		s.lease = limiter
		if ttl > 0 {
			s.leaseTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func New(store domain.SweepStore, catalog domain.PropertyCatalog, notifier domain.Notifier, logger *zerolog.Logger, opts ...Option) *Sweeper {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "sweeper").Logger()
	s := &Sweeper{
		store:    store,
		catalog:  catalog,
		notifier: notifier,
		leaseTTL: defaultLeaseTTL,
		owner:    uuid.NewString(),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   &l,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run completes every confirmed booking whose end date is before today.
// Each batch commits on its own; a failed batch is logged and skipped, and
// the next run picks its rows up again.
func (s *Sweeper) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = models.DefaultSweepBatchSize
	}
	if opts.LookbackDays < 0 {
		return nil, domain.NewValidationError("lookback_days", "must not be negative")
	}

	if s.lease != nil {
		ok, err := s.lease.AcquireLease(ctx, LeaseKey, s.owner, s.leaseTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire sweep lease: %w", err)
		}
		if !ok {
			return nil, ErrAlreadyRunning
		}
		defer func() {
			if err := s.lease.ReleaseLease(context.WithoutCancel(ctx), LeaseKey, s.owner); err != nil {
				s.logger.Warn().Err(err).Msg("failed to release sweep lease")
			}
		}()
	}

	started := time.Now()
	defer func() { metrics.ObserveSweeperRun(time.Since(started)) }()

	now := s.now()
	today := models.DateOf(now)
	var cutoff time.Time
	if opts.LookbackDays > 0 {
		cutoff = today.AddDate(0, 0, -opts.LookbackDays)
	}

	report := &Report{DryRun: opts.DryRun}
	count, err := s.store.CountCompletionCandidates(ctx, today, cutoff)
	if err != nil {
		return nil, err
	}
	report.Candidates = count

	if opts.DryRun {
		report.Sample, err = s.store.SampleCompletionCandidates(ctx, today, cutoff, models.SweepSampleSize)
		if err != nil {
			return nil, err
		}
		s.logger.Info().Int("candidates", count).Msg("sweep dry run")
		return report, nil
	}

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ids, err := s.store.CompletionCandidateIDs(ctx, today, cutoff, afterID, opts.BatchSize)
		if err != nil {
			return report, err
		}
		if len(ids) == 0 {
			break
		}
		afterID = ids[len(ids)-1]
		report.Batches++

		completed, skipped, err := s.completeBatch(ctx, ids, now)
		if err != nil {
			report.FailedBatches++
			metrics.IncSweeperBatchFailure()
			s.logger.Error().Err(err).
				Int64("first_id", ids[0]).
				Int64("last_id", afterID).
				Msg("sweep batch failed")
			continue
		}
		report.Completed += len(completed)
		report.Skipped += skipped
		metrics.AddSweeperCompleted(len(completed))
		s.notifyCompleted(ctx, completed)
	}

	s.logger.Info().
		Int("candidates", report.Candidates).
		Int("completed", report.Completed).
		Int("skipped", report.Skipped).
		Int("failed_batches", report.FailedBatches).
		Msg("sweep finished")
	return report, nil
}

// completeBatch locks ids, re-checks each row under the lock and completes
// the ones still eligible.
func (s *Sweeper) completeBatch(ctx context.Context, ids []int64, now time.Time) ([]*models.Booking, int, error) {
	var completed []*models.Booking
	skipped := 0
	err := s.store.WithTx(ctx, func(tx domain.BookingTx) error {
		completed, skipped = nil, 0
		locked, err := tx.LockBookings(ctx, ids)
		if err != nil {
			return err
		}
		for _, b := range locked {
			from, _, err := domain.Transition(b, models.ActionComplete, now)
			if err != nil {
				// changed since selection
				skipped++
				continue
			}
			if err := tx.UpdateBookingStatus(ctx, b, from); err != nil {
				if errors.Is(err, database.ErrConcurrentModification) {
					skipped++
					continue
				}
				return fmt.Errorf("complete booking %d: %w", b.ID, err)
			}
			completed = append(completed, b)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return completed, skipped, nil
}

func (s *Sweeper) notifyCompleted(ctx context.Context, completed []*models.Booking) {
	for _, b := range completed {
		metrics.IncTransition(string(models.ActionComplete), "ok")
		if s.notifier == nil {
			continue
		}
		var property *models.Property
		if s.catalog != nil {
			p, err := s.catalog.GetProperty(ctx, b.PropertyID)
			if err != nil {
				s.logger.Warn().Err(err).Int64("property_id", b.PropertyID).Msg("property lookup failed")
			} else {
				property = p
			}
		}
		s.notifier.Notify(ctx, domain.Event{
			Action:   models.ActionComplete,
			Booking:  b,
			Property: property,
			From:     models.StatusConfirmed,
			To:       models.StatusCompleted,
		})
	}
}

// Start runs a sweep every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration, opts Options) {
	if interval <= 0 {
		interval = time.Hour
	}
	s.logger.Info().Dur("interval", interval).Msg("sweeper started")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopped")
			return
		case <-timer.C:
			if _, err := s.Run(ctx, opts); err != nil {
				if errors.Is(err, ErrAlreadyRunning) {
					s.logger.Info().Msg("sweep skipped, lease held elsewhere")
				} else if !errors.Is(err, context.Canceled) {
					s.logger.Error().Err(err).Msg("sweep failed")
				}
			}
			timer.Reset(interval)
		}
	}
}
