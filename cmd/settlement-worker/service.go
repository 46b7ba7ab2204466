package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/smartrent/smartrent-backend/pkg/config"
	"github.com/smartrent/smartrent-backend/pkg/logger"
	"github.com/smartrent/smartrent-backend/pkg/metrics"
)

const (
	defaultPollMs         = 500
	defaultExpireInterval = time.Minute
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
}

type dispatcher interface {
	ProcessBatch(ctx context.Context) (int, error)
}

type pendingExpirer interface {
	ExpirePending(ctx context.Context) (int64, error)
}

type grantExpirer interface {
	ExpireDue(ctx context.Context) (int64, error)
}

type ServiceParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           dbClient
	Dispatcher   dispatcher
	Transactions pendingExpirer
	Memberships  grantExpirer
	Quotas       grantExpirer
	Jobs         *metrics.CronJobMetrics
}

type Service struct {
	cfg            *config.Config
	logg           *logger.Logger
	db             dbClient
	dispatcher     dispatcher
	transactions   pendingExpirer
	memberships    grantExpirer
	quotas         grantExpirer
	jobs           *metrics.CronJobMetrics
	pollInterval   time.Duration
	expireInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Dispatcher == nil {
		return nil, errors.New("settlement dispatcher is required")
	}
	if params.Transactions == nil {
		return nil, errors.New("transaction service is required")
	}
	if params.Memberships == nil {
		return nil, errors.New("membership service is required")
	}
	if params.Quotas == nil {
		return nil, errors.New("quota service is required")
	}

	pollMs := params.Config.Settlement.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	expireInterval := params.Config.Settlement.ExpireInterval
	if expireInterval <= 0 {
		expireInterval = defaultExpireInterval
	}

	return &Service{
		cfg:            params.Config,
		logg:           params.Logger,
		db:             params.DB,
		dispatcher:     params.Dispatcher,
		transactions:   params.Transactions,
		memberships:    params.Memberships,
		quotas:         params.Quotas,
		jobs:           params.Jobs,
		pollInterval:   time.Duration(pollMs) * time.Millisecond,
		expireInterval: expireInterval,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		s.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Run drives the settlement poll loop until the context is canceled. Expiry
// sweeps ride the same loop at a coarser interval so a single worker covers
// both duties.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	interval := s.pollInterval
	if interval <= 0 {
		interval = time.Duration(defaultPollMs) * time.Millisecond
	}
	backoff := interval
	nextExpiry := time.Now()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "settlement worker context canceled")
			return ctx.Err()
		default:
		}

		if !time.Now().Before(nextExpiry) {
			s.runExpiry(ctx)
			nextExpiry = time.Now().Add(s.expireInterval)
		}

		attempted, err := s.dispatcher.ProcessBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "settlement batch error", err)
			backoff = nextBackoff(backoff, interval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval

		if attempted > 0 {
			continue
		}

		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// runExpiry sweeps pending transactions past their deadline and retires
// memberships and quota balances whose windows have closed. Each sweep is
// independent; one failing does not block the others.
func (s *Service) runExpiry(ctx context.Context) {
	s.runSweep(ctx, "expire-pending-transactions", "pending transactions expired", s.transactions.ExpirePending)
	s.runSweep(ctx, "expire-memberships", "memberships expired", s.memberships.ExpireDue)
	s.runSweep(ctx, "expire-quota-balances", "quota balances expired", s.quotas.ExpireDue)
}

func (s *Service) runSweep(ctx context.Context, job, msg string, fn func(context.Context) (int64, error)) {
	start := time.Now()
	expired, err := fn(ctx)
	s.jobs.ObserveDuration(job, time.Since(start))
	if err != nil {
		s.jobs.IncFailure(job)
		s.logg.Error(s.logg.WithField(ctx, "job", job), "expiry sweep failed", err)
		return
	}
	s.jobs.IncSuccess(job)
	if expired > 0 {
		s.logg.Info(s.logg.WithField(ctx, "count", expired), msg)
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}
