package main

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartrent/smartrent-backend/pkg/config"
	"github.com/smartrent/smartrent-backend/pkg/logger"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error {
	return f.err
}

type fakeDispatcher struct {
	calls   atomic.Int64
	batchFn func(call int64) (int, error)
}

func (f *fakeDispatcher) ProcessBatch(ctx context.Context) (int, error) {
	call := f.calls.Add(1)
	if f.batchFn != nil {
		return f.batchFn(call)
	}
	return 0, nil
}

type fakeExpirer struct {
	calls atomic.Int64
	count int64
	err   error
}

func (f *fakeExpirer) ExpirePending(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	return f.count, f.err
}

func (f *fakeExpirer) ExpireDue(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	return f.count, f.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("debug"), Output: io.Discard})
}

func testWorkerConfig() *config.Config {
	return &config.Config{
		Settlement: config.SettlementConfig{
			PollIntervalMS: 1,
			ExpireInterval: time.Hour,
		},
	}
}

func newTestService(t *testing.T, cfg *config.Config, disp *fakeDispatcher, txns, members, quotas *fakeExpirer) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Config:       cfg,
		Logger:       testLogger(),
		DB:           fakePinger{},
		Dispatcher:   disp,
		Transactions: txns,
		Memberships:  members,
		Quotas:       quotas,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{
		Logger:       testLogger(),
		DB:           fakePinger{},
		Dispatcher:   &fakeDispatcher{},
		Transactions: &fakeExpirer{},
		Memberships:  &fakeExpirer{},
		Quotas:       &fakeExpirer{},
	})
	if err == nil {
		t.Fatalf("expected error for missing config")
	}

	_, err = NewService(ServiceParams{
		Config:       testWorkerConfig(),
		Logger:       testLogger(),
		DB:           fakePinger{},
		Transactions: &fakeExpirer{},
		Memberships:  &fakeExpirer{},
		Quotas:       &fakeExpirer{},
	})
	if err == nil {
		t.Fatalf("expected error for missing dispatcher")
	}
}

func TestRunStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	disp := &fakeDispatcher{
		batchFn: func(call int64) (int, error) {
			if call >= 3 {
				cancel()
			}
			return 1, nil
		},
	}
	service := newTestService(t, testWorkerConfig(), disp, &fakeExpirer{}, &fakeExpirer{}, &fakeExpirer{})

	err := service.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
	if got := disp.calls.Load(); got < 3 {
		t.Fatalf("expected at least 3 batches got %d", got)
	}
}

func TestRunRecoversFromBatchErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	disp := &fakeDispatcher{
		batchFn: func(call int64) (int, error) {
			switch call {
			case 1:
				return 0, errors.New("transient")
			default:
				cancel()
				return 0, nil
			}
		},
	}
	service := newTestService(t, testWorkerConfig(), disp, &fakeExpirer{}, &fakeExpirer{}, &fakeExpirer{})

	err := service.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
	if got := disp.calls.Load(); got < 2 {
		t.Fatalf("expected a retry after the failed batch got %d calls", got)
	}
}

func TestRunFailsWhenDatabaseUnreachable(t *testing.T) {
	service, err := NewService(ServiceParams{
		Config:       testWorkerConfig(),
		Logger:       testLogger(),
		DB:           fakePinger{err: errors.New("connection refused")},
		Dispatcher:   &fakeDispatcher{},
		Transactions: &fakeExpirer{},
		Memberships:  &fakeExpirer{},
		Quotas:       &fakeExpirer{},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if err := service.Run(context.Background()); err == nil {
		t.Fatalf("expected readiness failure")
	}
}

func TestRunSweepsExpiry(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.Settlement.ExpireInterval = time.Nanosecond

	txns := &fakeExpirer{count: 2}
	members := &fakeExpirer{count: 1}
	quotas := &fakeExpirer{err: errors.New("sweep failed")}

	ctx, cancel := context.WithCancel(context.Background())
	disp := &fakeDispatcher{
		batchFn: func(call int64) (int, error) {
			if call >= 2 {
				cancel()
			}
			return 0, nil
		},
	}
	service := newTestService(t, cfg, disp, txns, members, quotas)

	err := service.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
	if txns.calls.Load() == 0 || members.calls.Load() == 0 || quotas.calls.Load() == 0 {
		t.Fatalf("expected every expiry sweep to run: txns=%d members=%d quotas=%d",
			txns.calls.Load(), members.calls.Load(), quotas.calls.Load())
	}
}
