package housekeeping

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeLinks struct {
	calls atomic.Int32
	err   error
}

func (f *fakeLinks) ExpireStale(context.Context) (int64, error) {
	f.calls.Add(1)
	return 2, f.err
}

type fakeClients struct {
	days []int
}

func (f *fakeClients) PurgeRetention(_ context.Context, days int) (int, error) {
	f.days = append(f.days, days)
	return 1, nil
}

func TestRunOnce(t *testing.T) {
	links := &fakeLinks{}
	clients := &fakeClients{}
	l := &Loop{Links: links, Clients: clients, Log: zap.NewNop()}

	l.RunOnce(context.Background())
	if n := links.calls.Load(); n != 1 {
		t.Fatalf("ExpireStale calls = %d, want 1", n)
	}
	if len(clients.days) != 0 {
		t.Fatalf("retention ran while disabled: %v", clients.days)
	}

	l.RetentionDays = 365
	links.err = errors.New("db locked")
	l.RunOnce(context.Background())
	if len(clients.days) != 1 || clients.days[0] != 365 {
		t.Fatalf("PurgeRetention calls = %v, want [365]", clients.days)
	}
}

func TestStart_TicksUntilCancelled(t *testing.T) {
	links := &fakeLinks{}
	l := &Loop{Links: links, Clients: &fakeClients{}, Log: zap.NewNop()}

	l.Start(context.Background(), 0) // disabled

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for links.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("loop never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
