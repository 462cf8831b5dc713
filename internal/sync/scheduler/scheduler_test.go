package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/quickmart/poscore/internal/connectivity"
	"github.com/quickmart/poscore/internal/models"
	"github.com/quickmart/poscore/internal/store"
	"github.com/quickmart/poscore/internal/sync/queue"
)

func newTestQueue(t *testing.T) *queue.OfflineQueue {
	t.Helper()
	s := store.New(t.TempDir())
	t.Cleanup(func() { s.Close() })
	return queue.New(s)
}

func offlineMonitor(t *testing.T) *connectivity.Monitor {
	t.Helper()
	return connectivity.NewMonitor(
		connectivity.ProbeFunc(func(ctx context.Context) bool { return false }),
		time.Hour,
	)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestReconnectTriggersReplay(t *testing.T) {
	q := newTestQueue(t)
	monitor := offlineMonitor(t)

	if _, err := q.Enqueue(context.Background(), models.EntityTransaction, models.OperationCreate,
		json.RawMessage(`{"total":1250}`)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	var mu sync.Mutex
	submitted := 0
	submit := func(ctx context.Context, op models.PendingOperation) (bool, error) {
		mu.Lock()
		submitted++
		mu.Unlock()
		return true, nil
	}

	s := New(q, submit, monitor, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	// Offline -> online edge.
	monitor.SetOnline(true)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return submitted == 1
	})

	if q.Count() != 0 {
		t.Errorf("Expected drained queue, got %d pending", q.Count())
	}
}

func TestPeriodicReplayWhileOnline(t *testing.T) {
	q := newTestQueue(t)
	monitor := offlineMonitor(t)
	monitor.SetOnline(true)

	var mu sync.Mutex
	submitted := 0
	submit := func(ctx context.Context, op models.PendingOperation) (bool, error) {
		mu.Lock()
		submitted++
		mu.Unlock()
		return true, nil
	}

	s := New(q, submit, monitor, &Config{ReplayInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	// Enqueued after Start, with no connectivity edge; only the periodic
	// tick can pick it up.
	if _, err := q.Enqueue(ctx, models.EntityInventory, models.OperationUpdate,
		json.RawMessage(`{"sku":"sku-1","delta":-1}`)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return submitted == 1
	})
}

func TestNoReplayWhileOffline(t *testing.T) {
	q := newTestQueue(t)
	monitor := offlineMonitor(t)

	var mu sync.Mutex
	submitted := 0
	submit := func(ctx context.Context, op models.PendingOperation) (bool, error) {
		mu.Lock()
		submitted++
		mu.Unlock()
		return true, nil
	}

	s := New(q, submit, monitor, &Config{ReplayInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	if _, err := q.Enqueue(ctx, models.EntityCustomer, models.OperationCreate,
		json.RawMessage(`{"name":"A"}`)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if submitted != 0 {
		t.Errorf("Expected no submits while offline, got %d", submitted)
	}
	if q.Count() != 1 {
		t.Errorf("Expected operation still queued, got %d", q.Count())
	}
}

func TestStartStopIdempotent(t *testing.T) {
	q := newTestQueue(t)
	monitor := offlineMonitor(t)
	submit := func(ctx context.Context, op models.PendingOperation) (bool, error) { return true, nil }

	s := New(q, submit, monitor, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx)
	s.Stop()
	s.Stop()
}

func TestTriggerNowRunsReplay(t *testing.T) {
	q := newTestQueue(t)
	monitor := offlineMonitor(t)

	if _, err := q.Enqueue(context.Background(), models.EntityProduct, models.OperationDelete,
		json.RawMessage(`{"sku":"sku-9"}`)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	var mu sync.Mutex
	submitted := 0
	submit := func(ctx context.Context, op models.PendingOperation) (bool, error) {
		mu.Lock()
		submitted++
		mu.Unlock()
		return true, nil
	}

	s := New(q, submit, monitor, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	s.TriggerNow()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return submitted == 1
	})

	if s.LastReplay().IsZero() {
		t.Error("Expected LastReplay to be recorded")
	}
}
