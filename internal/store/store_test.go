package store

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/quickmart/poscore/internal/errors"
)

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenIdempotent(t *testing.T) {
	s := newTestStore(t)

	if err := s.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Open(); err != nil {
		t.Fatalf("Second Open failed: %v", err)
	}
}

func TestOpenConcurrent(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Open()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent Open failed: %v", err)
		}
	}
}

func TestOpenUnavailable(t *testing.T) {
	// A file in place of the data directory makes MkdirAll fail.
	dir := t.TempDir()
	blocked := dir + "/blocked"
	if err := writeFile(blocked, []byte("x")); err != nil {
		t.Fatalf("Failed to create blocking file: %v", err)
	}

	s := New(blocked + "/data")
	err := s.Open()
	if err == nil {
		t.Fatal("Expected error opening store under a file")
	}
	if !errors.Is(err, errors.ErrStorageUnavailable) {
		t.Errorf("Expected STORAGE_UNAVAILABLE, got %v", err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, PartitionProducts, "sku-1", []byte(`{"name":"espresso"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, found, err := s.Get(ctx, PartitionProducts, "sku-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("Expected record to be found")
	}
	if string(value) != `{"name":"espresso"}` {
		t.Errorf("Unexpected value: %s", value)
	}
}

func TestPutUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, PartitionProducts, "sku-1", []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, PartitionProducts, "sku-1", []byte("v2")); err != nil {
		t.Fatalf("Second Put failed: %v", err)
	}

	value, _, err := s.Get(ctx, PartitionProducts, "sku-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "v2" {
		t.Errorf("Expected most recent write to win, got %s", value)
	}

	count, err := s.Count(ctx, PartitionProducts)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 record after upsert, got %d", count)
	}
}

func TestGetAbsentKey(t *testing.T) {
	s := newTestStore(t)

	value, found, err := s.Get(context.Background(), PartitionCustomers, "nope")
	if err != nil {
		t.Fatalf("Get on absent key should not error: %v", err)
	}
	if found {
		t.Error("Expected found=false for absent key")
	}
	if value != nil {
		t.Errorf("Expected nil value, got %v", value)
	}
}

func TestGetAllOrderedByKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keys := []string{"c", "a", "b"}
	for _, k := range keys {
		if err := s.Put(ctx, PartitionInventory, k, []byte(k)); err != nil {
			t.Fatalf("Put %s failed: %v", k, err)
		}
	}

	records, err := s.GetAll(ctx, PartitionInventory)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	for i, want := range []string{"a", "b", "c"} {
		if records[i].Key != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, records[i].Key)
		}
	}
}

func TestGetAllEmptyPartition(t *testing.T) {
	s := newTestStore(t)

	records, err := s.GetAll(context.Background(), PartitionDeadLetters)
	if err != nil {
		t.Fatalf("GetAll on empty partition should not error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no records, got %d", len(records))
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, PartitionTransactions, "tx-1", []byte("data")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := s.Delete(ctx, PartitionTransactions, "tx-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, PartitionTransactions, "tx-1"); err != nil {
		t.Errorf("Second delete should be a no-op, got %v", err)
	}
	if err := s.Delete(ctx, PartitionTransactions, "never-existed"); err != nil {
		t.Errorf("Deleting an absent key should not error, got %v", err)
	}
}

func TestPartitionsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, PartitionProducts, "id-1", []byte("product")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, PartitionCustomers, "id-1", []byte("customer")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, _, err := s.Get(ctx, PartitionProducts, "id-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "product" {
		t.Errorf("Partition bleed: got %s", value)
	}

	if err := s.Delete(ctx, PartitionProducts, "id-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, found, err := s.Get(ctx, PartitionCustomers, "id-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Error("Delete in one partition removed a record in another")
	}
}

func TestReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := New(dir)
	if err := s.Put(ctx, PartitionProducts, "sku-9", []byte("durable")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Fresh handle over the same directory simulates a process restart.
	reopened := New(dir)
	defer reopened.Close()

	value, found, err := reopened.Get(ctx, PartitionProducts, "sku-9")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if !found || string(value) != "durable" {
		t.Errorf("Expected durable record after reopen, found=%v value=%s", found, value)
	}
}
