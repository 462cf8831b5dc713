package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quickmart/poscore/internal/cache"
	"github.com/quickmart/poscore/internal/models"
	"github.com/quickmart/poscore/internal/store"
)

func newSnapshotServer(t *testing.T) *httptest.Server {
	t.Helper()

	s := store.New(t.TempDir())
	t.Cleanup(func() { s.Close() })

	mux := http.NewServeMux()
	NewSnapshotHandler(cache.NewStoreCache(s)).Register(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func doRequest(t *testing.T, method, url string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func TestSnapshotPutGet(t *testing.T) {
	server := newSnapshotServer(t)

	data := []byte(`{"id":"sku-1","name":"Espresso beans","price":1499}`)
	putResp := doRequest(t, http.MethodPut, server.URL+"/api/cache/product/sku-1", data)
	putResp.Body.Close()
	if putResp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", putResp.StatusCode)
	}

	getResp := doRequest(t, http.MethodGet, server.URL+"/api/cache/product/sku-1", nil)
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", getResp.StatusCode)
	}

	var snapshot models.EntitySnapshot
	if err := json.NewDecoder(getResp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if snapshot.EntityID != "sku-1" {
		t.Errorf("Expected entity id sku-1, got %s", snapshot.EntityID)
	}
	if !bytes.Equal(snapshot.Data, data) {
		t.Errorf("Expected data %s, got %s", data, snapshot.Data)
	}
}

func TestSnapshotGetAbsent(t *testing.T) {
	server := newSnapshotServer(t)

	resp := doRequest(t, http.MethodGet, server.URL+"/api/cache/customer/nobody", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestSnapshotPutRejectsBadInput(t *testing.T) {
	server := newSnapshotServer(t)

	t.Run("UnknownEntityType", func(t *testing.T) {
		resp := doRequest(t, http.MethodPut, server.URL+"/api/cache/vouchers/v-1", []byte(`{}`))
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		resp := doRequest(t, http.MethodPut, server.URL+"/api/cache/product/sku-1", []byte(`{broken`))
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})
}

func TestSnapshotList(t *testing.T) {
	server := newSnapshotServer(t)

	for _, id := range []string{"sku-1", "sku-2"} {
		resp := doRequest(t, http.MethodPut, server.URL+"/api/cache/inventory/"+id, []byte(`{"qty":3}`))
		resp.Body.Close()
	}
	// A different entity type must not leak into the listing.
	other := doRequest(t, http.MethodPut, server.URL+"/api/cache/customer/c-1", []byte(`{}`))
	other.Body.Close()

	resp := doRequest(t, http.MethodGet, server.URL+"/api/cache/inventory", nil)
	defer resp.Body.Close()

	var result struct {
		Snapshots []models.EntitySnapshot `json:"snapshots"`
		Count     int                     `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result.Count != 2 {
		t.Errorf("Expected 2 snapshots, got %d", result.Count)
	}
}

func TestSnapshotDeleteIdempotent(t *testing.T) {
	server := newSnapshotServer(t)

	resp := doRequest(t, http.MethodPut, server.URL+"/api/cache/transaction/txn-1", []byte(`{}`))
	resp.Body.Close()

	for i := 0; i < 2; i++ {
		delResp := doRequest(t, http.MethodDelete, server.URL+"/api/cache/transaction/txn-1", nil)
		delResp.Body.Close()
		if delResp.StatusCode != http.StatusNoContent {
			t.Errorf("Attempt %d: expected 204, got %d", i, delResp.StatusCode)
		}
	}

	getResp := doRequest(t, http.MethodGet, server.URL+"/api/cache/transaction/txn-1", nil)
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", getResp.StatusCode)
	}
}
