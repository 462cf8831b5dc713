// Package api maps pending operations onto the authoritative backend's
// REST API. It supplies the submit function the replay scheduler drives
// the queue with.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quickmart/poscore/internal/errors"
	"github.com/quickmart/poscore/internal/logging"
	"github.com/quickmart/poscore/internal/models"
	"github.com/quickmart/poscore/internal/sync/queue"
)

// entityPaths maps entity types onto backend collection paths.
var entityPaths = map[models.EntityType]string{
	models.EntityTransaction: "transactions",
	models.EntityInventory:   "inventory",
	models.EntityCustomer:    "customers",
	models.EntityProduct:     "products",
}

// Client talks to the backend REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client for the given backend base URL. token may be empty;
// when set it is attached as a bearer token.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// HealthURL returns the backend health endpoint, used by the connectivity
// prober.
func (c *Client) HealthURL() string {
	return c.baseURL + "/api/health"
}

// SubmitFunc returns Submit bound as a queue.SubmitFunc.
func (c *Client) SubmitFunc() queue.SubmitFunc {
	return c.Submit
}

// Submit delivers one pending operation. true means the backend accepted
// it; false means it deliberately rejected it (4xx), which drives the
// queue's retry-and-drop bookkeeping; an error means the attempt itself
// failed (transport failure or 5xx) and the backend's verdict is unknown.
func (c *Client) Submit(ctx context.Context, op models.PendingOperation) (bool, error) {
	method, target, ok := c.route(op)
	if !ok {
		// Malformed operations can never succeed; rejection routes them to
		// the dead-letter surface after the retry ceiling.
		return false, nil
	}

	var body io.Reader
	if op.Op != models.OperationDelete && len(op.Payload) > 0 {
		body = bytes.NewReader(op.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return false, errors.Wrap(errors.ErrSubmitFailed, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, errors.Wrap(errors.ErrSubmitFailed, "request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		logging.Debug("Backend rejected operation", map[string]interface{}{
			"id":     op.ID,
			"status": resp.StatusCode,
		})
		return false, nil
	default:
		return false, errors.New(errors.ErrSubmitFailed,
			fmt.Sprintf("backend returned status %d", resp.StatusCode))
	}
}

// route resolves the HTTP method and URL for an operation. Updates and
// deletes address a specific entity, whose id is read from the payload's
// "id" field.
func (c *Client) route(op models.PendingOperation) (method, target string, ok bool) {
	path, known := entityPaths[op.EntityType]
	if !known {
		logging.Warn("Unknown entity type in pending operation", map[string]interface{}{
			"id":          op.ID,
			"entity_type": string(op.EntityType),
		})
		return "", "", false
	}

	base := fmt.Sprintf("%s/api/%s", c.baseURL, path)

	switch op.Op {
	case models.OperationCreate:
		return http.MethodPost, base, true
	case models.OperationUpdate, models.OperationDelete:
		entityID := payloadID(op.Payload)
		if entityID == "" {
			logging.Warn("Pending operation payload has no entity id", map[string]interface{}{
				"id":        op.ID,
				"operation": string(op.Op),
			})
			return "", "", false
		}
		method := http.MethodPut
		if op.Op == models.OperationDelete {
			method = http.MethodDelete
		}
		return method, base + "/" + url.PathEscape(entityID), true
	}
	return "", "", false
}

// payloadID extracts the entity id from an opaque payload. Only the "id"
// field is inspected; the rest of the payload stays uninterpreted.
func payloadID(payload json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.ID
}
