/**
 * @description
 * This package provides a best-effort client for the off-chain cache service that
 * keeps denormalized copies of ledger entities and the pending transactions the
 * UI has submitted. Reads never fail: a missing or unhealthy cache yields empty
 * results and a warning, and callers degrade. Mutations report their error so the
 * caller can count it, but no call panics or blocks beyond the client timeout.
 *
 * Requests carry no credentials (no cookies, no Authorization header) and send an
 * Origin header so the cache's cross-origin policy applies.
 *
 * @dependencies
 * - github.com/patrickmn/go-cache: Memoizes the last health probe.
 */
package cacheclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/vices1967-beep/beefchain/internal/domain"
)

const (
	healthKey          = "health"
	defaultHealthTTL   = 15 * time.Second
	defaultHTTPTimeout = 10 * time.Second
)

// Client is a client for the cache service. baseURL includes the /api prefix.
type Client struct {
	baseURL    string
	origin     string
	httpClient *http.Client
	memo       *gocache.Cache
}

// NewClient creates a cache client. origin may be empty.
func NewClient(baseURL, origin string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		origin:  strings.TrimSpace(origin),
		// No Jar: cookies are never stored or sent.
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		memo:       gocache.New(defaultHealthTTL, time.Minute),
	}
}

// Healthy probes GET /health. Any transport error or non-2xx status reports false.
func (c *Client) Healthy(ctx context.Context) bool {
	if c.baseURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	c.decorate(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("level=warn component=cache_client msg=\"health check failed\" err=%v", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !healthy {
		log.Printf("level=warn component=cache_client msg=\"health check unhealthy\" status=%d", resp.StatusCode)
	}
	return healthy
}

// Available returns the memoized health state, probing when the memo has expired.
func (c *Client) Available(ctx context.Context) bool {
	if v, ok := c.memo.Get(healthKey); ok {
		return v.(bool)
	}
	healthy := c.Healthy(ctx)
	c.memo.SetDefault(healthKey, healthy)
	return healthy
}

// Stats returns the cache aggregate counters, nil when unavailable.
func (c *Client) Stats(ctx context.Context) *domain.CacheStats {
	var stats domain.CacheStats
	if err := c.do(ctx, http.MethodGet, "/cache/stats", nil, &stats); err != nil {
		c.warn("stats", err)
		return nil
	}
	return &stats
}

// Animals fetches every cached animal. The service answers either an array or an
// object keyed by id; both shapes are accepted.
func (c *Client) Animals(ctx context.Context) []domain.CachedAnimal {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/cache/animals", nil, &raw); err != nil {
		c.warn("animals", err)
		return []domain.CachedAnimal{}
	}
	animals, err := decodeCollection[domain.CachedAnimal](raw, func(a *domain.CachedAnimal, key string) {
		if a.ID == "" {
			a.ID = domain.FlexID(key)
		}
	})
	if err != nil {
		c.warn("animals", err)
		return []domain.CachedAnimal{}
	}
	return animals
}

// Animal fetches one cached animal, nil when absent or unavailable.
func (c *Client) Animal(ctx context.Context, id uint64) *domain.CachedAnimal {
	var animal domain.CachedAnimal
	if err := c.do(ctx, http.MethodGet, "/cache/animals/"+domain.EntityKey(id), nil, &animal); err != nil {
		if !errors.Is(err, errNotFound) {
			c.warn("animal", err)
		}
		return nil
	}
	if animal.ID == "" {
		animal.ID = domain.FlexID(domain.EntityKey(id))
	}
	return &animal
}

// CreateAnimal inserts a cache-only animal record.
func (c *Client) CreateAnimal(ctx context.Context, animal domain.CachedAnimal) error {
	return c.mutate(ctx, http.MethodPost, "/cache/animals", animal)
}

// PatchAnimal applies a correction to a cached animal.
func (c *Client) PatchAnimal(ctx context.Context, id uint64, patch domain.AnimalCorrection) error {
	return c.mutate(ctx, http.MethodPatch, "/cache/animals/"+domain.EntityKey(id), stamped(patch))
}

// Batches fetches every cached batch.
func (c *Client) Batches(ctx context.Context) []domain.CachedBatch {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/cache/batches", nil, &raw); err != nil {
		c.warn("batches", err)
		return []domain.CachedBatch{}
	}
	batches, err := decodeCollection[domain.CachedBatch](raw, func(b *domain.CachedBatch, key string) {
		if b.ID == "" {
			b.ID = domain.FlexID(key)
		}
	})
	if err != nil {
		c.warn("batches", err)
		return []domain.CachedBatch{}
	}
	return batches
}

// Batch fetches one cached batch, nil when absent or unavailable.
func (c *Client) Batch(ctx context.Context, id uint64) *domain.CachedBatch {
	var batch domain.CachedBatch
	if err := c.do(ctx, http.MethodGet, "/cache/batches/"+domain.EntityKey(id), nil, &batch); err != nil {
		if !errors.Is(err, errNotFound) {
			c.warn("batch", err)
		}
		return nil
	}
	if batch.ID == "" {
		batch.ID = domain.FlexID(domain.EntityKey(id))
	}
	return &batch
}

// PatchBatch applies a correction to a cached batch.
func (c *Client) PatchBatch(ctx context.Context, id uint64, patch domain.BatchCorrection) error {
	return c.mutate(ctx, http.MethodPatch, "/cache/batches/"+domain.EntityKey(id), stamped(patch))
}

// Transactions lists the cache transactions recorded for an address.
func (c *Client) Transactions(ctx context.Context, address string) []domain.PendingTransaction {
	path := "/cache/transacciones?address=" + url.QueryEscape(strings.TrimSpace(address))
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		c.warn("transactions", err)
		return []domain.PendingTransaction{}
	}
	txs, err := decodeCollection[domain.PendingTransaction](raw, func(tx *domain.PendingTransaction, key string) {
		if tx.Hash == "" {
			tx.Hash = key
		}
	})
	if err != nil {
		c.warn("transactions", err)
		return []domain.PendingTransaction{}
	}
	return txs
}

// RegisterTransaction records a submitted transaction as pending.
func (c *Client) RegisterTransaction(ctx context.Context, tx domain.PendingTransaction) error {
	if tx.Status == "" {
		tx.Status = domain.TxPending
	}
	if tx.Timestamp == "" {
		tx.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return c.mutate(ctx, http.MethodPost, "/cache/transaccion", tx)
}

// UpdateTransaction updates the status/result of a recorded transaction.
func (c *Client) UpdateTransaction(ctx context.Context, hash string, update domain.TxUpdate) error {
	return c.mutate(ctx, http.MethodPatch, "/cache/transaccion/"+url.PathEscape(hash), stamped(update))
}

var errNotFound = errors.New("cache record not found")

func (c *Client) mutate(ctx context.Context, method, path string, body interface{}) error {
	if err := c.do(ctx, method, path, body, nil); err != nil {
		log.Printf("level=warn component=cache_client msg=\"cache mutation failed\" method=%s path=%s err=%v", method, path, err)
		if errors.Is(err, domain.ErrUnavailable) {
			c.memo.SetDefault(healthKey, false)
		}
		return err
	}
	return nil
}

func (c *Client) warn(op string, err error) {
	log.Printf("level=warn component=cache_client op=%s msg=\"cache read failed; continuing without cache\" err=%v", op, err)
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: cache base url is empty", domain.ErrUnavailable)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.decorate(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: cache returned status %d", domain.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("cache returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// stamped adds updated_at to a patch body.
func stamped(v interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	if raw, err := json.Marshal(v); err == nil {
		_ = json.Unmarshal(raw, &out)
	}
	out["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	return out
}

// decodeCollection accepts a JSON array, an object keyed by id, or an envelope
// with the records under "data". Keyed objects are returned in key order.
func decodeCollection[T any](raw json.RawMessage, withKey func(*T, string)) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []T{}, nil
	}
	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return items, nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keyed); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if data, ok := keyed["data"]; ok {
		if inner := bytes.TrimSpace(data); len(inner) > 0 && inner[0] == '[' {
			return decodeCollection[T](inner, withKey)
		}
	}

	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]T, 0, len(keyed))
	for _, k := range keys {
		var item T
		if err := json.Unmarshal(keyed[k], &item); err != nil {
			log.Printf("level=warn component=cache_client msg=\"skipping undecodable record\" key=%s err=%v", k, err)
			continue
		}
		withKey(&item, k)
		items = append(items, item)
	}
	return items, nil
}
