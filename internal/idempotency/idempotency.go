// Package idempotency implements §4.5: a durable TTL cache of prior outbound
// responses plus an in-process in-flight map so concurrent duplicate
// requests for the same (tenantId, key) join a single dispatch instead of
// running it twice. Grounded on the teacher's pkg/chatpresence style
// mutex-guarded map, generalized into the "coalescing future" design note
// (§9): a one-shot completion channel stored behind a lock, joiners await it
// without re-running dispatch.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/platform/apierr"
)

// Result is the cached/coalesced shape of a dispatch outcome.
type Result struct {
	Status int
	Body   []byte
}

// Fingerprint is the hex sha256 of the exact request body bytes (§4.5):
// byte-stable so replays are detected on identical payloads and rejected on
// divergent ones.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type inflightEntry struct {
	fingerprint string
	done        chan struct{}
	result      Result
	err         error
}

type Coordinator struct {
	db  *persistence.DB
	ttl time.Duration

	mu       sync.Mutex
	inflight map[string]*inflightEntry
}

func NewCoordinator(db *persistence.DB, ttl time.Duration) *Coordinator {
	return &Coordinator{db: db, ttl: ttl, inflight: make(map[string]*inflightEntry)}
}

func inflightKey(tenantID, key string) string { return tenantID + "\x00" + key }

// Run executes fn exactly once for a given (tenantID, key, fingerprint)
// across any number of concurrent callers, replaying the cached/coalesced
// result to the rest — the full decision tree of §4.5 steps 1-4.
func (c *Coordinator) Run(ctx context.Context, tenantID, key string, requestBody []byte, fn func(ctx context.Context) (Result, error)) (Result, error) {
	now := time.Now().UnixMilli()
	fp := Fingerprint(requestBody)

	_, _ = c.db.PurgeExpiredIdempotencyKeys(ctx, now)

	if cached, err := c.db.IdempotencyResult(ctx, tenantID, key, now); err == nil {
		if cached.RequestFingerprint != fp {
			return Result{}, apierr.Conflict("idempotency key reused with different payload")
		}
		return Result{Status: cached.ResponseStatus, Body: []byte(cached.ResponseBody)}, nil
	} else if err != persistence.ErrNotFound {
		return Result{}, err
	}

	ik := inflightKey(tenantID, key)

	c.mu.Lock()
	if existing, ok := c.inflight[ik]; ok {
		c.mu.Unlock()
		if existing.fingerprint != fp {
			return Result{}, apierr.Conflict("idempotency key reused with different payload")
		}
		<-existing.done
		return existing.result, existing.err
	}
	entry := &inflightEntry{fingerprint: fp, done: make(chan struct{})}
	c.inflight[ik] = entry
	c.mu.Unlock()

	result, err := fn(ctx)
	entry.result, entry.err = result, err

	if err == nil {
		_, _ = c.db.InsertIdempotencyResult(ctx, persistence.IdempotencyEntry{
			TenantID: tenantID, Key: key, RequestFingerprint: fp,
			ResponseStatus: result.Status, ResponseBody: string(result.Body),
			ExpiresAtMs: now + c.ttl.Milliseconds(),
		})
	}

	c.mu.Lock()
	delete(c.inflight, ik)
	c.mu.Unlock()
	close(entry.done)
	return result, err
}

// CanonicalJSON re-marshals an arbitrary JSON payload into its canonical
// (sorted-key, compact) form — used where a caller needs a stable
// fingerprint independent of field order, distinct from the raw-bytes
// Fingerprint used for the primary replay check.
func CanonicalJSON(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
