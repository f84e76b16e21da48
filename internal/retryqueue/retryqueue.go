// Package retryqueue is the durable WhatsApp inbound forward queue (§4.8): a
// SQLite-backed queue of due rows, pulled in batches on each tick, handled
// one row at a time and retried with exponential backoff. Grounded on the
// teacher's pkg/msgworker pool shape (atomic counters, a WaitGroup drain)
// adapted from "process a live WhatsApp message job"
// to "drain due rows from a durable queue on a cron tick", and on
// robfig/cron/v3 (seen in the pack's scheduling use) for the tick itself.
package retryqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/relaymux/mux/internal/persistence"
)

// Handler processes one due row and reports success. Returning an error
// defers the row with backoff instead of deleting it (§4.8).
type Handler func(ctx context.Context, row persistence.WhatsAppQueueRow) error

type Config struct {
	BatchSize  int
	InitialMs  int64
	MaxMs      int64
	TickSpec   string // cron spec for the due-scheduler tick, default "@every 2s"
}

type Queue struct {
	db     *persistence.DB
	cfg    Config
	log    *logrus.Entry
	handle Handler

	cron *cron.Cron

	totalProcessed int64
	totalDeferred  int64
	totalDropped   int64

	wg      sync.WaitGroup
	stopped int32
}

func New(db *persistence.DB, cfg Config, log *logrus.Entry, handle Handler) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.TickSpec == "" {
		cfg.TickSpec = "@every 2s"
	}
	return &Queue{db: db, cfg: cfg, log: log, handle: handle}
}

// Backoff computes the exponential delay for a row's next attempt, per §9:
// delay(n) = min(max, initial * 2^min(n, 10)).
func Backoff(attemptCount int, initialMs, maxMs int64) int64 {
	n := attemptCount
	if n > 10 {
		n = 10
	}
	delay := initialMs << uint(n)
	if delay > maxMs || delay <= 0 {
		delay = maxMs
	}
	return delay
}

// Enqueue is called by the WhatsApp listener callback on every inbound
// message (§4.7); dedupeKey collisions are a no-op so redelivery of an
// already-queued event never double-enqueues.
func (q *Queue) Enqueue(ctx context.Context, dedupeKey, payloadJSON string) error {
	_, err := q.db.EnqueueWhatsAppSend(ctx, dedupeKey, payloadJSON, time.Now().UnixMilli())
	return err
}

// Start schedules the due-row tick via cron and blocks processing to a
// single worker goroutine per tick to preserve the "rows within a batch are
// independent" guarantee (§5) without over-parallelizing against the
// single-writer SQLite connection.
func (q *Queue) Start(ctx context.Context) error {
	q.cron = cron.New()
	_, err := q.cron.AddFunc(q.cfg.TickSpec, func() {
		if atomic.LoadInt32(&q.stopped) == 1 {
			return
		}
		q.wg.Add(1)
		defer q.wg.Done()
		q.tick(ctx)
	})
	if err != nil {
		return err
	}
	q.cron.Start()
	return nil
}

func (q *Queue) tick(ctx context.Context) {
	rows, err := q.db.DueWhatsAppSends(ctx, time.Now().UnixMilli(), q.cfg.BatchSize)
	if err != nil {
		q.log.WithError(err).Error("whatsapp retry queue: list due rows")
		return
	}
	for _, row := range rows {
		q.processOne(ctx, row)
	}
}

func (q *Queue) processOne(ctx context.Context, row persistence.WhatsAppQueueRow) {
	err := q.handle(ctx, row)
	if err == nil {
		if delErr := q.db.DeleteWhatsAppSend(ctx, row.ID); delErr != nil {
			q.log.WithError(delErr).Error("whatsapp retry queue: delete acked row")
			return
		}
		atomic.AddInt64(&q.totalProcessed, 1)
		return
	}

	attempt := row.AttemptCount + 1
	delay := Backoff(attempt, q.cfg.InitialMs, q.cfg.MaxMs)
	next := time.Now().UnixMilli() + delay
	if defErr := q.db.DeferWhatsAppSend(ctx, row.ID, next, attempt, err.Error()); defErr != nil {
		q.log.WithError(defErr).Error("whatsapp retry queue: defer row")
		return
	}
	atomic.AddInt64(&q.totalDeferred, 1)
	q.log.WithFields(logrus.Fields{
		"dedupeKey":    row.DedupeKey,
		"attemptCount": attempt,
		"nextAttempt":  next,
	}).Warn("whatsapp retry queue: deferred row")
}

// Stop asks the cron scheduler to stop firing new ticks and waits for any
// in-flight tick to finish, the same "ask to close, loop exits after the
// current iteration" shutdown shape as the pollers (§5 cancellation).
func (q *Queue) Stop() {
	atomic.StoreInt32(&q.stopped, 1)
	if q.cron != nil {
		stopCtx := q.cron.Stop()
		<-stopCtx.Done()
	}
	q.wg.Wait()
}

func (q *Queue) Stats() (processed, deferred, dropped int64) {
	return atomic.LoadInt64(&q.totalProcessed), atomic.LoadInt64(&q.totalDeferred), atomic.LoadInt64(&q.totalDropped)
}
