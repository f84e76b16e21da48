package retryqueue

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/relaymux/mux/internal/persistence"
)

func TestBackoff_DoublesUntilCap(t *testing.T) {
	cases := []struct {
		attempt  int
		expected int64
	}{
		{0, 1000},
		{1, 2000},
		{2, 4000},
		{3, 8000},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, Backoff(c.attempt, 1000, 60_000))
	}
}

func TestBackoff_CapsAtMax(t *testing.T) {
	require.Equal(t, int64(60_000), Backoff(20, 1000, 60_000))
	// attemptCount is clamped to 10 internally, so 2^10*1000 = 1,024,000 > max.
	require.Equal(t, int64(60_000), Backoff(10, 1000, 60_000))
}

func openTestDB(t *testing.T) *persistence.DB {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	path := filepath.Join(t.TempDir(), "mux.db")
	db, err := persistence.Open(path, logrus.NewEntry(log))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestQueue_Tick_SuccessDeletesRow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.EnqueueWhatsAppSend(ctx, "dedupe-1", `{"type":"text"}`, 0)
	require.NoError(t, err)

	q := New(db, Config{BatchSize: 10, InitialMs: 1000, MaxMs: 60_000},
		logrus.NewEntry(logrus.New()),
		func(ctx context.Context, row persistence.WhatsAppQueueRow) error { return nil })

	q.tick(ctx)

	processed, deferred, dropped := q.Stats()
	require.Equal(t, int64(1), processed)
	require.Equal(t, int64(0), deferred)
	require.Equal(t, int64(0), dropped)

	remaining, err := db.DueWhatsAppSends(ctx, 1<<62, 10)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestQueue_Tick_FailureDefersWithBackoff(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.EnqueueWhatsAppSend(ctx, "dedupe-2", `{"type":"text"}`, 0)
	require.NoError(t, err)

	q := New(db, Config{BatchSize: 10, InitialMs: 1000, MaxMs: 60_000},
		logrus.NewEntry(logrus.New()),
		func(ctx context.Context, row persistence.WhatsAppQueueRow) error { return errors.New("upstream unavailable") })

	q.tick(ctx)

	processed, deferred, dropped := q.Stats()
	require.Equal(t, int64(0), processed)
	require.Equal(t, int64(1), deferred)
	require.Equal(t, int64(0), dropped)

	// The row is rescheduled into the future, so an immediate due-scan at
	// "now" should no longer pick it up.
	due, err := db.DueWhatsAppSends(ctx, 500, 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestQueue_EnqueueDedupeIsNoOp(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	inserted, err := db.EnqueueWhatsAppSend(ctx, "dup-key", `{"a":1}`, 0)
	require.NoError(t, err)
	require.True(t, inserted)

	insertedAgain, err := db.EnqueueWhatsAppSend(ctx, "dup-key", `{"a":2}`, 0)
	require.NoError(t, err)
	require.False(t, insertedAgain)
}
