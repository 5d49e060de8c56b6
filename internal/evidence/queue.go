package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type pendingItem struct {
	key  string
	jpeg []byte
}

// Queue buffers snapshots that could not be uploaded yet. Flush retries
// every pending item; an item leaves the queue only after the store
// accepts it, so delivery is at-least-once.
type Queue struct {
	uploader *Uploader
	log      *slog.Logger

	mu      sync.Mutex
	pending []pendingItem
}

// NewQueue creates an upload queue backed by uploader.
func NewQueue(uploader *Uploader) *Queue {
	return &Queue{
		uploader: uploader,
		log:      slog.Default().With("component", "evidence-queue"),
	}
}

// Add enqueues a snapshot for upload.
func (q *Queue) Add(key string, jpeg []byte) {
	buf := make([]byte, len(jpeg))
	copy(buf, jpeg)
	q.mu.Lock()
	q.pending = append(q.pending, pendingItem{key: key, jpeg: buf})
	q.mu.Unlock()
}

// Pending reports how many snapshots still await upload.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Flush attempts every pending upload and returns key→URL for those that
// succeeded. Failed items stay queued; the first failure is returned as
// the error after all items have been tried.
func (q *Queue) Flush(ctx context.Context) (map[string]string, error) {
	q.mu.Lock()
	items := q.pending
	q.pending = nil
	q.mu.Unlock()

	uploaded := make(map[string]string, len(items))
	var remaining []pendingItem
	var firstErr error

	for _, item := range items {
		url, err := q.uploader.Put(ctx, item.key, item.jpeg)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			remaining = append(remaining, item)
			continue
		}
		uploaded[item.key] = url
	}

	if len(remaining) > 0 {
		q.mu.Lock()
		// New items may have arrived during the flush; keep them after
		// the retries so order is preserved.
		q.pending = append(remaining, q.pending...)
		q.mu.Unlock()
		q.log.Warn("flush left snapshots pending", "pending", len(remaining), "uploaded", len(uploaded))
		return uploaded, fmt.Errorf("flush: %d snapshots still pending: %w", len(remaining), firstErr)
	}

	if len(uploaded) > 0 {
		q.log.Info("evidence flushed", "uploaded", len(uploaded))
	}
	return uploaded, nil
}
