package board

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"veriline/internal/store"
)

const (
	defaultWriteAttempts = 3
	defaultWriteBackoff  = 250 * time.Millisecond
)

// WriteQueue persists state snapshots in the background so a drag gesture
// never waits on the network. Writes are keyed by unit id and coalesce
// last-write-wins: a newer snapshot for a unit replaces its pending one.
// Terminal failures surface through OnError; the board state is not rolled
// back, so a reload can show the server's older value (documented risk).
type WriteQueue struct {
	st            store.Store
	workspace     string
	investigation string
	segment       string
	log           zerolog.Logger

	attempts int
	backoff  time.Duration
	// OnError observes a write that exhausted its retries.
	OnError func(unitID int, err error)

	mu      sync.Mutex
	cond    *sync.Cond
	pending map[int]string
	queue   []int
	busy    bool
	closed  bool
}

// NewWriteQueue starts the queue's worker.
func NewWriteQueue(st store.Store, workspace, investigation, segment string, log zerolog.Logger) *WriteQueue {
	q := &WriteQueue{
		st:            st,
		workspace:     workspace,
		investigation: investigation,
		segment:       segment,
		log:           log,
		attempts:      defaultWriteAttempts,
		backoff:       defaultWriteBackoff,
		pending:       make(map[int]string),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Enqueue schedules a snapshot write for a unit. Never blocks.
func (q *WriteQueue) Enqueue(unitID int, snapshot string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if _, queued := q.pending[unitID]; !queued {
		q.queue = append(q.queue, unitID)
	}
	q.pending[unitID] = snapshot
	q.cond.Broadcast()
}

// Flush blocks until every pending write has been attempted. For tests and
// process shutdown; the render path never calls it.
func (q *WriteQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.queue) > 0 || q.busy {
		q.cond.Wait()
	}
}

// Close drains the queue and stops the worker.
func (q *WriteQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.Flush()
}

func (q *WriteQueue) run() {
	for {
		q.mu.Lock()
		for len(q.queue) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.queue) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		unitID := q.queue[0]
		q.queue = q.queue[1:]
		snapshot := q.pending[unitID]
		delete(q.pending, unitID)
		q.busy = true
		q.mu.Unlock()

		err := q.write(unitID, snapshot)

		q.mu.Lock()
		q.busy = false
		q.cond.Broadcast()
		q.mu.Unlock()

		if err != nil {
			q.log.Error().Err(err).Int("unit", unitID).Msg("state write failed after retries")
			if q.OnError != nil {
				q.OnError(unitID, err)
			}
		}
	}
}

func (q *WriteQueue) write(unitID int, snapshot string) error {
	var err error
	delay := q.backoff
	for attempt := 0; attempt < q.attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		err = q.st.PutUnitState(context.Background(), q.workspace, q.investigation, q.segment, unitID, snapshot)
		if err == nil {
			return nil
		}
	}
	return err
}
