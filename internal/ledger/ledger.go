package ledger

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"signalhub/internal/metrics"
)

// UsageRecord is one row of the usage log. Records are append-only; one is
// written per request, including cache hits and cancellations (both at zero
// cost).
type UsageRecord struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Tier          string            `json:"tier"`
	InputTokens   int               `json:"input_tokens"`
	OutputTokens  int               `json:"output_tokens"`
	Cost          float64           `json:"cost"`
	EstimatedCost float64           `json:"estimated_cost,omitempty"` // what the call would have cost without the cache
	RoutingReason string            `json:"routing_reason,omitempty"`
	CacheHit      bool              `json:"cache_hit"`
	Cancelled     bool              `json:"cancelled,omitempty"`
	LatencyMs     int64             `json:"latency_ms"`
	Method        string            `json:"method,omitempty"`
	ClientID      string            `json:"client_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Store is the durable backing for the ledger. Implementations must tolerate
// concurrent Append calls from a single writer goroutine interleaved with
// reads.
type Store interface {
	Append(rec UsageRecord) error
	Query(start, end time.Time, clientID string) ([]UsageRecord, error)
	DeleteBefore(cutoff time.Time) (int, error)
	Close() error
}

// recordTimeout bounds how long Record waits on a full buffer before
// dropping. The response path is never blocked longer than this.
const recordTimeout = 100 * time.Millisecond

// memoryCap bounds the in-memory ring regardless of retention settings.
const memoryCap = 100_000

// Ledger is the append-only usage log. Request handlers enqueue records on a
// bounded channel; a single background writer drains it into the in-memory
// ring and the optional durable store.
type Ledger struct {
	calc  *Calculator
	store Store

	mu      sync.RWMutex
	records []UsageRecord

	ch      chan UsageRecord
	done    chan struct{}
	wg      sync.WaitGroup
	pending atomic.Int64

	closeOnce sync.Once

	written *metrics.Counter
	dropped *metrics.Counter
	cost    *metrics.Counter
}

// New creates a ledger and starts its writer. store may be nil for a purely
// in-memory ledger.
func New(calc *Calculator, store Store, bufferSize int, reg *metrics.Registry) *Ledger {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	l := &Ledger{
		calc:  calc,
		store: store,
		ch:    make(chan UsageRecord, bufferSize),
		done:  make(chan struct{}),

		written: reg.NewCounter("ledger_records_total", "Usage records written"),
		dropped: reg.NewCounter("ledger_records_dropped_total", "Usage records dropped on backpressure"),
		cost:    reg.NewCounter("ledger_cost_total", "Accumulated cost in dollars", "tier"),
	}
	l.wg.Add(1)
	go l.writer()
	return l
}

// Calculator exposes the pricing table used by this ledger.
func (l *Ledger) Calculator() *Calculator {
	return l.calc
}

// Record enqueues a usage record. On a full buffer it waits briefly, then
// drops the record and bumps the drop metric; it never blocks the response
// path indefinitely.
func (l *Ledger) Record(rec UsageRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	select {
	case <-l.done:
		l.dropped.Inc()
		return
	default:
	}
	// Count the record as pending before it can reach the writer; otherwise a
	// Flush racing with the writer's decrement could return before a record
	// already handed over is written.
	l.pending.Add(1)
	select {
	case l.ch <- rec:
		return
	default:
	}

	timer := time.NewTimer(recordTimeout)
	defer timer.Stop()
	select {
	case l.ch <- rec:
	case <-timer.C:
		l.pending.Add(-1)
		l.dropped.Inc()
		log.Printf("[Ledger] Buffer full, dropped record %s", rec.ID)
	case <-l.done:
		l.pending.Add(-1)
		l.dropped.Inc()
	}
}

// writer is the single consumer of the record channel. On shutdown it drains
// whatever is still buffered before returning.
func (l *Ledger) writer() {
	defer l.wg.Done()
	for {
		select {
		case rec := <-l.ch:
			l.write(rec)
		case <-l.done:
			for {
				select {
				case rec := <-l.ch:
					l.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (l *Ledger) write(rec UsageRecord) {
	defer l.pending.Add(-1)
	l.mu.Lock()
	l.records = append(l.records, rec)
	if len(l.records) > memoryCap {
		l.records = l.records[len(l.records)-memoryCap:]
	}
	l.mu.Unlock()

	l.written.Inc()
	l.cost.Add(rec.Cost, rec.Tier)

	if l.store != nil {
		if err := l.store.Append(rec); err != nil {
			// Persistence failures never fail the request.
			log.Printf("[Ledger] Failed to persist record %s: %v", rec.ID, err)
		}
	}
}

// Close drains pending records and stops the writer. Safe to call more than
// once.
func (l *Ledger) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		if l.store != nil {
			if err := l.store.Close(); err != nil {
				log.Printf("[Ledger] Failed to close store: %v", err)
			}
		}
	})
}

// Flush blocks until every record enqueued before the call has been written.
func (l *Ledger) Flush() {
	for l.pending.Load() > 0 {
		time.Sleep(time.Millisecond)
	}
}

// snapshot returns records in [start, end), optionally filtered by client.
func (l *Ledger) snapshot(start, end time.Time, clientID string) []UsageRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]UsageRecord, 0, len(l.records))
	for _, rec := range l.records {
		if rec.Timestamp.Before(start) || !rec.Timestamp.Before(end) {
			continue
		}
		if clientID != "" && rec.ClientID != clientID {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Count returns the number of in-memory records.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Cleanup removes records older than the cutoff from memory and the durable
// store, returning how many in-memory records were dropped.
func (l *Ledger) Cleanup(olderThan time.Time) int {
	l.mu.Lock()
	kept := l.records[:0]
	removed := 0
	for _, rec := range l.records {
		if rec.Timestamp.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	l.records = kept
	l.mu.Unlock()

	if l.store != nil {
		if _, err := l.store.DeleteBefore(olderThan); err != nil {
			log.Printf("[Ledger] Cleanup of durable store failed: %v", err)
		}
	}
	return removed
}
