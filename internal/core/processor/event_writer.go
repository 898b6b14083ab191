package processor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"face-attendance-go/internal/core/attendance"
	"face-attendance-go/internal/core/failure"
	"face-attendance-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Sink nimmt bestätigte Beobachtungen entgegen; in Produktion der attendance.Recorder
type Sink interface {
	Record(ctx context.Context, obs models.Observation) (attendance.Outcome, error)
}

// WriterOptions steuert Queue und Wiederholungen des Event-Writers
type WriterOptions struct {
	Capacity   int
	MaxRetries int
	RetryBase  time.Duration
}

// WriterStats sind die Zähler des Event-Writers
type WriterStats struct {
	Enqueued uint64 `json:"enqueued"`
	Handled  uint64 `json:"handled"`
	Written  uint64 `json:"written"`
	Dropped  uint64 `json:"dropped_events"`
	Failed   uint64 `json:"failed_events"`
	Queued   int    `json:"queued"`
	Capacity int    `json:"capacity"`
}

// EventWriter entkoppelt die Pipeline vom Event-Store. Ein einzelner Worker
// verarbeitet die Queue in Reihenfolge; ist sie voll, fällt die älteste Beobachtung weg.
type EventWriter struct {
	sink  Sink
	opts  WriterOptions
	queue chan models.Observation

	enqueueMu sync.Mutex
	stopping  atomic.Bool
	stopCh    chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	deadline  atomic.Int64

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	enqueued atomic.Uint64
	handled  atomic.Uint64
	written  atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// NewEventWriter erstellt einen neuen Event-Writer
func NewEventWriter(sink Sink, opts WriterOptions) *EventWriter {
	if opts.Capacity < 1 {
		opts.Capacity = 64
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 100 * time.Millisecond
	}
	return &EventWriter{
		sink:   sink,
		opts:   opts,
		queue:  make(chan models.Observation, opts.Capacity),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start startet den Worker. Stop bricht dessen Kontext ab, sobald die Drain-Deadline verstrichen ist.
func (w *EventWriter) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		wctx, cancel := context.WithCancel(ctx)
		w.cancelMu.Lock()
		w.cancel = cancel
		w.cancelMu.Unlock()

		log.Infof("Starting event writer (queue capacity %d)", w.opts.Capacity)
		go w.run(wctx)
	})
}

func (w *EventWriter) cancelWorker() {
	w.cancelMu.Lock()
	defer w.cancelMu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

// Enqueue stellt eine Beobachtung ein, ohne zu blockieren
func (w *EventWriter) Enqueue(obs models.Observation) bool {
	if w.stopping.Load() {
		w.dropped.Add(1)
		log.WithField("person_id", obs.PersonID).Warn("Event writer is stopping, observation dropped")
		return false
	}

	w.enqueueMu.Lock()
	defer w.enqueueMu.Unlock()
	for {
		select {
		case w.queue <- obs:
			w.enqueued.Add(1)
			return true
		default:
		}
		// Queue voll: älteste Beobachtung verwerfen
		select {
		case old := <-w.queue:
			w.dropped.Add(1)
			log.WithFields(log.Fields{
				"person_id": old.PersonID,
				"timestamp": old.Timestamp,
			}).Warn("Event queue full, dropped oldest observation")
		default:
		}
	}
}

func (w *EventWriter) run(ctx context.Context) {
	defer close(w.done)
	defer w.cancelWorker()
	for {
		select {
		case obs := <-w.queue:
			w.write(ctx, obs)
		case <-w.stopCh:
			w.drain(ctx)
			return
		case <-ctx.Done():
			w.drain(context.Background())
			return
		}
	}
}

// drain schreibt die Restqueue bis zur Deadline und verwirft danach den Rest
func (w *EventWriter) drain(parent context.Context) {
	deadline := time.Unix(0, w.deadline.Load())
	if w.deadline.Load() == 0 {
		deadline = time.Now().Add(2 * time.Second)
	}
	ctx, cancel := context.WithDeadline(context.WithoutCancel(parent), deadline)
	defer cancel()

	for {
		select {
		case obs := <-w.queue:
			if ctx.Err() != nil {
				w.dropped.Add(uint64(1 + len(w.queue)))
				log.Warnf("Drain deadline reached, %d observations dropped", 1+len(w.queue))
				return
			}
			w.write(ctx, obs)
		default:
			return
		}
	}
}

// write übergibt eine Beobachtung und wiederholt StoreUnavailable mit exponentiellem Backoff
func (w *EventWriter) write(ctx context.Context, obs models.Observation) {
	logger := log.WithFields(log.Fields{
		"person_id": obs.PersonID,
		"name":      obs.Name,
	})

	backoff := w.opts.RetryBase
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			w.failed.Add(1)
			logger.WithError(ctx.Err()).Errorf("Gave up recording observation after %d attempts", attempt)
			return
		}
		outcome, err := w.sink.Record(ctx, obs)
		if err == nil {
			w.handled.Add(1)
			if outcome.Wrote() {
				w.written.Add(1)
			}
			return
		}

		if !failure.Is(err, failure.StoreUnavailable) || attempt >= w.opts.MaxRetries {
			w.failed.Add(1)
			logger.WithError(err).Errorf("Failed to record observation after %d attempts", attempt+1)
			return
		}

		logger.WithError(err).Warnf("Event store unavailable, retrying in %v", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			w.failed.Add(1)
			logger.WithError(ctx.Err()).Error("Gave up recording observation")
			return
		}
		backoff *= 2
	}
}

// Stop beendet die Annahme und leert die Queue bis timeout. Danach wird der Worker
// abgebrochen; Stop kehrt erst zurück, wenn er beendet ist und die Senke nicht mehr aufruft.
func (w *EventWriter) Stop(timeout time.Duration) {
	w.stopOnce.Do(func() {
		w.stopping.Store(true)
		w.deadline.Store(time.Now().Add(timeout).UnixNano())
		close(w.stopCh)
	})
	// ohne Start übernimmt ein kurzlebiger Worker das Leeren
	w.Start(context.Background())

	timer := time.NewTimer(time.Until(time.Unix(0, w.deadline.Load())))
	defer timer.Stop()
	select {
	case <-w.done:
	case <-timer.C:
		log.Warn("Drain deadline reached, cancelling event writer")
		w.cancelWorker()
		<-w.done
	}
	s := w.Stats()
	log.Infof("Event writer stopped (written %d, dropped %d, failed %d)", s.Written, s.Dropped, s.Failed)
}

// Stats liefert eine Momentaufnahme der Zähler
func (w *EventWriter) Stats() WriterStats {
	return WriterStats{
		Enqueued: w.enqueued.Load(),
		Handled:  w.handled.Load(),
		Written:  w.written.Load(),
		Dropped:  w.dropped.Load(),
		Failed:   w.failed.Load(),
		Queued:   len(w.queue),
		Capacity: cap(w.queue),
	}
}
