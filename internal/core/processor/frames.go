package processor

import (
	"sync"
	"sync/atomic"

	"face-attendance-go/internal/core/vision"
)

// FaceAnnotation beschreibt ein eingezeichnetes Gesicht
type FaceAnnotation struct {
	SlotID     int           `json:"slot_id"`
	Box        vision.Region `json:"box"`
	Label      string        `json:"label"`
	PersonID   uint          `json:"person_id,omitempty"`
	Confidence float64       `json:"confidence"`
	State      string        `json:"state"`
}

// AnnotatedFrame ist ein Frame mit den aktuellen Boxen und Labels für die Oberfläche
type AnnotatedFrame struct {
	Frame     vision.Frame
	Faces     []FaceAnnotation
	Processed bool
}

// FrameQueue ist die Warteschlange zwischen Pipeline und Oberfläche. Es gibt genau
// einen Produzenten; bei voller Queue wird der älteste Frame ersetzt.
type FrameQueue struct {
	mu      sync.Mutex
	ch      chan AnnotatedFrame
	closed  bool
	dropped atomic.Uint64
}

// NewFrameQueue erstellt eine neue Queue
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{ch: make(chan AnnotatedFrame, capacity)}
}

// Push stellt einen Frame ein, ohne zu blockieren
func (q *FrameQueue) Push(f AnnotatedFrame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	for {
		select {
		case q.ch <- f:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// C liefert den Kanal für den Verbraucher; er wird beim Stoppen geschlossen
func (q *FrameQueue) C() <-chan AnnotatedFrame {
	return q.ch
}

// Dropped liefert die Zahl ersetzter Frames
func (q *FrameQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close schließt die Queue; weitere Push-Aufrufe werden ignoriert
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
