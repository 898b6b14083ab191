package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/failure"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/core/recognition"
	"face-attendance-go/internal/core/vision"

	log "github.com/sirupsen/logrus"
)

// FrameSource liefert Kamerabilder. Read gibt BadFrame für unbrauchbare Bilder zurück.
type FrameSource interface {
	Read(ctx context.Context) (vision.Frame, error)
	Close() error
}

// Locator findet Gesichter in einem Frame
type Locator interface {
	Locate(frame vision.Frame) ([]vision.Region, error)
}

// Embedder berechnet das Embedding einer Gesichtsregion; ok == false bei unbrauchbarem Ausschnitt
type Embedder interface {
	Kind() recognition.Kind
	Dim() int
	Embed(frame vision.Frame, region vision.Region) (recognition.Embedding, bool, error)
}

// State ist der Zustand des Koordinators
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Options steuert den Takt der Pipeline
type Options struct {
	ProcessEveryN int
	MaxBadFrames  int
	DrainTimeout  time.Duration
	Tracker       TrackerOptions
	Now           func() time.Time
}

// OptionsFromConfig übernimmt die Pipeline-Einstellungen aus der Konfiguration
func OptionsFromConfig(cfg *config.Config) Options {
	p := cfg.Pipeline
	return Options{
		ProcessEveryN: p.ProcessEveryNFrames,
		MaxBadFrames:  cfg.Camera.MaxBadFrames,
		DrainTimeout:  time.Duration(p.DrainTimeoutSeconds) * time.Second,
		Tracker: TrackerOptions{
			Window:          p.ConfirmWindow,
			Expire:          time.Duration(p.ExpireMs) * time.Millisecond,
			MatchIoU:        p.TrackIoU,
			ObserveInterval: time.Duration(p.ObserveIntervalSeconds) * time.Second,
		},
	}
}

// Stats sind die Zähler des Koordinators
type Stats struct {
	State           string `json:"state"`
	FramesRead      uint64 `json:"frames_read"`
	FramesProcessed uint64 `json:"frames_processed"`
	BadFrames       uint64 `json:"bad_frames"`
	Faces           uint64 `json:"faces"`
	EmbedFailures   uint64 `json:"embed_failures"`
	Unknown         uint64 `json:"unknown"`
	Observations    uint64 `json:"observations"`
	PreviewDropped  uint64 `json:"preview_dropped"`
}

// Coordinator treibt Kamera → Locator → Embedder → Matcher → Tracker → Event-Writer
// in einer einzigen Goroutine.
type Coordinator struct {
	source   FrameSource
	locator  Locator
	embedder Embedder
	matcher  *recognition.Matcher
	writer   *EventWriter
	tracker  *Tracker
	frames   *FrameQueue
	opts     Options

	state  atomic.Int32
	mu     sync.Mutex
	cancel context.CancelFunc

	framesRead      atomic.Uint64
	framesProcessed atomic.Uint64
	badFrames       atomic.Uint64
	faces           atomic.Uint64
	embedFailures   atomic.Uint64
	unknown         atomic.Uint64
	observations    atomic.Uint64
}

// NewCoordinator erstellt einen neuen Koordinator. Embedder und Galerie müssen dieselbe Variante nutzen.
func NewCoordinator(source FrameSource, locator Locator, embedder Embedder, matcher *recognition.Matcher,
	writer *EventWriter, frames *FrameQueue, opts Options) (*Coordinator, error) {

	if g := matcher.Gallery(); g != nil && (g.Kind() != embedder.Kind() || g.Dim() != embedder.Dim()) {
		return nil, failure.Errorf(failure.GalleryCorrupt, "processor.NewCoordinator",
			"gallery is %s/%d but embedder produces %s/%d", g.Kind(), g.Dim(), embedder.Kind(), embedder.Dim())
	}
	if opts.ProcessEveryN < 1 {
		opts.ProcessEveryN = 1
	}
	if opts.MaxBadFrames < 1 {
		opts.MaxBadFrames = 30
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if frames == nil {
		frames = NewFrameQueue(2)
	}

	return &Coordinator{
		source:   source,
		locator:  locator,
		embedder: embedder,
		matcher:  matcher,
		writer:   writer,
		tracker:  NewTracker(opts.Tracker),
		frames:   frames,
		opts:     opts,
	}, nil
}

// Frames liefert die Queue annotierter Frames für die Oberfläche
func (c *Coordinator) Frames() *FrameQueue {
	return c.frames
}

// State liefert den aktuellen Zustand
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Stop leitet das Herunterfahren ein; Run kehrt nach dem aktuellen Frame zurück
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil && c.State() == StateRunning {
		c.state.Store(int32(StateStopping))
		c.cancel()
	}
}

// Run verarbeitet Frames, bis ctx endet, Stop aufgerufen wird oder die Kamera ausfällt.
// Beim Verlassen werden Kamera freigegeben, der Event-Writer geleert und die Frame-Queue geschlossen.
func (c *Coordinator) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	if c.State() != StateIdle {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("coordinator already %s", c.State())
	}
	c.cancel = cancel
	c.state.Store(int32(StateRunning))
	c.mu.Unlock()

	if c.writer != nil {
		c.writer.Start(context.WithoutCancel(parent))
	}
	log.WithFields(log.Fields{
		"process_every_n": c.opts.ProcessEveryN,
		"confirm_window":  c.opts.Tracker.Window,
		"embedder":        c.embedder.Kind(),
	}).Info("Pipeline started")

	err := c.loop(ctx)

	c.state.Store(int32(StateStopping))
	cancel()
	if cerr := c.source.Close(); cerr != nil {
		log.WithError(cerr).Warn("Failed to release camera")
	}
	if c.writer != nil {
		c.writer.Stop(c.opts.DrainTimeout)
	}
	c.frames.Close()
	c.state.Store(int32(StateStopped))

	s := c.Stats()
	log.Infof("Pipeline stopped (frames %d, processed %d, bad %d, faces %d, observations %d)",
		s.FramesRead, s.FramesProcessed, s.BadFrames, s.Faces, s.Observations)
	return err
}

func (c *Coordinator) loop(ctx context.Context) error {
	var (
		consecutiveBad int
		seq            uint64
		lastFaces      []FaceAnnotation
	)
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := c.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if failure.Is(err, failure.BadFrame) {
				c.badFrames.Add(1)
				consecutiveBad++
				if consecutiveBad >= c.opts.MaxBadFrames {
					return failure.Errorf(failure.CameraUnavailable, "processor.Run",
						"%d consecutive bad frames: %v", consecutiveBad, err)
				}
				log.WithError(err).Debug("Skipping bad frame")
				continue
			}
			return err
		}
		consecutiveBad = 0
		seq++
		c.framesRead.Add(1)
		frame.Seq = seq
		if frame.CapturedAt.IsZero() {
			frame.CapturedAt = c.opts.Now()
		}

		processed := (seq-1)%uint64(c.opts.ProcessEveryN) == 0
		if processed {
			lastFaces = c.process(frame)
			c.framesProcessed.Add(1)
		}

		c.frames.Push(AnnotatedFrame{
			Frame:     frame,
			Faces:     lastFaces,
			Processed: processed,
		})
	}
}

// process führt Locate → Embed → Match für einen Frame aus und aktualisiert den Tracker
func (c *Coordinator) process(frame vision.Frame) []FaceAnnotation {
	regions, err := c.locator.Locate(frame)
	if err != nil {
		log.WithError(err).Warn("Face locator failed, skipping frame")
		return nil
	}
	if len(regions) == 0 {
		c.tracker.Update(frame.CapturedAt, nil)
		return nil
	}
	c.faces.Add(uint64(len(regions)))

	detections := make([]Detection, 0, len(regions))
	for _, region := range regions {
		emb, ok, err := c.embedder.Embed(frame, region)
		if err != nil || !ok {
			c.embedFailures.Add(1)
			if err != nil {
				log.WithError(err).Debug("Embedding failed, skipping face")
			}
			continue
		}
		res := c.matcher.Match(emb)
		if !res.Known() {
			c.unknown.Add(1)
		}
		detections = append(detections, Detection{
			Box:  region,
			Vote: Vote{PersonID: res.PersonID, Name: res.Name, Confidence: res.Confidence},
		})
	}

	assignments := c.tracker.Update(frame.CapturedAt, detections)
	annotations := make([]FaceAnnotation, 0, len(assignments))
	var snapshot *vision.Frame
	for _, a := range assignments {
		annotations = append(annotations, FaceAnnotation{
			SlotID:     a.SlotID,
			Box:        a.Box,
			Label:      a.Label(),
			PersonID:   a.PersonID,
			Confidence: a.Confidence,
			State:      a.State.String(),
		})
		if !a.Forward || c.writer == nil {
			continue
		}
		if snapshot == nil {
			clone := frame.Clone()
			snapshot = &clone
		}
		c.observations.Add(1)
		c.writer.Enqueue(models.Observation{
			PersonID:   a.PersonID,
			Name:       a.Name,
			Confidence: a.Confidence,
			Timestamp:  frame.CapturedAt,
			SlotID:     a.SlotID,
			Box:        a.Box,
			Frame:      snapshot,
		})
	}
	return annotations
}

// Stats liefert eine Momentaufnahme der Zähler
func (c *Coordinator) Stats() Stats {
	return Stats{
		State:           c.State().String(),
		FramesRead:      c.framesRead.Load(),
		FramesProcessed: c.framesProcessed.Load(),
		BadFrames:       c.badFrames.Load(),
		Faces:           c.faces.Load(),
		EmbedFailures:   c.embedFailures.Load(),
		Unknown:         c.unknown.Load(),
		Observations:    c.observations.Load(),
		PreviewDropped:  c.frames.Dropped(),
	}
}
