package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"face-attendance-go/internal/core/failure"
	"face-attendance-go/internal/core/recognition"
	"face-attendance-go/internal/core/vision"
)

// scriptedSource liefert eine feste Folge von Frames oder Fehlern und stoppt danach
type scriptedSource struct {
	steps  []error
	pos    int
	now    time.Time
	onEnd  func()
	closed bool
}

func (s *scriptedSource) Read(ctx context.Context) (vision.Frame, error) {
	if s.pos >= len(s.steps) {
		if s.onEnd != nil {
			s.onEnd()
		}
		<-ctx.Done()
		return vision.Frame{}, ctx.Err()
	}
	err := s.steps[s.pos]
	s.pos++
	s.now = s.now.Add(100 * time.Millisecond)
	if err != nil {
		return vision.Frame{}, err
	}
	f := vision.NewFrame(64, 64)
	f.CapturedAt = s.now
	return f, nil
}

func (s *scriptedSource) Close() error {
	s.closed = true
	return nil
}

type oneFaceLocator struct{ calls int }

func (l *oneFaceLocator) Locate(vision.Frame) ([]vision.Region, error) {
	l.calls++
	return []vision.Region{{X: 8, Y: 8, W: 40, H: 40, Confidence: 0.99}}, nil
}

// scriptedEmbedder liefert pro Aufruf den Vektor der nächsten Person im Skript
type scriptedEmbedder struct {
	persons []uint
	pos     int
}

func (e *scriptedEmbedder) Kind() recognition.Kind { return recognition.KindDescriptor }
func (e *scriptedEmbedder) Dim() int               { return 2 }

func (e *scriptedEmbedder) Embed(vision.Frame, vision.Region) (recognition.Embedding, bool, error) {
	if e.pos >= len(e.persons) {
		return recognition.Embedding{}, false, nil
	}
	id := e.persons[e.pos]
	e.pos++
	switch id {
	case 1:
		return recognition.Descriptor([]float32{1, 0}), true, nil
	case 2:
		return recognition.Descriptor([]float32{0, 1}), true, nil
	default:
		return recognition.Descriptor([]float32{-1, 0}), true, nil
	}
}

func twoPersonMatcher(t *testing.T) *recognition.Matcher {
	t.Helper()
	g := recognition.NewGallery(recognition.KindDescriptor, 2)
	if err := g.Add(1, "Alice", recognition.Descriptor([]float32{1, 0})); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(2, "Bob", recognition.Descriptor([]float32{0, 1})); err != nil {
		t.Fatal(err)
	}
	return recognition.NewMatcher(g, 0.6, 0.7)
}

func frames(n int) []error {
	return make([]error, n)
}

func newTestCoordinator(t *testing.T, source *scriptedSource, embedder Embedder, sink Sink, every int) (*Coordinator, *oneFaceLocator) {
	t.Helper()
	locator := &oneFaceLocator{}
	writer := NewEventWriter(sink, WriterOptions{Capacity: 64, RetryBase: time.Millisecond})
	c, err := NewCoordinator(source, locator, embedder, twoPersonMatcher(t), writer, NewFrameQueue(2), Options{
		ProcessEveryN: every,
		MaxBadFrames:  3,
		DrainTimeout:  time.Second,
		Tracker: TrackerOptions{
			Window:          5,
			Expire:          1500 * time.Millisecond,
			MatchIoU:        0.3,
			ObserveInterval: time.Minute,
		},
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	source.onEnd = c.Stop
	return c, locator
}

func TestCoordinatorFlickerSuppression(t *testing.T) {
	source := &scriptedSource{steps: frames(5), now: time.Unix(1700000000, 0)}
	sink := &recordingSink{}
	c, _ := newTestCoordinator(t, source, &scriptedEmbedder{persons: []uint{1, 1, 2, 1, 1}}, sink, 1)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := sink.persons()
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected a single Alice observation, got %v", got)
	}
	if sink.got[0].Frame == nil {
		t.Error("observation should carry the frame for snapshots")
	}
	if !source.closed {
		t.Error("camera must be released on stop")
	}
	if c.State() != StateStopped {
		t.Errorf("state = %s, want stopped", c.State())
	}
	s := c.Stats()
	if s.FramesRead != 5 || s.FramesProcessed != 5 || s.Observations != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestCoordinatorProcessesEveryNthFrame(t *testing.T) {
	source := &scriptedSource{steps: frames(9), now: time.Unix(1700000000, 0)}
	c, locator := newTestCoordinator(t, source, &scriptedEmbedder{persons: []uint{1, 1, 1}}, &recordingSink{}, 3)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if locator.calls != 3 {
		t.Errorf("expected 3 processed frames out of 9, locator ran %d times", locator.calls)
	}
	if s := c.Stats(); s.FramesRead != 9 || s.FramesProcessed != 3 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestCoordinatorSkipsBadFramesAndUnknownFaces(t *testing.T) {
	bad := failure.New(failure.BadFrame, "camera.Read", errors.New("empty frame"))
	source := &scriptedSource{steps: []error{nil, bad, nil, bad, bad, nil}, now: time.Unix(1700000000, 0)}
	sink := &recordingSink{}
	c, _ := newTestCoordinator(t, source, &scriptedEmbedder{persons: []uint{0, 0, 0}}, sink, 1)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("bad frames below the limit must not stop the pipeline: %v", err)
	}
	s := c.Stats()
	if s.BadFrames != 3 || s.FramesRead != 3 || s.Unknown != 3 {
		t.Errorf("unexpected stats %+v", s)
	}
	if len(sink.persons()) != 0 {
		t.Errorf("unknown faces must not reach the service")
	}
}

func TestCoordinatorCameraUnavailableAfterBadFrames(t *testing.T) {
	bad := failure.New(failure.BadFrame, "camera.Read", errors.New("empty frame"))
	source := &scriptedSource{steps: []error{nil, bad, bad, bad}, now: time.Unix(1700000000, 0)}
	c, _ := newTestCoordinator(t, source, &scriptedEmbedder{}, &recordingSink{}, 1)

	err := c.Run(context.Background())
	if !failure.Is(err, failure.CameraUnavailable) {
		t.Fatalf("expected CameraUnavailable, got %v", err)
	}
	if failure.ExitCode(err) != 3 {
		t.Errorf("exit code = %d, want 3", failure.ExitCode(err))
	}
	if !source.closed {
		t.Error("camera must be released after failure")
	}
}

func TestCoordinatorCountsEmbedFailures(t *testing.T) {
	source := &scriptedSource{steps: frames(4), now: time.Unix(1700000000, 0)}
	c, _ := newTestCoordinator(t, source, &scriptedEmbedder{persons: []uint{1}}, &recordingSink{}, 1)

	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s := c.Stats(); s.EmbedFailures != 3 || s.Faces != 4 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestCoordinatorPublishesAnnotatedFrames(t *testing.T) {
	source := &scriptedSource{steps: frames(3), now: time.Unix(1700000000, 0)}
	c, _ := newTestCoordinator(t, source, &scriptedEmbedder{persons: []uint{2, 2, 2}}, &recordingSink{}, 1)

	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	var last AnnotatedFrame
	n := 0
	for f := range c.Frames().C() {
		last = f
		n++
	}
	if n == 0 || n > 2 {
		t.Fatalf("queue should hold at most 2 frames, got %d", n)
	}
	if last.Frame.Seq != 3 || len(last.Faces) != 1 {
		t.Fatalf("unexpected last frame seq=%d faces=%d", last.Frame.Seq, len(last.Faces))
	}
	if last.Faces[0].Label != "Bob" || last.Faces[0].State != "confirmed" {
		t.Errorf("unexpected annotation %+v", last.Faces[0])
	}
}

func TestNewCoordinatorRejectsVariantMismatch(t *testing.T) {
	g := recognition.NewGallery(recognition.KindClassifier, 10)
	m := recognition.NewMatcher(g, 0.6, 0.7)
	_, err := NewCoordinator(&scriptedSource{}, &oneFaceLocator{}, &scriptedEmbedder{}, m, nil, nil, Options{})
	if !failure.Is(err, failure.GalleryCorrupt) {
		t.Fatalf("expected GalleryCorrupt, got %v", err)
	}
}
