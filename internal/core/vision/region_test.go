package vision

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b Region
		want float64
	}{
		{"identical", Region{X: 0, Y: 0, W: 10, H: 10}, Region{X: 0, Y: 0, W: 10, H: 10}, 1},
		{"disjoint", Region{X: 0, Y: 0, W: 10, H: 10}, Region{X: 20, Y: 20, W: 10, H: 10}, 0},
		{"half overlap", Region{X: 0, Y: 0, W: 10, H: 10}, Region{X: 5, Y: 0, W: 10, H: 10}, 50.0 / 150.0},
		{"touching edges", Region{X: 0, Y: 0, W: 10, H: 10}, Region{X: 10, Y: 0, W: 10, H: 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IoU(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("IoU = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeCollapsesOverlaps(t *testing.T) {
	regions := []Region{
		{X: 100, Y: 100, W: 100, H: 100, Confidence: 0.80},
		{X: 102, Y: 101, W: 100, H: 100, Confidence: 0.95}, // IoU ~0.95 with the first
		{X: 400, Y: 100, W: 80, H: 80, Confidence: 0.70},
	}

	got := Normalize(regions, 640, 480, 40, 0.7)
	if len(got) != 2 {
		t.Fatalf("expected 2 regions, got %d: %+v", len(got), got)
	}
	if got[0].Confidence != 0.95 || got[0].X != 102 {
		t.Errorf("highest confidence region should win, got %+v", got[0])
	}
	if got[1].X != 400 {
		t.Errorf("separate face should survive, got %+v", got[1])
	}
}

func TestNormalizeKeepsModerateOverlap(t *testing.T) {
	// IoU exactly 1/3, below the collapse threshold
	regions := []Region{
		{X: 0, Y: 0, W: 100, H: 100, Confidence: 0.9},
		{X: 50, Y: 0, W: 100, H: 100, Confidence: 0.8},
	}
	if got := Normalize(regions, 640, 480, 40, 0.7); len(got) != 2 {
		t.Fatalf("expected both regions to be kept, got %d", len(got))
	}
}

func TestNormalizeDropsSmallAndClamps(t *testing.T) {
	regions := []Region{
		// too narrow
		{X: 10, Y: 10, W: 39, H: 120, Confidence: 0.99},
		// clamped to 40x40
		{X: 600, Y: 440, W: 100, H: 100, Confidence: 0.9},
		// clamped to 20 wide, dropped
		{X: 620, Y: 10, W: 100, H: 100, Confidence: 0.9},
		// fully outside
		{X: 700, Y: 700, W: 50, H: 50, Confidence: 0.9},
	}

	got := Normalize(regions, 640, 480, 40, 0.7)
	if len(got) != 1 {
		t.Fatalf("expected 1 region, got %d: %+v", len(got), got)
	}
	r := got[0]
	if r.X != 600 || r.Y != 440 || r.W != 40 || r.H != 40 {
		t.Errorf("unexpected clamped region %+v", r)
	}
	if r.X < 0 || r.Y < 0 || r.X+r.W > 640 || r.Y+r.H > 480 {
		t.Errorf("region outside frame bounds: %+v", r)
	}
}

func TestNormalizeNoFaces(t *testing.T) {
	if got := Normalize(nil, 640, 480, 40, 0.7); len(got) != 0 {
		t.Errorf("expected no regions, got %+v", got)
	}
}

func TestFrameImageRoundTrip(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	img.SetNRGBA(1, 2, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	f := FromImage(img)
	if !f.Valid() || f.Width != 4 || f.Height != 3 {
		t.Fatalf("unexpected frame %dx%d valid=%v", f.Width, f.Height, f.Valid())
	}
	b, g, r := f.BGR(1, 2)
	if b != 50 || g != 100 || r != 200 {
		t.Errorf("expected BGR order, got b=%d g=%d r=%d", b, g, r)
	}

	back := f.ToImage()
	if c := back.NRGBAAt(1, 2); c.R != 200 || c.G != 100 || c.B != 50 {
		t.Errorf("unexpected pixel after round trip: %+v", c)
	}
}

func TestCropStaysInsideFrame(t *testing.T) {
	f := NewFrame(100, 80)
	crop := f.Crop(Region{X: 70, Y: 50, W: 30, H: 30}, 0.5)
	b := crop.Bounds()
	if b.Dx() != 100-55 || b.Dy() != 80-35 {
		t.Errorf("unexpected crop size %dx%d", b.Dx(), b.Dy())
	}
}
