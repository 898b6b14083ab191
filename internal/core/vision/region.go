package vision

import (
	"image"
	"sort"
)

// Standardwerte für die Nachbearbeitung der Detektionen
const (
	DefaultMinFacePx   = 40
	DefaultCollapseIoU = 0.7
)

// Region ist ein achsenparalleles Gesichtsrechteck in Pixelkoordinaten
type Region struct {
	X          int           `json:"x"`
	Y          int           `json:"y"`
	W          int           `json:"w"`
	H          int           `json:"h"`
	Confidence float64       `json:"confidence"`
	Landmarks  []image.Point `json:"landmarks,omitempty"`
}

// FromRect erstellt eine Region aus einem image.Rectangle
func FromRect(r image.Rectangle, confidence float64) Region {
	r = r.Canon()
	return Region{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy(), Confidence: confidence}
}

// Rect liefert die Region als image.Rectangle
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Expand vergrößert die Region um einen relativen Rand und beschneidet sie auf das Bild
func (r Region) Expand(margin float64, width, height int) image.Rectangle {
	rect := r.Rect()
	if margin > 0 {
		dx := int(float64(r.W) * margin)
		dy := int(float64(r.H) * margin)
		rect = image.Rect(rect.Min.X-dx, rect.Min.Y-dy, rect.Max.X+dx, rect.Max.Y+dy)
	}
	return rect.Intersect(image.Rect(0, 0, width, height))
}

// Area liefert die Fläche in Pixeln
func (r Region) Area() int {
	if r.W <= 0 || r.H <= 0 {
		return 0
	}
	return r.W * r.H
}

// IoU berechnet Intersection over Union zweier Regionen
func IoU(a, b Region) float64 {
	inter := a.Rect().Intersect(b.Rect())
	if inter.Empty() {
		return 0
	}
	i := inter.Dx() * inter.Dy()
	union := a.Area() + b.Area() - i
	if union <= 0 {
		return 0
	}
	return float64(i) / float64(union)
}

// Clamp beschneidet die Region auf die Bildgrenzen; false, wenn nichts übrig bleibt
func Clamp(r Region, width, height int) (Region, bool) {
	rect := r.Rect().Intersect(image.Rect(0, 0, width, height))
	if rect.Empty() {
		return Region{}, false
	}
	out := r
	out.X, out.Y, out.W, out.H = rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy()
	return out, true
}

// Normalize klemmt alle Regionen an den Frame, verwirft zu kleine und
// fasst Überlappungen mit IoU > iouThreshold zusammen (höchste Konfidenz gewinnt).
func Normalize(regions []Region, width, height, minSide int, iouThreshold float64) []Region {
	candidates := make([]Region, 0, len(regions))
	for _, r := range regions {
		c, ok := Clamp(r, width, height)
		if !ok {
			continue
		}
		if c.W < minSide || c.H < minSide {
			continue
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		if candidates[i].Area() != candidates[j].Area() {
			return candidates[i].Area() > candidates[j].Area()
		}
		if candidates[i].X != candidates[j].X {
			return candidates[i].X < candidates[j].X
		}
		return candidates[i].Y < candidates[j].Y
	})

	kept := make([]Region, 0, len(candidates))
	for _, c := range candidates {
		overlaps := false
		for _, k := range kept {
			if IoU(c, k) > iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	return kept
}

// Largest liefert die flächengrößte Region
func Largest(regions []Region) (Region, bool) {
	if len(regions) == 0 {
		return Region{}, false
	}
	best := regions[0]
	for _, r := range regions[1:] {
		if r.Area() > best.Area() {
			best = r
		}
	}
	return best, true
}
