package recognition

import (
	"math"

	log "github.com/sirupsen/logrus"
)

// Standardschwellen
const (
	DefaultTolerance           = 0.6
	DefaultConfidenceThreshold = 0.7
	tieEpsilon                 = 1e-6
)

// Unknown ist die PersonID für nicht erkannte Gesichter
const Unknown uint = 0

// Result ist das Ergebnis eines Abgleichs
type Result struct {
	PersonID   uint    `json:"person_id"`
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence"`
	Distance   float64 `json:"distance,omitempty"`
}

// Known meldet, ob eine Person erkannt wurde
func (r Result) Known() bool {
	return r.PersonID != Unknown
}

// Label liefert den Anzeigenamen für Annotationen
func (r Result) Label() string {
	if !r.Known() {
		return "Unknown"
	}
	return r.Name
}

// Matcher gleicht Embeddings gegen eine Galerie ab
type Matcher struct {
	gallery             *Gallery
	tolerance           float64
	confidenceThreshold float64
}

// NewMatcher erstellt einen Matcher mit den angegebenen Schwellen
func NewMatcher(gallery *Gallery, tolerance, confidenceThreshold float64) *Matcher {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if confidenceThreshold <= 0 {
		confidenceThreshold = DefaultConfidenceThreshold
	}
	return &Matcher{
		gallery:             gallery,
		tolerance:           tolerance,
		confidenceThreshold: confidenceThreshold,
	}
}

// Gallery liefert die zugrunde liegende Galerie
func (m *Matcher) Gallery() *Gallery {
	return m.gallery
}

// Match liefert die beste Person oder Unknown. Bei Gleichstand (Distanzen
// innerhalb von 1e-6) gewinnt die kleinere PersonID.
func (m *Matcher) Match(e Embedding) Result {
	if m.gallery == nil || m.gallery.Len() == 0 {
		return Result{PersonID: Unknown, Confidence: 0}
	}
	if e.Kind != m.gallery.Kind() || e.Dim() != m.gallery.Dim() {
		log.Warnf("Matcher: %s/%d embedding does not fit %s/%d gallery",
			e.Kind, e.Dim(), m.gallery.Kind(), m.gallery.Dim())
		return Result{PersonID: Unknown, Confidence: 0}
	}

	if e.Kind == KindClassifier {
		return m.matchClassifier(e)
	}
	return m.matchDescriptor(e)
}

func (m *Matcher) matchDescriptor(e Embedding) Result {
	bestID := Unknown
	bestDist := math.Inf(1)

	// Minimum je Person; Iter ist nach PersonID sortiert
	var curID uint
	curDist := math.Inf(1)
	consider := func(id uint, d float64) {
		if d < bestDist-tieEpsilon || (math.Abs(d-bestDist) <= tieEpsilon && id < bestID) {
			bestID, bestDist = id, d
		}
	}
	for _, entry := range m.gallery.Iter() {
		if entry.PersonID != curID {
			if curID != Unknown {
				consider(curID, curDist)
			}
			curID, curDist = entry.PersonID, math.Inf(1)
		}
		if d := Distance(e.Vector, entry.Embedding.Vector); d < curDist {
			curDist = d
		}
	}
	if curID != Unknown {
		consider(curID, curDist)
	}

	if bestID == Unknown || math.IsInf(bestDist, 1) {
		return Result{PersonID: Unknown, Confidence: 0}
	}

	confidence := clamp01(1 - bestDist)
	if bestDist > m.tolerance {
		return Result{PersonID: Unknown, Confidence: confidence, Distance: bestDist}
	}
	return Result{
		PersonID:   bestID,
		Name:       m.gallery.Name(bestID),
		Confidence: confidence,
		Distance:   bestDist,
	}
}

func (m *Matcher) matchClassifier(e Embedding) Result {
	p := clamp01(e.Prob)
	if p < m.confidenceThreshold || e.IsUnknownLabel() || e.Label < 0 {
		return Result{PersonID: Unknown, Confidence: p}
	}
	for _, entry := range m.gallery.Iter() {
		if entry.Embedding.Label == e.Label {
			return Result{
				PersonID:   entry.PersonID,
				Name:       m.gallery.Name(entry.PersonID),
				Confidence: p,
			}
		}
	}
	return Result{PersonID: Unknown, Confidence: p}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
