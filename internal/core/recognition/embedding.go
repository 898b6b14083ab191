package recognition

import (
	"fmt"
	"math"
	"strings"
)

// Kind unterscheidet die beiden Embedding-Varianten
type Kind uint8

const (
	KindDescriptor Kind = 1
	KindClassifier Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindDescriptor:
		return "descriptor"
	case KindClassifier:
		return "classifier"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind liest den Konfigurationswert ("descriptor" oder "classifier")
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "descriptor":
		return KindDescriptor, nil
	case "classifier":
		return KindClassifier, nil
	default:
		return 0, fmt.Errorf("unknown embedder kind %q", s)
	}
}

// UnknownLabel ist der reservierte Klassenname für nicht erkannte Gesichter
const UnknownLabel = "unknown"

// Embedding ist entweder ein Deskriptor-Vektor oder ein Klassifikator-Ergebnis.
// Bei KindClassifier sind Label, Prob, LabelName und Classes gesetzt, sonst Vector.
type Embedding struct {
	Kind      Kind
	Vector    []float32
	Label     int
	Prob      float64
	LabelName string
	Classes   int
}

// Descriptor erstellt ein Deskriptor-Embedding
func Descriptor(v []float32) Embedding {
	return Embedding{Kind: KindDescriptor, Vector: v}
}

// Classification erstellt ein Klassifikator-Embedding aus einer Wahrscheinlichkeitsverteilung
func Classification(probs []float32, labels []string) Embedding {
	best, bestProb := -1, -1.0
	for i, p := range probs {
		if float64(p) > bestProb {
			best, bestProb = i, float64(p)
		}
	}
	e := Embedding{Kind: KindClassifier, Label: best, Prob: math.Max(0, bestProb), Classes: len(probs)}
	if best >= 0 && best < len(labels) {
		e.LabelName = labels[best]
	}
	return e
}

// Dim liefert die Dimension, die im Galerie-Header steht
func (e Embedding) Dim() int {
	if e.Kind == KindClassifier {
		return e.Classes
	}
	return len(e.Vector)
}

// IsUnknownLabel prüft, ob der Klassifikator das reservierte Unknown-Label gewählt hat
func (e Embedding) IsUnknownLabel() bool {
	return strings.EqualFold(strings.TrimSpace(e.LabelName), UnknownLabel)
}

// Normalize skaliert einen Vektor auf L2-Länge 1; Nullvektoren bleiben unverändert
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Distance berechnet die euklidische Distanz zweier gleich langer Vektoren
func Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
