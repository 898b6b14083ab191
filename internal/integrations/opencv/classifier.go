package opencv

import (
	"image"
	"math"
	"sync"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/failure"
	"face-attendance-go/internal/core/recognition"
	"face-attendance-go/internal/core/vision"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// Classifier ist ein Embedder auf Basis eines trainierten Klassifikationsnetzes
// (z.B. exportiertes Keras/TF-Modell). Die Klassen stehen in labels.txt.
type Classifier struct {
	net       gocv.Net
	labels    []string
	inputSize int
	margin    float64
	mu        sync.Mutex
	closed    bool
}

// NewClassifier lädt Modell und Labels
func NewClassifier(cfg config.RecognitionConfig, useGPU bool) (*Classifier, error) {
	if !fileExists(cfg.ClassifierModel) {
		return nil, failure.Errorf(failure.ModelUnavailable, "opencv.NewClassifier", "classifier model %s not found", cfg.ClassifierModel)
	}
	labels, err := recognition.LoadLabels(cfg.ClassifierLabels)
	if err != nil {
		return nil, failure.New(failure.ModelUnavailable, "opencv.NewClassifier", err)
	}

	net := gocv.ReadNet(cfg.ClassifierModel, "")
	if net.Empty() {
		return nil, failure.Errorf(failure.ModelUnavailable, "opencv.NewClassifier", "could not load classifier model %s", cfg.ClassifierModel)
	}
	if useGPU {
		backend, target := getGPUBackend(true)
		if err := net.SetPreferableBackend(backend); err != nil {
			log.WithError(err).Warn("Failed to set classifier backend")
		}
		if err := net.SetPreferableTarget(target); err != nil {
			log.WithError(err).Warn("Failed to set classifier target")
		}
	}

	size := cfg.ClassifierInputSize
	if size <= 0 {
		size = 224
	}
	log.Infof("Classifier loaded: %s with %d labels", cfg.ClassifierModel, len(labels))
	return &Classifier{net: net, labels: labels, inputSize: size, margin: cfg.CropMargin}, nil
}

// Kind liefert KindClassifier
func (c *Classifier) Kind() recognition.Kind { return recognition.KindClassifier }

// Dim liefert die Anzahl der Klassen
func (c *Classifier) Dim() int { return len(c.labels) }

// Labels liefert die Klassennamen in Index-Reihenfolge
func (c *Classifier) Labels() []string { return c.labels }

// Embed klassifiziert den Gesichtsausschnitt
func (c *Classifier) Embed(frame vision.Frame, region vision.Region) (recognition.Embedding, bool, error) {
	rect := region.Expand(c.margin, frame.Width, frame.Height)
	if rect.Dx() < 2 || rect.Dy() < 2 {
		return recognition.Embedding{}, false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return recognition.Embedding{}, false, failure.Errorf(failure.ModelUnavailable, "opencv.Classifier.Embed", "classifier closed")
	}

	img, err := frameToMat(frame)
	if err != nil {
		return recognition.Embedding{}, false, failure.New(failure.EmbeddingFailed, "opencv.Classifier.Embed", err)
	}
	defer img.Close()
	face := img.Region(rect)
	defer face.Close()

	blob := gocv.BlobFromImage(face, 1.0/255.0, image.Pt(c.inputSize, c.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	c.net.SetInput(blob, "")
	out := c.net.Forward("")
	defer out.Close()

	raw, err := out.DataPtrFloat32()
	if err != nil {
		return recognition.Embedding{}, false, failure.New(failure.EmbeddingFailed, "opencv.Classifier.Embed", err)
	}
	if len(raw) != len(c.labels) {
		return recognition.Embedding{}, false, failure.Errorf(failure.EmbeddingFailed, "opencv.Classifier.Embed",
			"model produced %d outputs for %d labels", len(raw), len(c.labels))
	}
	probs := probabilities(raw)
	return recognition.Classification(probs, c.labels), true, nil
}

// probabilities kopiert die Netzausgabe; Logits werden per Softmax normiert
func probabilities(raw []float32) []float32 {
	out := make([]float32, len(raw))
	copy(out, raw)

	var sum float64
	isDistribution := true
	for _, v := range out {
		if v < 0 || v > 1 {
			isDistribution = false
		}
		sum += float64(v)
	}
	if isDistribution && math.Abs(sum-1) < 1e-3 {
		return out
	}

	maxV := out[0]
	for _, v := range out[1:] {
		if v > maxV {
			maxV = v
		}
	}
	sum = 0
	for i, v := range out {
		e := math.Exp(float64(v - maxV))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// Close gibt das Netz frei
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.net.Close()
}
