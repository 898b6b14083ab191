package dlib

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/failure"
	"face-attendance-go/internal/core/recognition"
	"face-attendance-go/internal/core/vision"

	face "github.com/Kagami/go-face"
	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
)

// Dimension des dlib ResNet-Deskriptors
const DescriptorDim = 128

// Kantenlänge des Ausschnitts, der an dlib übergeben wird
const cropSize = 150

// Modelldateien, die go-face im Modellverzeichnis erwartet
var requiredModels = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
	"mmod_human_face_detector.dat",
}

// Embedder berechnet 128-dimensionale Gesichtsdeskriptoren mit dlib
type Embedder struct {
	rec    *face.Recognizer
	margin float64
	mu     sync.Mutex
	closed bool
}

// NewEmbedder lädt die dlib-Modelle aus cfg.DescriptorModelDir
func NewEmbedder(cfg config.RecognitionConfig) (*Embedder, error) {
	for _, name := range requiredModels {
		path := filepath.Join(cfg.DescriptorModelDir, name)
		if _, err := os.Stat(path); err != nil {
			return nil, failure.Errorf(failure.ModelUnavailable, "dlib.NewEmbedder", "model file %s missing", path)
		}
	}

	rec, err := face.NewRecognizer(cfg.DescriptorModelDir)
	if err != nil {
		return nil, failure.New(failure.ModelUnavailable, "dlib.NewEmbedder", err)
	}
	log.Infof("dlib descriptor models loaded from %s", cfg.DescriptorModelDir)
	return &Embedder{rec: rec, margin: cfg.CropMargin}, nil
}

// Kind liefert KindDescriptor
func (e *Embedder) Kind() recognition.Kind { return recognition.KindDescriptor }

// Dim liefert 128
func (e *Embedder) Dim() int { return DescriptorDim }

// Embed schneidet das Gesicht mit Rand aus und berechnet den normierten Deskriptor.
// Findet dlib im Ausschnitt kein Gesicht, ist ok == false.
func (e *Embedder) Embed(frame vision.Frame, region vision.Region) (recognition.Embedding, bool, error) {
	crop, err := prepareCrop(frame, region, e.margin)
	if err != nil {
		return recognition.Embedding{}, false, failure.New(failure.EmbeddingFailed, "dlib.Embed", err)
	}
	if crop == nil {
		return recognition.Embedding{}, false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return recognition.Embedding{}, false, failure.Errorf(failure.ModelUnavailable, "dlib.Embed", "embedder closed")
	}

	f, err := e.rec.RecognizeSingle(crop)
	if err != nil {
		return recognition.Embedding{}, false, failure.New(failure.EmbeddingFailed, "dlib.Embed", err)
	}
	if f == nil {
		return recognition.Embedding{}, false, nil
	}
	return recognition.Descriptor(recognition.Normalize(f.Descriptor[:])), true, nil
}

// prepareCrop liefert den JPEG-kodierten 150x150-Ausschnitt oder nil bei leerer Region
func prepareCrop(frame vision.Frame, region vision.Region, margin float64) ([]byte, error) {
	if !frame.Valid() {
		return nil, fmt.Errorf("invalid frame")
	}
	rect := region.Expand(margin, frame.Width, frame.Height)
	if rect.Dx() < 2 || rect.Dy() < 2 {
		return nil, nil
	}

	img := imaging.Resize(frame.Crop(region, margin), cropSize, cropSize, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, fmt.Errorf("failed to encode face crop: %w", err)
	}
	return buf.Bytes(), nil
}

// Close gibt die dlib-Ressourcen frei
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.rec.Close()
	}
	return nil
}
