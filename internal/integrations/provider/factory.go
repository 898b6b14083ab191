package provider

import (
	"fmt"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/processor"
	"face-attendance-go/internal/core/recognition"
	"face-attendance-go/internal/integrations/dlib"
	"face-attendance-go/internal/integrations/opencv"

	log "github.com/sirupsen/logrus"
)

// Models bündelt Detektor und Embedder, die für Erkennung und Enrolment gebraucht werden
type Models struct {
	Locator  processor.Locator
	Embedder processor.Embedder
	// Labels ist nur beim Klassifikator gesetzt
	Labels  []string
	closers []func() error
}

// Close gibt alle geladenen Modelle frei
func (m *Models) Close() error {
	var first error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	m.closers = nil
	return first
}

// Load erstellt Gesichtsdetektor und Embedder entsprechend der Konfiguration
func Load(cfg *config.Config) (*Models, error) {
	kind, err := recognition.ParseKind(cfg.Recognition.Embedder)
	if err != nil {
		return nil, fmt.Errorf("invalid recognition.embedder: %w", err)
	}

	locator, err := opencv.NewFaceLocator(cfg.Detector)
	if err != nil {
		return nil, err
	}
	m := &Models{Locator: locator, closers: []func() error{locator.Close}}

	switch kind {
	case recognition.KindClassifier:
		log.Info("Using classifier embedder")
		classifier, err := opencv.NewClassifier(cfg.Recognition, cfg.Detector.UseGPU)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.Embedder = classifier
		m.Labels = classifier.Labels()
		m.closers = append(m.closers, classifier.Close)
	default:
		log.Info("Using dlib descriptor embedder")
		embedder, err := dlib.NewEmbedder(cfg.Recognition)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.Embedder = embedder
		m.closers = append(m.closers, embedder.Close)
	}

	log.WithFields(log.Fields{
		"detector": locator.Method(),
		"embedder": m.Embedder.Kind(),
		"dim":      m.Embedder.Dim(),
	}).Info("Recognition models ready")
	return m, nil
}
