// Package enroll lernt Personen in die Galerie an und entfernt sie wieder.
// Die Pipeline läuft währenddessen nicht.
package enroll

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"face-attendance-go/internal/core/failure"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/core/processor"
	"face-attendance-go/internal/core/recognition"
	"face-attendance-go/internal/core/vision"
	"face-attendance-go/internal/db/repository"

	"github.com/disintegration/imaging"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
)

// Options steuert einen Anlernvorgang
type Options struct {
	Replace  bool
	Progress io.Writer // nil: kein Fortschrittsbalken

	// optionale Stammdaten; leere Werte lassen vorhandene unverändert
	EmployeeID string
	Department string
}

// Result beschreibt einen abgeschlossenen Anlernvorgang
type Result struct {
	Person   *models.Person
	Created  bool
	Samples  int
	Skipped  int
	Replaced bool
}

// Sample ist ein Anlernbild mit Herkunft für Log-Meldungen
type Sample struct {
	Source string
	Frame  vision.Frame
}

// Enroller verbindet Event-Store, Galerie und Modelle
type Enroller struct {
	repo     repository.Repository
	gallery  *recognition.Gallery
	locator  processor.Locator
	embedder processor.Embedder
	labels   []string
}

// NewEnroller erstellt einen Enroller; labels wird nur für den Klassifikator gebraucht
func NewEnroller(repo repository.Repository, gallery *recognition.Gallery, locator processor.Locator, embedder processor.Embedder, labels []string) *Enroller {
	return &Enroller{
		repo:     repo,
		gallery:  gallery,
		locator:  locator,
		embedder: embedder,
		labels:   labels,
	}
}

// LoadImages liest Bilddateien mit EXIF-Ausrichtung
func LoadImages(paths []string) ([]Sample, error) {
	samples := make([]Sample, 0, len(paths))
	for _, p := range paths {
		img, err := imaging.Open(p, imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("failed to open image %s: %w", p, err)
		}
		samples = append(samples, Sample{Source: filepath.Base(p), Frame: vision.FromImage(img)})
	}
	return samples, nil
}

// Enroll lernt name an. Beim Deskriptor liefert jedes Bild mit Gesicht ein Beispiel,
// beim Klassifikator wird die Person ihrem Label zugeordnet.
func (e *Enroller) Enroll(ctx context.Context, name string, samples []Sample, opts Options) (*Result, error) {
	if name == "" {
		return nil, fmt.Errorf("name must not be empty")
	}

	person, err := e.repo.GetPersonByName(ctx, name)
	if err != nil {
		return nil, err
	}
	res := &Result{Person: person}
	if person != nil && e.gallery.Has(person.ID) {
		if !opts.Replace {
			return nil, failure.Errorf(failure.DuplicateEnrolment, "enroll",
				"person %q is already enrolled (use --replace)", name)
		}
		res.Replaced = true
	}

	var embeddings []recognition.Embedding
	switch e.gallery.Kind() {
	case recognition.KindClassifier:
		emb, err := e.labelEmbedding(name)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, emb)
	default:
		embeddings, res.Skipped, err = e.describe(ctx, samples, opts)
		if err != nil {
			return nil, err
		}
		if len(embeddings) == 0 {
			return nil, failure.Errorf(failure.NoFaceFound, "enroll",
				"no usable face in %d images for %q", len(samples), name)
		}
	}

	// Person erst anlegen, wenn es brauchbare Beispiele gibt
	if person == nil {
		person = &models.Person{Name: name}
		applyMetadata(person, opts)
		if err := e.repo.CreatePerson(ctx, person); err != nil {
			return nil, err
		}
		res.Person = person
		res.Created = true
	} else if applyMetadata(person, opts) {
		if err := e.repo.UpdatePerson(ctx, person); err != nil {
			return nil, err
		}
	}

	if res.Replaced {
		e.gallery.Remove(person.ID)
	}
	for _, emb := range embeddings {
		if err := e.gallery.Add(person.ID, person.Name, emb); err != nil {
			return nil, err
		}
		res.Samples++
	}

	log.WithFields(log.Fields{
		"person_id": person.ID,
		"name":      person.Name,
		"samples":   res.Samples,
		"skipped":   res.Skipped,
		"replaced":  res.Replaced,
	}).Info("Person enrolled")
	return res, nil
}

// applyMetadata überträgt gesetzte Stammdaten und meldet, ob sich etwas geändert hat
func applyMetadata(p *models.Person, opts Options) bool {
	changed := false
	if v := strings.TrimSpace(opts.EmployeeID); v != "" && (p.EmployeeID == nil || *p.EmployeeID != v) {
		p.EmployeeID = &v
		changed = true
	}
	if v := strings.TrimSpace(opts.Department); v != "" && (p.Department == nil || *p.Department != v) {
		p.Department = &v
		changed = true
	}
	return changed
}

// describe berechnet je Bild den Deskriptor des größten Gesichts
func (e *Enroller) describe(ctx context.Context, samples []Sample, opts Options) ([]recognition.Embedding, int, error) {
	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(len(samples),
			progressbar.OptionSetDescription("Enrolling"),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	var out []recognition.Embedding
	skipped := 0
	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return nil, skipped, err
		}
		emb, ok := e.describeOne(s)
		if ok {
			out = append(out, emb)
		} else {
			skipped++
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return out, skipped, nil
}

func (e *Enroller) describeOne(s Sample) (recognition.Embedding, bool) {
	if !s.Frame.Valid() {
		log.Warnf("Skipping %s: empty image", s.Source)
		return recognition.Embedding{}, false
	}
	regions, err := e.locator.Locate(s.Frame)
	if err != nil {
		log.Warnf("Skipping %s: face detection failed: %v", s.Source, err)
		return recognition.Embedding{}, false
	}
	face, ok := vision.Largest(regions)
	if !ok {
		log.Warnf("Skipping %s: no face found", s.Source)
		return recognition.Embedding{}, false
	}
	if len(regions) > 1 {
		log.Debugf("%s contains %d faces, using the largest", s.Source, len(regions))
	}
	emb, ok, err := e.embedder.Embed(s.Frame, face)
	if err != nil || !ok {
		log.Warnf("Skipping %s: no embedding (%v)", s.Source, err)
		return recognition.Embedding{}, false
	}
	return emb, true
}

func (e *Enroller) labelEmbedding(name string) (recognition.Embedding, error) {
	idx, ok := recognition.LabelIndex(e.labels, name)
	if !ok {
		return recognition.Embedding{}, failure.Errorf(failure.ModelUnavailable, "enroll",
			"%q is not a label of the classifier model", name)
	}
	return recognition.Embedding{
		Kind:      recognition.KindClassifier,
		Label:     idx,
		Prob:      1,
		LabelName: e.labels[idx],
		Classes:   len(e.labels),
	}, nil
}

// Forget entfernt die Galerie-Einträge einer Person; Person und Ereignisse bleiben erhalten
func (e *Enroller) Forget(ctx context.Context, name string) (*models.Person, bool, error) {
	person, err := e.repo.GetPersonByName(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if person == nil {
		return nil, false, nil
	}
	removed := e.gallery.Remove(person.ID)
	if removed {
		log.Infof("Removed %s (ID %d) from the gallery", person.Name, person.ID)
	}
	return person, removed, nil
}
