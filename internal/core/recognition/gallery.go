package recognition

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"face-attendance-go/internal/core/failure"

	log "github.com/sirupsen/logrus"
)

// Dateiformat der Galerie
const (
	GalleryMagic   = "FR-GAL"
	GalleryVersion = 1
	headerSize     = 6 + 2 + 1 + 4
)

// Entry ist ein einzelnes Referenz-Embedding einer Person
type Entry struct {
	PersonID    uint
	SampleIndex int
	Embedding   Embedding
}

type personRecord struct {
	name    string
	entries []Embedding
}

// Gallery hält die angelernten Referenz-Embeddings, indiziert nach Person
type Gallery struct {
	kind    Kind
	dim     int
	persons map[uint]*personRecord
	dirty   bool
	mu      sync.RWMutex
}

// NewGallery erstellt eine leere Galerie für eine Embedding-Variante
func NewGallery(kind Kind, dim int) *Gallery {
	return &Gallery{
		kind:    kind,
		dim:     dim,
		persons: make(map[uint]*personRecord),
	}
}

// Kind liefert die Embedding-Variante
func (g *Gallery) Kind() Kind { return g.kind }

// Dim liefert die Embedding-Dimension
func (g *Gallery) Dim() int { return g.dim }

// Add fügt ein Embedding hinzu. Deskriptoren werden angehängt,
// Klassifikator-Einträge ersetzen den bisherigen Eintrag der Person.
func (g *Gallery) Add(personID uint, name string, e Embedding) error {
	if personID == 0 {
		return fmt.Errorf("gallery: person id must not be zero")
	}
	if e.Kind != g.kind {
		return fmt.Errorf("gallery: cannot add %s embedding to %s gallery", e.Kind, g.kind)
	}
	if e.Dim() != g.dim {
		return fmt.Errorf("gallery: embedding dim %d does not match gallery dim %d", e.Dim(), g.dim)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.persons[personID]
	if !ok {
		rec = &personRecord{}
		g.persons[personID] = rec
	}
	if name != "" {
		rec.name = name
	}
	stored := cloneEmbedding(e)
	if g.kind == KindClassifier {
		stored.Prob = 1
		rec.entries = []Embedding{stored}
	} else {
		rec.entries = append(rec.entries, stored)
	}
	g.dirty = true
	return nil
}

// Remove entfernt alle Einträge einer Person und meldet, ob es welche gab
func (g *Gallery) Remove(personID uint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.persons[personID]; !ok {
		return false
	}
	delete(g.persons, personID)
	g.dirty = true
	return true
}

// Has prüft, ob eine Person Einträge besitzt
func (g *Gallery) Has(personID uint) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.persons[personID]
	return ok && len(rec.entries) > 0
}

// Name liefert den gespeicherten Namen einer Person
func (g *Gallery) Name(personID uint) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if rec, ok := g.persons[personID]; ok {
		return rec.name
	}
	return ""
}

// Len liefert die Anzahl der Personen
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.persons)
}

// SampleCount liefert die Anzahl der Einträge einer Person
func (g *Gallery) SampleCount(personID uint) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if rec, ok := g.persons[personID]; ok {
		return len(rec.entries)
	}
	return 0
}

// PersonIDs liefert alle Personen aufsteigend sortiert
func (g *Gallery) PersonIDs() []uint {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sortedIDs()
}

func (g *Gallery) sortedIDs() []uint {
	ids := make([]uint, 0, len(g.persons))
	for id := range g.persons {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Iter liefert alle Einträge in deterministischer Reihenfolge
// (aufsteigende PersonID, dann SampleIndex)
func (g *Gallery) Iter() []Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Entry
	for _, id := range g.sortedIDs() {
		for i, e := range g.persons[id].entries {
			out = append(out, Entry{PersonID: id, SampleIndex: i, Embedding: e})
		}
	}
	return out
}

// Prune verwirft verwaiste Einträge, deren Person nicht mehr existiert
func (g *Gallery) Prune(known func(personID uint) bool) []uint {
	g.mu.Lock()
	defer g.mu.Unlock()

	var dropped []uint
	for _, id := range g.sortedIDs() {
		if !known(id) {
			delete(g.persons, id)
			dropped = append(dropped, id)
		}
	}
	if len(dropped) > 0 {
		g.dirty = true
	}
	return dropped
}

// Dirty meldet, ob die Galerie seit dem Laden verändert wurde
func (g *Gallery) Dirty() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dirty
}

// Equal vergleicht Inhalt, Variante und Dimension zweier Galerien
func (g *Gallery) Equal(other *Gallery) bool {
	a, errA := g.Snapshot()
	b, errB := other.Snapshot()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

type fileBody struct {
	Persons []filePerson `json:"persons"`
}

type filePerson struct {
	PersonID   uint        `json:"person_id"`
	Name       string      `json:"name"`
	Embeddings [][]float32 `json:"embeddings,omitempty"`
	Label      *int        `json:"label,omitempty"`
	LabelName  string      `json:"label_name,omitempty"`
}

// Snapshot serialisiert die Galerie in das versionierte Dateiformat
func (g *Gallery) Snapshot() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	body := fileBody{Persons: make([]filePerson, 0, len(g.persons))}
	for _, id := range g.sortedIDs() {
		rec := g.persons[id]
		fp := filePerson{PersonID: id, Name: rec.name}
		if g.kind == KindClassifier {
			if len(rec.entries) > 0 {
				label := rec.entries[0].Label
				fp.Label = &label
				fp.LabelName = rec.entries[0].LabelName
			}
		} else {
			for _, e := range rec.entries {
				fp.Embeddings = append(fp.Embeddings, e.Vector)
			}
		}
		body.Persons = append(body.Persons, fp)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode gallery body: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(payload))
	buf.WriteString(GalleryMagic)
	_ = binary.Write(&buf, binary.BigEndian, uint16(GalleryVersion))
	buf.WriteByte(byte(g.kind))
	_ = binary.Write(&buf, binary.BigEndian, uint32(g.dim))
	buf.Write(payload)
	return buf.Bytes(), nil
}

// Restore baut eine Galerie aus einem Snapshot wieder auf
func Restore(data []byte) (*Gallery, error) {
	const op = "gallery.Restore"
	if len(data) < headerSize {
		return nil, failure.Errorf(failure.GalleryCorrupt, op, "file too short (%d bytes)", len(data))
	}
	if string(data[:6]) != GalleryMagic {
		return nil, failure.Errorf(failure.GalleryCorrupt, op, "bad magic %q", data[:6])
	}
	version := binary.BigEndian.Uint16(data[6:8])
	if version != GalleryVersion {
		return nil, failure.Errorf(failure.GalleryCorrupt, op, "unsupported version %d", version)
	}
	kind := Kind(data[8])
	if kind != KindDescriptor && kind != KindClassifier {
		return nil, failure.Errorf(failure.GalleryCorrupt, op, "unknown embedder kind %d", data[8])
	}
	dim := int(binary.BigEndian.Uint32(data[9:13]))

	var body fileBody
	if err := json.Unmarshal(data[headerSize:], &body); err != nil {
		return nil, failure.New(failure.GalleryCorrupt, op, err)
	}

	g := NewGallery(kind, dim)
	for _, p := range body.Persons {
		if p.PersonID == 0 {
			return nil, failure.Errorf(failure.GalleryCorrupt, op, "entry without person id")
		}
		rec := &personRecord{name: p.Name}
		switch kind {
		case KindClassifier:
			if p.Label == nil {
				return nil, failure.Errorf(failure.GalleryCorrupt, op, "person %d has no label", p.PersonID)
			}
			rec.entries = []Embedding{{Kind: KindClassifier, Label: *p.Label, LabelName: p.LabelName, Prob: 1, Classes: dim}}
		default:
			for _, v := range p.Embeddings {
				if len(v) != dim {
					return nil, failure.Errorf(failure.GalleryCorrupt, op,
						"person %d has embedding of dim %d, header says %d", p.PersonID, len(v), dim)
				}
				rec.entries = append(rec.entries, Embedding{Kind: KindDescriptor, Vector: v})
			}
		}
		g.persons[p.PersonID] = rec
	}
	return g, nil
}

// Load liest die Galerie von der Platte. Existiert die Datei nicht, wird eine
// leere Galerie geliefert. Abweichende Variante oder Dimension sind fatal.
func Load(path string, kind Kind, dim int) (*Gallery, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Infof("Gallery file %s not found, starting with an empty gallery", path)
		return NewGallery(kind, dim), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read gallery file: %w", err)
	}

	g, err := Restore(data)
	if err != nil {
		return nil, err
	}
	if g.kind != kind || g.dim != dim {
		return nil, failure.Errorf(failure.GalleryCorrupt, "gallery.Load",
			"gallery %s is %s/%d, embedder is %s/%d", path, g.kind, g.dim, kind, dim)
	}
	log.Infof("Loaded gallery from %s: %d persons (%s, dim %d)", path, g.Len(), g.kind, g.dim)
	return g, nil
}

// Save schreibt die Galerie atomar (Temp-Datei, fsync, rename)
func (g *Gallery) Save(path string) error {
	data, err := g.Snapshot()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create gallery directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp gallery file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write gallery: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync gallery: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close gallery: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace gallery file: %w", err)
	}

	g.mu.Lock()
	g.dirty = false
	g.mu.Unlock()

	log.Infof("Gallery saved to %s (%d bytes)", path, len(data))
	return nil
}

// SaveIfDirty speichert nur, wenn die Galerie verändert wurde
func (g *Gallery) SaveIfDirty(path string) (bool, error) {
	if !g.Dirty() {
		return false, nil
	}
	if err := g.Save(path); err != nil {
		return false, err
	}
	return true, nil
}

func cloneEmbedding(e Embedding) Embedding {
	c := e
	if e.Vector != nil {
		c.Vector = append([]float32(nil), e.Vector...)
	}
	return c
}
