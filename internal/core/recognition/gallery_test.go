package recognition

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"face-attendance-go/internal/core/failure"
)

func threePersonGallery(t *testing.T) *Gallery {
	t.Helper()
	g := NewGallery(KindDescriptor, 3)
	samples := []struct {
		id    uint
		name  string
		angle float64
	}{
		{1, "Alice", 0},
		{1, "Alice", 0.1},
		{2, "Bob", 1.2},
		{3, "Carol", 2.4},
	}
	for _, s := range samples {
		if err := g.Add(s.id, s.name, Descriptor(unit(s.angle))); err != nil {
			t.Fatalf("Add(%d): %v", s.id, err)
		}
	}
	return g
}

func TestGalleryIterOrder(t *testing.T) {
	g := NewGallery(KindDescriptor, 3)
	_ = g.Add(5, "Eve", Descriptor(unit(0)))
	_ = g.Add(2, "Bob", Descriptor(unit(1)))
	_ = g.Add(5, "Eve", Descriptor(unit(2)))
	_ = g.Add(1, "Alice", Descriptor(unit(3)))

	var got [][2]int
	for _, e := range g.Iter() {
		got = append(got, [2]int{int(e.PersonID), e.SampleIndex})
	}
	want := [][2]int{{1, 0}, {2, 0}, {5, 0}, {5, 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Iter order = %v, want %v", got, want)
	}
}

func TestGalleryRejectsMixedVariants(t *testing.T) {
	g := NewGallery(KindDescriptor, 3)
	if err := g.Add(1, "Alice", Classification([]float32{1, 0, 0}, nil)); err == nil {
		t.Errorf("expected error when adding classifier embedding to descriptor gallery")
	}
	if err := g.Add(1, "Alice", Descriptor([]float32{1, 0})); err == nil {
		t.Errorf("expected error for dimension mismatch")
	}
	if err := g.Add(0, "Nobody", Descriptor(unit(0))); err == nil {
		t.Errorf("expected error for zero person id")
	}
}

func TestClassifierGalleryOverwrites(t *testing.T) {
	labels := []string{"a", "b", "c"}
	g := NewGallery(KindClassifier, 3)
	_ = g.Add(1, "Alice", Classification([]float32{1, 0, 0}, labels))
	_ = g.Add(1, "Alice", Classification([]float32{0, 0, 1}, labels))

	entries := g.Iter()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(entries))
	}
	if entries[0].Embedding.Label != 2 {
		t.Errorf("expected label to be overwritten with 2, got %d", entries[0].Embedding.Label)
	}
}

func TestGallerySnapshotRestoreRoundTrip(t *testing.T) {
	g := threePersonGallery(t)
	data, err := g.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if string(data[:6]) != GalleryMagic {
		t.Fatalf("missing magic header")
	}

	restored, err := Restore(data)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !reflect.DeepEqual(g.Iter(), restored.Iter()) {
		t.Errorf("entries differ after round trip")
	}
	if !g.Equal(restored) {
		t.Errorf("Equal reports difference after round trip")
	}
	if restored.Name(2) != "Bob" {
		t.Errorf("name lost in round trip: %q", restored.Name(2))
	}
	if restored.Dirty() {
		t.Errorf("restored gallery must not be dirty")
	}
}

func TestClassifierGalleryRoundTrip(t *testing.T) {
	labels := []string{"Alice", "Bob", "unknown"}
	g := NewGallery(KindClassifier, 3)
	_ = g.Add(1, "Alice", Classification([]float32{0.9, 0.05, 0.05}, labels))
	_ = g.Add(2, "Bob", Classification([]float32{0.1, 0.85, 0.05}, labels))

	data, err := g.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	restored, err := Restore(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(g.Iter(), restored.Iter()) {
		t.Errorf("classifier entries differ after round trip:\n%+v\n%+v", g.Iter(), restored.Iter())
	}
}

func TestGalleryReloadKeepsMatches(t *testing.T) {
	g := threePersonGallery(t)
	queries := []Embedding{
		Descriptor(unit(0.05)),
		Descriptor(unit(1.1)),
		Descriptor(unit(2.5)),
		Descriptor(unit(-1.5)),
	}
	before := make([]Result, len(queries))
	m := NewMatcher(g, 0.6, 0.7)
	for i, q := range queries {
		before[i] = m.Match(q)
	}

	path := filepath.Join(t.TempDir(), "gallery.bin")
	if err := g.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	g = nil
	m = nil

	loaded, err := Load(path, KindDescriptor, 3)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m = NewMatcher(loaded, 0.6, 0.7)
	for i, q := range queries {
		if got := m.Match(q); got != before[i] {
			t.Errorf("query %d: %+v after reload, %+v before", i, got, before[i])
		}
	}
}

func TestRestoreCorrupt(t *testing.T) {
	valid, err := threePersonGallery(t).Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	badVersion := append([]byte(nil), valid...)
	badVersion[7] = 9
	badKind := append([]byte(nil), valid...)
	badKind[8] = 7

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte("FR-GA")},
		{"bad magic", append([]byte("XX-GAL"), valid[6:]...)},
		{"bad version", badVersion},
		{"bad kind", badKind},
		{"truncated body", valid[:len(valid)-5]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Restore(tt.data)
			if !failure.Is(err, failure.GalleryCorrupt) {
				t.Errorf("expected GalleryCorrupt, got %v", err)
			}
		})
	}
}

func TestLoadMismatchIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.bin")
	if err := threePersonGallery(t).Save(path); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path, KindClassifier, 3); !failure.Is(err, failure.GalleryCorrupt) {
		t.Errorf("expected GalleryCorrupt for kind mismatch, got %v", err)
	}
	if _, err := Load(path, KindDescriptor, 128); !failure.Is(err, failure.GalleryCorrupt) {
		t.Errorf("expected GalleryCorrupt for dim mismatch, got %v", err)
	}
}

func TestLoadMissingFileGivesEmptyGallery(t *testing.T) {
	g, err := Load(filepath.Join(t.TempDir(), "missing.bin"), KindDescriptor, 128)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if g.Len() != 0 || g.Dirty() {
		t.Errorf("expected clean empty gallery, got len=%d dirty=%v", g.Len(), g.Dirty())
	}
}

func TestSaveIfDirty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gallery.bin")

	g := NewGallery(KindDescriptor, 3)
	saved, err := g.SaveIfDirty(path)
	if err != nil || saved {
		t.Fatalf("clean gallery must not be written (saved=%v, err=%v)", saved, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("gallery file should not exist yet")
	}

	_ = g.Add(1, "Alice", Descriptor(unit(0)))
	saved, err = g.SaveIfDirty(path)
	if err != nil || !saved {
		t.Fatalf("dirty gallery must be written (saved=%v, err=%v)", saved, err)
	}
	if g.Dirty() {
		t.Errorf("gallery should be clean after save")
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestPruneDropsOrphans(t *testing.T) {
	g := threePersonGallery(t)
	known := map[uint]bool{1: true, 3: true}

	dropped := g.Prune(func(id uint) bool { return known[id] })
	if !reflect.DeepEqual(dropped, []uint{2}) {
		t.Errorf("dropped = %v, want [2]", dropped)
	}
	if g.Has(2) || !g.Has(1) || !g.Has(3) {
		t.Errorf("unexpected gallery content after prune: %v", g.PersonIDs())
	}
	if !g.Dirty() {
		t.Errorf("pruned gallery should be dirty")
	}
}

func TestRemove(t *testing.T) {
	g := threePersonGallery(t)
	if !g.Remove(1) {
		t.Fatalf("Remove(1) should report existing entries")
	}
	if g.Remove(1) {
		t.Errorf("second Remove(1) should report nothing removed")
	}
	if g.SampleCount(1) != 0 || g.Len() != 2 {
		t.Errorf("unexpected state after remove: len=%d", g.Len())
	}
}
