package enroll

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/failure"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/core/recognition"
	"face-attendance-go/internal/core/vision"
	"face-attendance-go/internal/db"
	"face-attendance-go/internal/db/repository"

	"github.com/disintegration/imaging"
)

// fakeLocator findet ein Gesicht in jedem Frame, dessen erstes Pixel nicht schwarz ist
type fakeLocator struct{}

func (fakeLocator) Locate(f vision.Frame) ([]vision.Region, error) {
	if b, _, _ := f.BGR(0, 0); b == 0 {
		return nil, nil
	}
	return []vision.Region{
		{X: 0, Y: 0, W: 4, H: 4, Confidence: 0.9},
		{X: 0, Y: 0, W: 8, H: 8, Confidence: 0.9},
	}, nil
}

// fakeEmbedder kodiert die Breite der Region in den Deskriptor
type fakeEmbedder struct{}

func (fakeEmbedder) Kind() recognition.Kind { return recognition.KindDescriptor }
func (fakeEmbedder) Dim() int               { return 2 }
func (fakeEmbedder) Embed(_ vision.Frame, r vision.Region) (recognition.Embedding, bool, error) {
	return recognition.Descriptor([]float32{float32(r.W), 1}), true, nil
}

func newRepo(t *testing.T) repository.Repository {
	t.Helper()
	gdb, err := db.Open(config.DBConfig{StoreURL: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close(gdb) })
	return repository.NewGormRepository(gdb)
}

func frame(face bool) vision.Frame {
	f := vision.NewFrame(16, 16)
	if face {
		f.SetBGR(0, 0, 200, 200, 200)
	}
	return f
}

func samples(faces ...bool) []Sample {
	out := make([]Sample, 0, len(faces))
	for i, face := range faces {
		out = append(out, Sample{Source: string(rune('a' + i)), Frame: frame(face)})
	}
	return out
}

func TestEnrollDescriptor(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	gallery := recognition.NewGallery(recognition.KindDescriptor, 2)
	e := NewEnroller(repo, gallery, fakeLocator{}, fakeEmbedder{}, nil)

	res, err := e.Enroll(ctx, "Alice", samples(true, false, true), Options{})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if !res.Created || res.Samples != 2 || res.Skipped != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if got := gallery.SampleCount(res.Person.ID); got != 2 {
		t.Errorf("gallery samples = %d", got)
	}
	for _, entry := range gallery.Iter() {
		if entry.Embedding.Vector[0] != 8 {
			t.Errorf("largest face not used, got %v", entry.Embedding.Vector)
		}
	}

	_, err = e.Enroll(ctx, "Alice", samples(true), Options{})
	if !failure.Is(err, failure.DuplicateEnrolment) {
		t.Fatalf("expected DuplicateEnrolment, got %v", err)
	}

	res, err = e.Enroll(ctx, "Alice", samples(true), Options{Replace: true})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if res.Created || !res.Replaced || gallery.SampleCount(res.Person.ID) != 1 {
		t.Errorf("replace should keep the person and swap samples, got %+v count=%d", res, gallery.SampleCount(res.Person.ID))
	}
}

func TestEnrollWithoutFaces(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	e := NewEnroller(repo, recognition.NewGallery(recognition.KindDescriptor, 2), fakeLocator{}, fakeEmbedder{}, nil)

	_, err := e.Enroll(ctx, "Bob", samples(false, false), Options{})
	if !failure.Is(err, failure.NoFaceFound) {
		t.Fatalf("expected NoFaceFound, got %v", err)
	}
	p, err := repo.GetPersonByName(ctx, "Bob")
	if err != nil || p != nil {
		t.Errorf("person must not be created without samples, got %v %v", p, err)
	}
}

func TestForgetKeepsPerson(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	gallery := recognition.NewGallery(recognition.KindDescriptor, 2)
	e := NewEnroller(repo, gallery, fakeLocator{}, fakeEmbedder{}, nil)

	if _, err := e.Enroll(ctx, "Alice", samples(true), Options{}); err != nil {
		t.Fatal(err)
	}
	p, removed, err := e.Forget(ctx, "Alice")
	if err != nil || !removed || p == nil {
		t.Fatalf("Forget = %v %v %v", p, removed, err)
	}
	if gallery.Has(p.ID) {
		t.Error("gallery still has the person")
	}
	if stored, _ := repo.GetPersonByName(ctx, "Alice"); stored == nil {
		t.Error("person row must survive forget")
	}

	// nach forget ist erneutes Anlernen ohne --replace erlaubt
	res, err := e.Enroll(ctx, "Alice", samples(true), Options{})
	if err != nil || res.Created || res.Person.ID != p.ID {
		t.Errorf("re-enrol after forget: %+v %v", res, err)
	}

	if _, removed, err := e.Forget(ctx, "Nobody"); err != nil || removed {
		t.Errorf("forget unknown = %v %v", removed, err)
	}
}

func TestEnrollClassifierLabel(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	labels := []string{"unknown", "Alice", "Bob"}
	gallery := recognition.NewGallery(recognition.KindClassifier, len(labels))
	e := NewEnroller(repo, gallery, fakeLocator{}, fakeEmbedder{}, labels)

	res, err := e.Enroll(ctx, "bob", nil, Options{})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	entries := gallery.Iter()
	if len(entries) != 1 || entries[0].Embedding.Label != 2 || entries[0].PersonID != res.Person.ID {
		t.Errorf("unexpected gallery %+v", entries)
	}

	if _, err := e.Enroll(ctx, "Carol", nil, Options{}); !failure.Is(err, failure.ModelUnavailable) {
		t.Errorf("unknown label should fail, got %v", err)
	}
}

func TestLoadImagesAppliesOrientation(t *testing.T) {
	dir := t.TempDir()
	img := image.NewNRGBA(image.Rect(0, 0, 6, 3))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	path := filepath.Join(dir, "face.png")
	if err := imaging.Save(img, path); err != nil {
		t.Fatal(err)
	}

	got, err := LoadImages([]string{path})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Source != "face.png" || got[0].Frame.Width != 6 || got[0].Frame.Height != 3 {
		t.Fatalf("unexpected samples %+v", got)
	}
	if b, g, r := got[0].Frame.BGR(0, 0); r != 255 || g != 0 || b != 0 {
		t.Errorf("pixel = %d,%d,%d", b, g, r)
	}

	if _, err := LoadImages([]string{filepath.Join(dir, "missing.jpg")}); err == nil {
		t.Error("missing file should fail")
	}
}

func TestOpenGalleryDropsOrphans(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	path := filepath.Join(t.TempDir(), "gallery.frg")

	alice := &models.Person{Name: "Alice"}
	if err := repo.CreatePerson(ctx, alice); err != nil {
		t.Fatal(err)
	}
	orphan := alice.ID + 41

	stored := recognition.NewGallery(recognition.KindDescriptor, 2)
	if err := stored.Add(alice.ID, "Alice", recognition.Descriptor([]float32{1, 0})); err != nil {
		t.Fatal(err)
	}
	if err := stored.Add(orphan, "Ghost", recognition.Descriptor([]float32{0, 1})); err != nil {
		t.Fatal(err)
	}
	if err := stored.Save(path); err != nil {
		t.Fatal(err)
	}

	gallery, err := OpenGallery(ctx, repo, path, recognition.KindDescriptor, 2)
	if err != nil {
		t.Fatalf("OpenGallery: %v", err)
	}
	if gallery.Has(orphan) || !gallery.Has(alice.ID) {
		t.Errorf("expected only Alice to remain, got %v", gallery.PersonIDs())
	}
	if !gallery.Dirty() {
		t.Error("pruned gallery should be marked dirty so the next save drops the orphan")
	}
}

func TestEnrollStoresMetadata(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	gallery := recognition.NewGallery(recognition.KindDescriptor, 2)
	e := NewEnroller(repo, gallery, fakeLocator{}, fakeEmbedder{}, nil)

	res, err := e.Enroll(ctx, "Alice", samples(true), Options{EmployeeID: " E-7 "})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if res.Person.EmployeeID == nil || *res.Person.EmployeeID != "E-7" || res.Person.Department != nil {
		t.Fatalf("unexpected metadata %+v", res.Person)
	}

	if _, err := e.Enroll(ctx, "Alice", samples(true), Options{Replace: true, Department: "Sales"}); err != nil {
		t.Fatalf("re-enrol: %v", err)
	}
	stored, err := repo.GetPersonByName(ctx, "Alice")
	if err != nil || stored == nil {
		t.Fatalf("GetPersonByName: %+v %v", stored, err)
	}
	if stored.EmployeeID == nil || *stored.EmployeeID != "E-7" || stored.Department == nil || *stored.Department != "Sales" {
		t.Errorf("expected employee id kept and department added, got %+v", stored)
	}
}
