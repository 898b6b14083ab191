package enroll

import (
	"context"

	"face-attendance-go/internal/core/recognition"
	"face-attendance-go/internal/db/repository"

	log "github.com/sirupsen/logrus"
)

// OpenGallery lädt die Galerie und verwirft Einträge, zu denen keine Person mehr gespeichert ist
func OpenGallery(ctx context.Context, repo repository.Repository, path string, kind recognition.Kind, dim int) (*recognition.Gallery, error) {
	gallery, err := recognition.Load(path, kind, dim)
	if err != nil {
		return nil, err
	}
	persons, err := repo.ListPersons(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[uint]bool, len(persons))
	for _, p := range persons {
		known[p.ID] = true
	}
	if pruned := gallery.Prune(func(id uint) bool { return known[id] }); len(pruned) > 0 {
		log.Warnf("Removed %d gallery entries without a matching person: %v", len(pruned), pruned)
	}
	return gallery, nil
}
