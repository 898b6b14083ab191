package opencv

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"face-attendance-go/internal/core/processor"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// PreviewImage ist ein annotierter Frame im Speicher
type PreviewImage struct {
	ID        string
	Seq       uint64
	Timestamp time.Time
	Faces     []processor.FaceAnnotation
	ImageData []byte
}

// PreviewService hält die letzten annotierten Frames für die HTTP-Vorschau
type PreviewService struct {
	images     map[string]*PreviewImage
	imagesList []*PreviewImage
	maxImages  int
	encode     func(processor.AnnotatedFrame) ([]byte, error)
	mutex      sync.RWMutex
}

// NewPreviewService erstellt einen neuen Vorschau-Puffer
func NewPreviewService(maxImages int) *PreviewService {
	if maxImages <= 0 {
		maxImages = 20
	}
	return &PreviewService{
		images:     make(map[string]*PreviewImage),
		imagesList: make([]*PreviewImage, 0, maxImages),
		maxImages:  maxImages,
		encode:     EncodeAnnotated,
	}
}

// Add kodiert einen verarbeiteten Frame und legt ihn ab; der älteste fällt heraus
func (s *PreviewService) Add(af processor.AnnotatedFrame) {
	if !af.Processed {
		return
	}
	data, err := s.encode(af)
	if err != nil {
		log.WithError(err).Debug("Failed to encode preview frame")
		return
	}

	img := &PreviewImage{
		ID:        fmt.Sprintf("frame-%d", af.Frame.Seq),
		Seq:       af.Frame.Seq,
		Timestamp: af.Frame.CapturedAt,
		Faces:     af.Faces,
		ImageData: data,
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, exists := s.images[img.ID]; exists {
		for i, existing := range s.imagesList {
			if existing.ID == img.ID {
				s.imagesList[i] = img
				break
			}
		}
	} else {
		s.imagesList = append(s.imagesList, img)
		if len(s.imagesList) > s.maxImages {
			oldest := s.imagesList[0]
			delete(s.images, oldest.ID)
			s.imagesList = s.imagesList[1:]
		}
	}
	s.images[img.ID] = img
}

// Latest liefert die neuesten count Bilder, älteste zuerst
func (s *PreviewService) Latest(count int) []*PreviewImage {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if count <= 0 || count > len(s.imagesList) {
		count = len(s.imagesList)
	}
	result := make([]*PreviewImage, count)
	copy(result, s.imagesList[len(s.imagesList)-count:])
	return result
}

// Get liefert ein Bild anhand seiner ID oder nil
func (s *PreviewService) Get(id string) *PreviewImage {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.images[id]
}

// RegisterRoutes registriert die Vorschau-Endpunkte
func (s *PreviewService) RegisterRoutes(router gin.IRouter) {
	router.GET("/api/preview", s.handleLatest)
	router.GET("/api/preview/:id", s.handleImage)
	router.GET("/preview", s.handlePage)
}

func (s *PreviewService) handleLatest(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "10"))
	if err != nil {
		count = 10
	}

	type imageMetadata struct {
		ID        string                     `json:"id"`
		Seq       uint64                     `json:"seq"`
		Timestamp time.Time                  `json:"timestamp"`
		Faces     []processor.FaceAnnotation `json:"faces"`
		URL       string                     `json:"url"`
	}

	images := s.Latest(count)
	metadata := make([]imageMetadata, len(images))
	for i, img := range images {
		metadata[i] = imageMetadata{
			ID:        img.ID,
			Seq:       img.Seq,
			Timestamp: img.Timestamp,
			Faces:     img.Faces,
			URL:       "/api/preview/" + img.ID,
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(metadata),
		"images": metadata,
	})
}

func (s *PreviewService) handleImage(c *gin.Context) {
	img := s.Get(c.Param("id"))
	if img == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "preview image not found", "id": c.Param("id")})
		return
	}
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Data(http.StatusOK, "image/jpeg", img.ImageData)
}

func (s *PreviewService) handlePage(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, previewPage)
}

const previewPage = `<!DOCTYPE html>
<html>
<head>
    <title>Attendance preview</title>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f0f0f0; }
        .container { max-width: 1000px; margin: 0 auto; }
        #frame { width: 100%; background: #222; border-radius: 5px; }
        #faces { margin-top: 10px; color: #333; }
        #events { margin-top: 20px; font-family: monospace; font-size: 13px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Attendance preview</h1>
        <img id="frame" alt="preview">
        <div id="faces"></div>
        <div id="events"></div>
    </div>
    <script>
        const frame = document.getElementById('frame');
        const faces = document.getElementById('faces');
        const events = document.getElementById('events');

        function refresh() {
            fetch('/api/preview?count=1')
                .then(function(r) { return r.json(); })
                .then(function(data) {
                    if (data.count === 0) { return; }
                    const img = data.images[0];
                    frame.src = img.url + '?t=' + Date.now();
                    faces.textContent = (img.faces || []).map(function(f) {
                        return f.label + ' (' + f.state + ')';
                    }).join(', ');
                })
                .finally(function() { setTimeout(refresh, 500); });
        }

        const source = new EventSource('/api/events');
        source.addEventListener('attendance', function(e) {
            const ev = JSON.parse(e.data);
            const line = document.createElement('div');
            line.textContent = ev.timestamp + ' ' + ev.kind + ' ' + ev.name;
            events.prepend(line);
        });

        refresh();
    </script>
</body>
</html>`
