package opencv

import (
	"face-attendance-go/internal/core/processor"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

const keyEsc = 27

// Window zeigt annotierte Frames in einem lokalen Fenster an
type Window struct {
	win *gocv.Window
}

// NewWindow öffnet ein Vorschaufenster
func NewWindow(title string) *Window {
	return &Window{win: gocv.NewWindow(title)}
}

// Show zeichnet den Frame und meldet, ob ESC gedrückt oder das Fenster geschlossen wurde
func (w *Window) Show(af processor.AnnotatedFrame) bool {
	img, err := annotatedMat(af)
	if err != nil {
		log.WithError(err).Debug("Skipping preview frame")
		return false
	}
	defer img.Close()

	w.win.IMShow(img)
	key := w.win.WaitKey(1)
	return key == keyEsc || !w.win.IsOpen()
}

// Close schließt das Fenster
func (w *Window) Close() error {
	return w.win.Close()
}
