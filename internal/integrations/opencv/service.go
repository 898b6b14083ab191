package opencv

import (
	"face-attendance-go/internal/core/processor"

	log "github.com/sirupsen/logrus"
)

// Display ist der Verbraucher der Frame-Queue: er füllt die HTTP-Vorschau und
// zeigt optional ein lokales Fenster an.
type Display struct {
	Preview *PreviewService
	Window  *Window
	// OnStop wird aufgerufen, wenn im Fenster ESC gedrückt wird
	OnStop func()
}

// Run liest Frames, bis die Queue geschlossen wird. Das Fenster muss im
// Thread bedient werden, der es erstellt hat.
func (d *Display) Run(frames <-chan processor.AnnotatedFrame) {
	stopped := false
	for af := range frames {
		if d.Preview != nil {
			d.Preview.Add(af)
		}
		if d.Window == nil || stopped {
			continue
		}
		if d.Window.Show(af) {
			log.Info("Preview window closed, stopping pipeline")
			stopped = true
			if d.OnStop != nil {
				d.OnStop()
			}
		}
	}
	if d.Window != nil {
		if err := d.Window.Close(); err != nil {
			log.WithError(err).Debug("Failed to close preview window")
		}
	}
}
