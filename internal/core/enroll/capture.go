package enroll

import (
	"context"
	"errors"
	"fmt"
	"io"

	"face-attendance-go/internal/core/failure"
	"face-attendance-go/internal/core/processor"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
)

// maxCaptureAttempts begrenzt die gelesenen Frames je gewünschtem Beispiel
const maxCaptureAttempts = 100

// CaptureSamples liest Kamerabilder, bis n Frames mit genau einem Gesicht vorliegen.
// Zwischen zwei Beispielen werden every-1 Frames übersprungen.
func CaptureSamples(ctx context.Context, src processor.FrameSource, locator processor.Locator, n, every int, progress io.Writer) ([]Sample, error) {
	if n <= 0 {
		return nil, fmt.Errorf("frame count must be positive")
	}
	if every < 1 {
		every = 1
	}

	var bar *progressbar.ProgressBar
	if progress != nil {
		bar = progressbar.NewOptions(n,
			progressbar.OptionSetDescription("Capturing"),
			progressbar.OptionSetWriter(progress),
			progressbar.OptionShowCount(),
		)
		defer func() { _ = bar.Finish() }()
	}

	samples := make([]Sample, 0, n)
	for read := 0; len(samples) < n; read++ {
		if read >= n*maxCaptureAttempts {
			return samples, failure.Errorf(failure.NoFaceFound, "enroll.capture",
				"captured only %d of %d face frames", len(samples), n)
		}
		frame, err := src.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return samples, err
			}
			if failure.Is(err, failure.BadFrame) {
				continue
			}
			return samples, err
		}
		if read%every != 0 {
			continue
		}

		regions, err := locator.Locate(frame)
		if err != nil {
			log.Debugf("Face detection failed on capture frame %d: %v", read, err)
			continue
		}
		if len(regions) != 1 {
			continue
		}
		samples = append(samples, Sample{Source: fmt.Sprintf("camera frame %d", read), Frame: frame.Clone()})
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	return samples, nil
}

