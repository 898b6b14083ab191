package opencv

import (
	"fmt"

	"face-attendance-go/internal/core/vision"

	gocv "gocv.io/x/gocv"
)

// frameToMat kopiert einen BGR-Frame in eine neue Mat; der Aufrufer muss Close aufrufen
func frameToMat(f vision.Frame) (gocv.Mat, error) {
	if !f.Valid() {
		return gocv.NewMat(), fmt.Errorf("invalid frame %dx%d with %d bytes", f.Width, f.Height, len(f.Pix))
	}
	return gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix)
}

// matToFrame kopiert eine 8-Bit-BGR-Mat in einen Frame
func matToFrame(m gocv.Mat) (vision.Frame, error) {
	if m.Empty() {
		return vision.Frame{}, fmt.Errorf("empty mat")
	}
	if m.Type() != gocv.MatTypeCV8UC3 {
		converted := gocv.NewMat()
		defer converted.Close()
		switch m.Channels() {
		case 1:
			gocv.CvtColor(m, &converted, gocv.ColorGrayToBGR)
		case 4:
			gocv.CvtColor(m, &converted, gocv.ColorBGRAToBGR)
		default:
			return vision.Frame{}, fmt.Errorf("unsupported mat type %v", m.Type())
		}
		return matToFrame(converted)
	}
	return vision.Frame{
		Width:  m.Cols(),
		Height: m.Rows(),
		Pix:    m.ToBytes(),
	}, nil
}
