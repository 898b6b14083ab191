package opencv

import (
	"fmt"
	"image"
	"image/color"

	"face-attendance-go/internal/core/processor"

	gocv "gocv.io/x/gocv"
)

var (
	colorConfirmed = color.RGBA{0, 200, 0, 0}
	colorSeen      = color.RGBA{0, 200, 255, 0}
	colorUnknown   = color.RGBA{0, 0, 255, 0}
)

// drawAnnotations zeichnet Boxen und Labels in die Mat
func drawAnnotations(img *gocv.Mat, faces []processor.FaceAnnotation) {
	for _, f := range faces {
		c := colorUnknown
		switch {
		case f.State == processor.SlotConfirmed.String() && f.PersonID != 0:
			c = colorConfirmed
		case f.State == processor.SlotSeen.String():
			c = colorSeen
		}
		r := f.Box.Rect()
		gocv.Rectangle(img, r, c, 2)

		text := f.Label
		if f.PersonID != 0 {
			text = fmt.Sprintf("%s %.2f", f.Label, f.Confidence)
		}
		y := r.Min.Y - 6
		if y < 12 {
			y = r.Max.Y + 14
		}
		gocv.PutText(img, text, image.Pt(r.Min.X, y), gocv.FontHersheyPlain, 1.2, c, 2)
	}
}

// annotatedMat erstellt eine Mat mit eingezeichneten Annotationen; der Aufrufer muss Close aufrufen
func annotatedMat(af processor.AnnotatedFrame) (gocv.Mat, error) {
	img, err := frameToMat(af.Frame)
	if err != nil {
		return img, err
	}
	drawAnnotations(&img, af.Faces)
	return img, nil
}

// EncodeAnnotated liefert den annotierten Frame als JPEG
func EncodeAnnotated(af processor.AnnotatedFrame) ([]byte, error) {
	img, err := annotatedMat(af)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
