package vision

import (
	"image"
	"image/color"
	"time"

	"github.com/disintegration/imaging"
)

// Frame ist ein einzelnes Kamerabild mit 8-Bit-Kanälen in BGR-Reihenfolge
type Frame struct {
	Width      int
	Height     int
	Pix        []byte // Zeilenweise, len == Width*Height*3
	Seq        uint64
	CapturedAt time.Time
}

// NewFrame allokiert ein schwarzes Bild der angegebenen Größe
func NewFrame(width, height int) Frame {
	return Frame{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*3),
	}
}

// Valid prüft Abmessungen und Puffergröße
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height*3
}

// Bounds liefert das Bildrechteck
func (f Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// SetBGR setzt einen Pixel; Koordinaten außerhalb werden ignoriert
func (f Frame) SetBGR(x, y int, b, g, r byte) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return
	}
	i := (y*f.Width + x) * 3
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = b, g, r
}

// BGR liefert die Kanäle eines Pixels
func (f Frame) BGR(x, y int) (b, g, r byte) {
	i := (y*f.Width + x) * 3
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// Clone erstellt eine tiefe Kopie, damit der Puffer an eine andere Stufe übergeben werden kann
func (f Frame) Clone() Frame {
	c := f
	c.Pix = append([]byte(nil), f.Pix...)
	return c
}

// FromImage wandelt ein beliebiges Bild in einen BGR-Frame um
func FromImage(img image.Image) Frame {
	src := imaging.Clone(img)
	b := src.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	for y := 0; y < f.Height; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+f.Width*4]
		for x := 0; x < f.Width; x++ {
			r, g, bl := row[x*4], row[x*4+1], row[x*4+2]
			f.SetBGR(x, y, bl, g, r)
		}
	}
	return f
}

// ToImage wandelt den Frame in ein NRGBA-Bild um
func (f Frame) ToImage() *image.NRGBA {
	img := image.NewNRGBA(f.Bounds())
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			b, g, r := f.BGR(x, y)
			img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 0xff})
		}
	}
	return img
}

// Crop schneidet eine Region mit relativem Rand aus; der Ausschnitt bleibt innerhalb des Frames
func (f Frame) Crop(r Region, margin float64) *image.NRGBA {
	return imaging.Crop(f.ToImage(), r.Expand(margin, f.Width, f.Height))
}
