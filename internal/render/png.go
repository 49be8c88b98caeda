package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/soaringjerry/Gatepass/internal/services"
)

const (
	pngWidth  = 600
	pngHeight = 400
	pngCode   = 220
)

// PNGRenderer draws a 600x400 ticket card: details on the left, code on
// the right.
type PNGRenderer struct{}

func NewPNGRenderer() *PNGRenderer { return &PNGRenderer{} }

func (PNGRenderer) Format() string      { return "png" }
func (PNGRenderer) ContentType() string { return "image/png" }

func (PNGRenderer) Render(doc services.TicketDocument) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, pngWidth, pngHeight))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	banner := image.Rect(0, 0, pngWidth, 48)
	draw.Draw(img, banner, &image.Uniform{C: color.RGBA{R: 0x1f, G: 0x3a, B: 0x5f, A: 0xff}}, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Src: image.White, Face: basicfont.Face7x13}
	text(d, 20, 30, doc.EventName)
	if doc.EventDate != "" {
		text(d, pngWidth-20-d.MeasureString(doc.EventDate).Round(), 30, doc.EventDate)
	}

	d.Src = image.Black
	y := 90
	text(d, 20, y, doc.FullName)
	for _, line := range detailLines(doc) {
		y += 24
		text(d, 20, y, line)
	}

	if len(doc.Code) > 0 {
		code, err := png.Decode(bytes.NewReader(doc.Code))
		if err != nil {
			return nil, fmt.Errorf("png: decode code: %w", err)
		}
		dst := image.Rect(pngWidth-pngCode-30, 80, pngWidth-30, 80+pngCode)
		draw.NearestNeighbor.Scale(img, dst, code, code.Bounds(), draw.Over, nil)
	}
	text(d, 20, pngHeight-24, "Present this code at registration, boarding and meals.")

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png: %w", err)
	}
	return buf.Bytes(), nil
}

func text(d *font.Drawer, x, y int, s string) {
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}
