package pdfsecure

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
)

// PageGeometry is the pixel size of one rendered page. Decrypted page bytes
// carry no dimensions, so the ledger records them.
type PageGeometry struct {
	Width  uint32
	Height uint32
}

// RGBSize is the byte length of the packed RGB raster for this geometry.
func (g PageGeometry) RGBSize() int {
	return int(g.Width) * int(g.Height) * 3
}

// MarshalJSON encodes the geometry as a [width, height] pair.
func (g PageGeometry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]uint32{g.Width, g.Height})
}

func (g *PageGeometry) UnmarshalJSON(data []byte) error {
	var pair [2]uint32
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("page geometry must be [width, height]: %w", err)
	}
	g.Width, g.Height = pair[0], pair[1]
	return nil
}

// RasterImage is a decrypted page: packed RGB, row-major, no padding.
// It satisfies image.Image so display code can draw or encode it directly.
type RasterImage struct {
	Width  int
	Height int
	Pix    []byte
}

var _ image.Image = (*RasterImage)(nil)

func (r *RasterImage) ColorModel() color.Model {
	return color.RGBAModel
}

func (r *RasterImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.Width, r.Height)
}

func (r *RasterImage) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= r.Width || y >= r.Height {
		return color.RGBA{}
	}
	i := (y*r.Width + x) * 3
	return color.RGBA{R: r.Pix[i], G: r.Pix[i+1], B: r.Pix[i+2], A: 0xff}
}

// ToRGBA expands the raster into an opaque *image.RGBA.
func (r *RasterImage) ToRGBA() *image.RGBA {
	out := image.NewRGBA(r.Bounds())
	for src, dst := 0, 0; src < len(r.Pix); src, dst = src+3, dst+4 {
		out.Pix[dst] = r.Pix[src]
		out.Pix[dst+1] = r.Pix[src+1]
		out.Pix[dst+2] = r.Pix[src+2]
		out.Pix[dst+3] = 0xff
	}
	return out
}

// Clone returns a copy that shares no memory with r.
func (r *RasterImage) Clone() *RasterImage {
	pix := make([]byte, len(r.Pix))
	copy(pix, r.Pix)
	return &RasterImage{Width: r.Width, Height: r.Height, Pix: pix}
}

// EncodePNG writes the page as a PNG.
func (r *RasterImage) EncodePNG(w io.Writer) error {
	return png.Encode(w, r.ToRGBA())
}

// rgbaToRGB drops the alpha channel of a width*height RGBA buffer.
func rgbaToRGB(width, height int, rgba []byte) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid page size %dx%d", width, height)
	}
	if len(rgba) != width*height*4 {
		return nil, fmt.Errorf("raster is %d bytes, expected %d for %dx%d RGBA",
			len(rgba), width*height*4, width, height)
	}

	rgb := make([]byte, width*height*3)
	for src, dst := 0, 0; src < len(rgba); src, dst = src+4, dst+3 {
		rgb[dst] = rgba[src]
		rgb[dst+1] = rgba[src+1]
		rgb[dst+2] = rgba[src+2]
	}
	return rgb, nil
}
