package rasterizer

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"

	pdfsecure "github.com/essamgouda97/pdf-secure"
)

// Static serves pre-built pages keyed by source base name. It stands in for
// a real renderer in tests and demos.
type Static map[string][]image.Image

func (s Static) Open(path string) (pdfsecure.RasterDocument, error) {
	pages, ok := s[filepath.Base(path)]
	if !ok {
		return nil, fmt.Errorf("no pages for %s", filepath.Base(path))
	}
	return &staticDocument{pages: pages}, nil
}

type staticDocument struct {
	pages []image.Image
}

func (d *staticDocument) PageCount() int { return len(d.pages) }

func (d *staticDocument) RenderPage(i int) (int, int, []byte, error) {
	if i < 0 || i >= len(d.pages) {
		return 0, 0, nil, fmt.Errorf("page %d out of range", i)
	}
	rgba := ToRGBA(d.pages[i])
	return rgba.Rect.Dx(), rgba.Rect.Dy(), rgba.Pix, nil
}

func (d *staticDocument) Close() error { return nil }

// Solid returns a w x h page filled with c.
func Solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}
