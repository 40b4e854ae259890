// Package rasterizer turns source documents into RGBA page rasters for the
// registration pipeline.
package rasterizer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	pdfsecure "github.com/essamgouda97/pdf-secure"
	"github.com/essamgouda97/pdf-secure/internal/debug"
	"github.com/essamgouda97/pdf-secure/internal/misc"
)

// Poppler renders PDF pages with the pdftoppm tool. Each page is rendered on
// demand into a private temporary directory that Close removes.
type Poppler struct {
	// Binary is the pdftoppm executable. Defaults to "pdftoppm" on PATH.
	Binary string
	// Scale is the long-side size of a rendered page in pixels.
	Scale int
	// TempDir is where the private work directory is created. Empty uses
	// the system default; point it at the vault device to keep plaintext
	// renders off the host disk.
	TempDir string
}

func (p Poppler) binary() string {
	if p.Binary == "" {
		return "pdftoppm"
	}
	return p.Binary
}

func (p Poppler) scale() int {
	if p.Scale <= 0 {
		return misc.DefaultRenderScale
	}
	return p.Scale
}

// Available reports whether the pdftoppm binary can be found.
func (p Poppler) Available() error {
	if _, err := exec.LookPath(p.binary()); err != nil {
		return fmt.Errorf("pdftoppm not found, install poppler-utils: %w", err)
	}
	return nil
}

// Open counts the pages of the PDF at path and prepares it for rendering.
func (p Poppler) Open(path string) (pdfsecure.RasterDocument, error) {
	if err := p.Available(); err != nil {
		return nil, err
	}

	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	if ctx.PageCount < 1 {
		return nil, fmt.Errorf("%s has no pages", filepath.Base(path))
	}

	workDir, err := os.MkdirTemp(p.TempDir, "pdf-secure-render-")
	if err != nil {
		return nil, fmt.Errorf("failed to create render directory: %w", err)
	}

	return &popplerDocument{
		binary:    p.binary(),
		scale:     p.scale(),
		source:    path,
		workDir:   workDir,
		pageCount: ctx.PageCount,
	}, nil
}

type popplerDocument struct {
	binary    string
	scale     int
	source    string
	workDir   string
	pageCount int
}

func (d *popplerDocument) PageCount() int {
	return d.pageCount
}

// renderArgs renders the single zero-based page i to prefix.png.
func (d *popplerDocument) renderArgs(i int, prefix string) []string {
	page := strconv.Itoa(i + 1)
	return []string{
		"-png",
		"-scale-to", strconv.Itoa(d.scale),
		"-f", page,
		"-l", page,
		"-singlefile",
		d.source,
		prefix,
	}
}

func (d *popplerDocument) RenderPage(i int) (int, int, []byte, error) {
	if i < 0 || i >= d.pageCount {
		return 0, 0, nil, fmt.Errorf("page %d out of range [0, %d)", i, d.pageCount)
	}

	prefix := filepath.Join(d.workDir, "page-"+strconv.Itoa(i))
	var stderr bytes.Buffer
	cmd := exec.Command(d.binary, d.renderArgs(i, prefix)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, 0, nil, fmt.Errorf("pdftoppm failed on page %d: %w: %s", i, err, bytes.TrimSpace(stderr.Bytes()))
	}

	out := prefix + ".png"
	defer os.Remove(out)

	f, err := os.Open(out)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("rendered page %d missing: %w", i, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to decode page %d: %w", i, err)
	}

	rgba := ToRGBA(img)
	debug.Print("RenderPage: %s page %d -> %dx%d\n", filepath.Base(d.source), i, rgba.Rect.Dx(), rgba.Rect.Dy())
	return rgba.Rect.Dx(), rgba.Rect.Dy(), rgba.Pix, nil
}

func (d *popplerDocument) Close() error {
	if d.workDir == "" {
		return errors.New("document already closed")
	}
	err := os.RemoveAll(d.workDir)
	d.workDir = ""
	return err
}

// ToRGBA returns img as a tightly packed *image.RGBA anchored at the origin.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) && rgba.Stride == 4*rgba.Rect.Dx() {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
