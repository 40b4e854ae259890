package pdfsecure

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/essamgouda97/pdf-secure/internal/crypto"
	"github.com/essamgouda97/pdf-secure/internal/debug"
	"github.com/essamgouda97/pdf-secure/persist"
)

// pageKeyDigestLen is how many hex characters of the document key digest
// prefix a page name.
const pageKeyDigestLen = 32

// PageObjectName is the storage name of one page. It is built from a digest
// of the document key, so its length does not depend on the key. The
// generation separates successive registrations of the same key and is empty
// for records written before generations existed.
func PageObjectName(docKey, generation string, index int) string {
	name := crypto.CalculateChecksum([]byte(docKey))[:pageKeyDigestLen]
	if generation != "" {
		name += "-" + generation
	}
	return name + "_" + strconv.Itoa(index) + ".enc"
}

// pageAAD binds a page to the full document key, so a digest collision in
// the object name still fails authentication.
func pageAAD(docKey, generation string, index int) []byte {
	return []byte(fmt.Sprintf("page:%d:%s:%s:%d", len(docKey), docKey, generation, index))
}

// newGeneration returns a fresh lowercase hex generation token.
func newGeneration() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func validGeneration(generation string) bool {
	for _, c := range generation {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// PageStore keeps one encrypted RGB raster per (document, generation, page index).
type PageStore struct {
	store persist.Store
	codec *Codec
	cache *lru.Cache[string, *RasterImage]
}

// NewPageStore returns a page store. cacheSize > 0 keeps that many decrypted
// pages in memory.
func NewPageStore(store persist.Store, codec *Codec, cacheSize int) (*PageStore, error) {
	ps := &PageStore{store: store, codec: codec}
	if cacheSize > 0 {
		cache, err := lru.New[string, *RasterImage](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create page cache: %w", err)
		}
		ps.cache = cache
	}
	return ps, nil
}

// StorePage repacks an RGBA raster to RGB, seals it and writes it under its
// deterministic name.
func (ps *PageStore) StorePage(docKey, generation string, index, width, height int, rgba []byte) (PageGeometry, error) {
	if index < 0 {
		return PageGeometry{}, fmt.Errorf("invalid page index %d", index)
	}

	rgb, err := rgbaToRGB(width, height, rgba)
	if err != nil {
		return PageGeometry{}, fmt.Errorf("page %d of %s: %w", index, docKey, err)
	}

	ciphertext, err := ps.codec.Seal(DomainPage, rgb, pageAAD(docKey, generation, index))
	if err != nil {
		return PageGeometry{}, fmt.Errorf("failed to encrypt page %d of %s: %w", index, docKey, err)
	}

	name := PageObjectName(docKey, generation, index)
	if err = ps.store.SavePage(name, ciphertext); err != nil {
		return PageGeometry{}, err
	}
	if ps.cache != nil {
		ps.cache.Remove(name)
	}

	debug.Print("StorePage: %s %dx%d (%d bytes)\n", name, width, height, len(ciphertext))
	return PageGeometry{Width: uint32(width), Height: uint32(height)}, nil
}

// LoadPage decrypts one page and checks it against the recorded geometry.
// Every call returns its own copy of the pixels, cached or not.
func (ps *PageStore) LoadPage(docKey, generation string, index int, geom PageGeometry) (*RasterImage, error) {
	name := PageObjectName(docKey, generation, index)
	if ps.cache != nil {
		if img, ok := ps.cache.Get(name); ok {
			return img.Clone(), nil
		}
	}

	ciphertext, err := ps.store.LoadPage(name)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return nil, fmt.Errorf("%w: page %d of %s", ErrPageNotFound, index, docKey)
		}
		return nil, err
	}

	rgb, err := ps.codec.Open(DomainPage, ciphertext, pageAAD(docKey, generation, index))
	if err != nil {
		return nil, fmt.Errorf("page %d of %s: %w", index, docKey, err)
	}

	if len(rgb) != geom.RGBSize() {
		return nil, fmt.Errorf("%w: page %d of %s decrypted to %d bytes, expected %d for %dx%d",
			ErrCorruptPage, index, docKey, len(rgb), geom.RGBSize(), geom.Width, geom.Height)
	}

	img := &RasterImage{Width: int(geom.Width), Height: int(geom.Height), Pix: rgb}
	if ps.cache != nil {
		ps.cache.Add(name, img)
		return img.Clone(), nil
	}
	return img, nil
}

func (ps *PageStore) PageExists(docKey, generation string, index int) (bool, error) {
	return ps.store.PageExists(PageObjectName(docKey, generation, index))
}

// DeletePages removes pages [from, to) of one generation of a document.
// Missing pages are ignored.
func (ps *PageStore) DeletePages(docKey, generation string, from, to int) error {
	var errs []error
	for i := from; i < to; i++ {
		name := PageObjectName(docKey, generation, i)
		if ps.cache != nil {
			ps.cache.Remove(name)
		}
		if err := ps.store.DeletePage(name); err != nil {
			errs = append(errs, err)
		}
	}
	return combineErrors(errs...)
}

// Purge drops every cached plaintext page.
func (ps *PageStore) Purge() {
	if ps.cache != nil {
		ps.cache.Purge()
	}
}
