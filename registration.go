package pdfsecure

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/essamgouda97/pdf-secure/audit"
	"github.com/essamgouda97/pdf-secure/internal/crypto"
	"github.com/essamgouda97/pdf-secure/internal/debug"
)

// Rasterizer opens a source document for page rendering.
type Rasterizer interface {
	Open(path string) (RasterDocument, error)
}

// RasterDocument renders the pages of one opened document.
type RasterDocument interface {
	PageCount() int
	// RenderPage returns page i as width*height*4 bytes of RGBA.
	RenderPage(i int) (width, height int, rgba []byte, err error)
	Close() error
}

// PolicyPrompter supplies the open-count ceiling for a document being
// registered. Input validation and re-prompting belong to the implementation.
type PolicyPrompter interface {
	MaxOpenCount(docKey string) (int, error)
}

// RegistrationResult describes one registered document.
type RegistrationResult struct {
	DocumentKey  string
	Source       string
	PageCount    int
	MaxOpenCount int
	Overwritten  bool
}

// Registrar moves documents from the intake directory into the vault.
type Registrar struct {
	intakeDir  string
	ext        string
	ledger     *Ledger
	ledgers    *LedgerStore
	pages      *PageStore
	rasterizer Rasterizer
	prompter   PolicyPrompter
	audit      audit.Logger
	now        func() time.Time
}

// RegisterIntake registers every matching file in the intake directory, in
// name order. It stops at the first failure and returns what completed.
func (r *Registrar) RegisterIntake(ctx context.Context) ([]RegistrationResult, error) {
	sources, err := r.discover()
	if err != nil {
		return nil, err
	}

	results := make([]RegistrationResult, 0, len(sources))
	for _, source := range sources {
		if err = ctx.Err(); err != nil {
			return results, err
		}

		result, err := r.registerOne(ctx, source)
		if err != nil {
			return results, fmt.Errorf("failed to register %s: %w", filepath.Base(source), err)
		}
		results = append(results, result)
	}
	return results, nil
}

// RegisterFile registers a single document from any location.
func (r *Registrar) RegisterFile(ctx context.Context, path string) (RegistrationResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return RegistrationResult{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return RegistrationResult{}, fmt.Errorf("%s is not a regular file", path)
	}
	return r.registerOne(ctx, path)
}

// discover lists intake files with the configured extension. Subdirectories
// are not descended into.
func (r *Registrar) discover() ([]string, error) {
	if r.intakeDir == "" {
		return nil, errors.New("no intake directory configured")
	}

	entries, err := os.ReadDir(r.intakeDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read intake directory: %w", err)
	}

	var sources []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), r.ext) {
			debug.Print("discover: skipping %s\n", entry.Name())
			continue
		}
		sources = append(sources, filepath.Join(r.intakeDir, entry.Name()))
	}
	sort.Strings(sources)
	return sources, nil
}

// registerOne runs the pipeline for one source:
// rasterize, store pages, prompt, register, save ledger, delete source.
// The source is only removed once every page and the ledger are durable.
func (r *Registrar) registerOne(ctx context.Context, source string) (result RegistrationResult, err error) {
	docKey := DocumentKey(source)
	if err = validateDocumentKey(docKey); err != nil {
		return result, err
	}

	previous, existed := r.ledger.Document(docKey)

	doc, err := r.rasterizer.Open(source)
	if err != nil {
		return result, fmt.Errorf("failed to open document: %w", err)
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil {
			log.Printf("WARNING: failed to close %s: %v", source, cerr)
		}
	}()

	pageCount := doc.PageCount()
	if pageCount < 1 {
		return result, fmt.Errorf("document %s has no pages", docKey)
	}

	// pages go to a fresh generation, so the current record and its pages
	// stay readable until the new record is durable
	generation := newGeneration()
	written := 0
	rollback := func() {
		if written == 0 {
			return
		}
		if derr := r.pages.DeletePages(docKey, generation, 0, written); derr != nil {
			log.Printf("WARNING: failed to remove pages of %s after failed registration: %v", docKey, derr)
		}
	}

	geometry := make([]PageGeometry, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		if err = ctx.Err(); err != nil {
			rollback()
			return result, err
		}

		width, height, rgba, rerr := doc.RenderPage(i)
		if rerr != nil {
			rollback()
			return result, fmt.Errorf("failed to render page %d: %w", i, rerr)
		}

		geom, serr := r.pages.StorePage(docKey, generation, i, width, height, rgba)
		if serr != nil {
			rollback()
			return result, serr
		}
		written++
		geometry = append(geometry, geom)
	}

	maxOpen, err := r.prompter.MaxOpenCount(docKey)
	if err != nil {
		rollback()
		return result, fmt.Errorf("failed to read max open count: %w", err)
	}
	if maxOpen < 0 {
		rollback()
		return result, fmt.Errorf("max open count cannot be negative: %d", maxOpen)
	}

	record := &DocumentRecord{
		OpenCount:    1,
		MaxOpenCount: maxOpen,
		PageCount:    pageCount,
		Pages:        geometry,
		RegisteredAt: r.now().UTC(),
		Source:       source,
		Generation:   generation,
	}

	if err = r.ledger.Register(docKey, record); err != nil {
		rollback()
		return result, err
	}

	if err = saveLedger(r.ledgers, r.ledger, r.audit, docKey); err != nil {
		// keep memory in step with what is on disk
		if existed {
			r.ledger.Documents[docKey] = previous
		} else {
			delete(r.ledger.Documents, docKey)
		}
		rollback()
		return result, err
	}

	if existed {
		if derr := r.pages.DeletePages(docKey, previous.Generation, 0, previous.PageCount); derr != nil {
			log.Printf("WARNING: failed to remove replaced pages of %s: %v", docKey, derr)
		}
	}

	action := audit.ActionDocumentRegistered
	if existed {
		action = audit.ActionDocumentOverwritten
	}
	metadata := map[string]interface{}{
		"document":       docKey,
		"pages":          pageCount,
		"max_open_count": maxOpen,
	}
	// identifies the deleted source for later provenance checks
	if data, rerr := os.ReadFile(source); rerr == nil {
		metadata["source_sha256"] = crypto.CalculateChecksum(data)
	}
	logAudit(r.audit, action, true, metadata)

	result = RegistrationResult{
		DocumentKey:  docKey,
		Source:       source,
		PageCount:    pageCount,
		MaxOpenCount: maxOpen,
		Overwritten:  existed,
	}

	if err = os.Remove(source); err != nil {
		return result, fmt.Errorf("registered %s but failed to delete source: %w", docKey, err)
	}
	return result, nil
}
