package pdfsecure

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/essamgouda97/pdf-secure/audit"
)

func TestRegisterIntake(t *testing.T) {
	env := newTestEnv(t)
	a := env.addSource(t, "a.pdf")
	b := env.addSource(t, "b.PDF")
	notes := env.addSource(t, "notes.txt")
	require.NoError(t, os.Mkdir(filepath.Join(env.intake, "nested.pdf"), 0700))

	raster := &fakeRasterizer{pages: map[string][][2]int{
		"a.pdf": {{4, 6}, {4, 6}, {6, 4}},
		"b.PDF": {{2, 2}},
	}}
	prompter := &fixedPrompter{max: 2}

	v := env.open(t, testDeviceID)
	registrar, err := v.Registrar(raster, prompter)
	require.NoError(t, err)

	results, err := registrar.RegisterIntake(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a.pdf", results[0].DocumentKey)
	assert.Equal(t, 3, results[0].PageCount)
	assert.Equal(t, "b.PDF", results[1].DocumentKey)
	assert.False(t, results[1].Overwritten)
	assert.Equal(t, []string{"a.pdf", "b.PDF"}, prompter.asked)

	for _, src := range []string{a, b} {
		_, err := os.Stat(src)
		assert.True(t, os.IsNotExist(err), "%s should be deleted", src)
	}
	_, err = os.Stat(notes)
	assert.NoError(t, err, "non-matching files stay")

	ledger, err := v.OpenLedger()
	require.NoError(t, err)
	rec, ok := ledger.Document("a.pdf")
	require.True(t, ok)
	assert.Equal(t, 1, rec.OpenCount)
	assert.Equal(t, 2, rec.MaxOpenCount)
	assert.Equal(t, []PageGeometry{{4, 6}, {4, 6}, {6, 4}}, rec.Pages)
	assert.Equal(t, testDeviceID, ledger.DeviceID)

	for i := 0; i < 3; i++ {
		exists, err := v.pages.PageExists("a.pdf", rec.Generation, i)
		require.NoError(t, err)
		assert.True(t, exists)
	}
	img, err := v.pages.LoadPage("a.pdf", rec.Generation, 2, rec.Pages[2])
	require.NoError(t, err)
	assert.Equal(t, byte(3), img.Pix[0])

	assert.Equal(t, 2, env.audit.count(audit.ActionDocumentRegistered))
	assert.Equal(t, 1, env.audit.count(audit.ActionLedgerCreated))
	require.NoError(t, v.Close())
}

func TestRegisterRenderFailureKeepsSource(t *testing.T) {
	env := newTestEnv(t)
	good := env.addSource(t, "a.pdf")
	bad := env.addSource(t, "b.pdf")

	raster := &fakeRasterizer{
		pages: map[string][][2]int{
			"a.pdf": {{2, 2}},
			"b.pdf": {{2, 2}, {2, 2}, {2, 2}},
		},
		failAt: map[string]int{"b.pdf": 2},
	}

	v := env.open(t, testDeviceID)
	defer v.Close()
	registrar, err := v.Registrar(raster, &fixedPrompter{max: 1})
	require.NoError(t, err)

	results, err := registrar.RegisterIntake(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.pdf")
	require.Len(t, results, 1, "documents before the failure stay registered")

	_, err = os.Stat(good)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(bad)
	assert.NoError(t, err, "failed source must be kept")

	ledger, err := v.OpenLedger()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf"}, ledger.Keys())

	rec, _ := ledger.Document("a.pdf")
	names, err := v.store.ListPages()
	require.NoError(t, err)
	assert.Equal(t, []string{PageObjectName("a.pdf", rec.Generation, 0)}, names, "partial pages are removed")
}

func TestRegisterPromptFailure(t *testing.T) {
	env := newTestEnv(t)
	src := env.addSource(t, "a.pdf")

	v := env.open(t, testDeviceID)
	defer v.Close()
	registrar, err := v.Registrar(
		&fakeRasterizer{pages: map[string][][2]int{"a.pdf": {{2, 2}, {2, 2}}}},
		&fixedPrompter{err: errors.New("stdin closed")},
	)
	require.NoError(t, err)

	_, err = registrar.RegisterIntake(context.Background())
	require.Error(t, err)

	_, err = os.Stat(src)
	assert.NoError(t, err)
	names, err := v.store.ListPages()
	require.NoError(t, err)
	assert.Empty(t, names)

	exists, err := v.ledgers.Exists()
	require.NoError(t, err)
	assert.False(t, exists, "nothing registered, nothing saved")
}

func TestRegisterOverwrite(t *testing.T) {
	env := newTestEnv(t)
	raster := &fakeRasterizer{pages: map[string][][2]int{"doc.pdf": {{2, 2}, {2, 2}, {2, 2}}}}

	v := env.open(t, testDeviceID)
	defer v.Close()

	env.addSource(t, "doc.pdf")
	registrar, err := v.Registrar(raster, &fixedPrompter{max: 2})
	require.NoError(t, err)
	_, err = registrar.RegisterIntake(context.Background())
	require.NoError(t, err)

	// view it once
	session, err := v.NewSession()
	require.NoError(t, err)
	viewer, err := session.Open("doc.pdf")
	require.NoError(t, err)
	require.NoError(t, viewer.Close())

	raster.pages["doc.pdf"] = [][2]int{{3, 3}}
	env.addSource(t, "doc.pdf")
	registrar, err = v.Registrar(raster, &fixedPrompter{max: 5})
	require.NoError(t, err)
	results, err := registrar.RegisterIntake(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Overwritten)

	ledger, err := v.OpenLedger()
	require.NoError(t, err)
	rec, _ := ledger.Document("doc.pdf")
	assert.Equal(t, 1, rec.OpenCount, "re-registration starts a fresh count")
	assert.Equal(t, 5, rec.MaxOpenCount)
	assert.Equal(t, 1, rec.PageCount)

	names, err := v.store.ListPages()
	require.NoError(t, err)
	assert.Equal(t, []string{PageObjectName("doc.pdf", rec.Generation, 0)}, names, "replaced pages are removed")
	assert.Equal(t, 1, env.audit.count(audit.ActionDocumentOverwritten))
}

// registerPrevious registers doc.pdf as two 2x2 pages and returns its record.
func registerPrevious(t *testing.T, env *testEnv, v *Vault, raster *fakeRasterizer) *DocumentRecord {
	t.Helper()
	raster.pages["doc.pdf"] = [][2]int{{2, 2}, {2, 2}}
	env.addSource(t, "doc.pdf")
	registrar, err := v.Registrar(raster, &fixedPrompter{max: 3})
	require.NoError(t, err)
	_, err = registrar.RegisterIntake(context.Background())
	require.NoError(t, err)

	ledger, err := v.OpenLedger()
	require.NoError(t, err)
	rec, ok := ledger.Document("doc.pdf")
	require.True(t, ok)
	require.NotEmpty(t, rec.Generation)
	return rec
}

// assertPreviousIntact checks that the first registration of doc.pdf is
// still the one on record and every one of its pages decrypts.
func assertPreviousIntact(t *testing.T, v *Vault, previous *DocumentRecord) {
	t.Helper()
	ledger, err := v.OpenLedger()
	require.NoError(t, err)
	rec, ok := ledger.Document("doc.pdf")
	require.True(t, ok)
	assert.Equal(t, previous.Generation, rec.Generation)
	assert.Equal(t, []PageGeometry{{2, 2}, {2, 2}}, rec.Pages)

	v.pages.Purge()
	for i := range rec.Pages {
		img, err := v.pages.LoadPage("doc.pdf", rec.Generation, i, rec.Pages[i])
		require.NoError(t, err, "page %d", i)
		assert.Equal(t, byte(i+1), img.Pix[0])
	}

	names, err := v.store.ListPages()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		PageObjectName("doc.pdf", rec.Generation, 0),
		PageObjectName("doc.pdf", rec.Generation, 1),
	}, names, "pages of the failed registration are removed")
}

func TestRegisterFailedOverwriteKeepsPrevious(t *testing.T) {
	t.Run("RenderFailure", func(t *testing.T) {
		env := newTestEnv(t)
		raster := &fakeRasterizer{pages: map[string][][2]int{}}
		v := env.open(t, testDeviceID)
		defer v.Close()
		previous := registerPrevious(t, env, v, raster)

		raster.pages["doc.pdf"] = [][2]int{{3, 3}, {3, 3}, {3, 3}}
		raster.failAt = map[string]int{"doc.pdf": 2}
		src := env.addSource(t, "doc.pdf")
		registrar, err := v.Registrar(raster, &fixedPrompter{max: 5})
		require.NoError(t, err)
		_, err = registrar.RegisterIntake(context.Background())
		require.Error(t, err)

		_, err = os.Stat(src)
		assert.NoError(t, err, "failed source must be kept")
		assertPreviousIntact(t, v, previous)
		assert.Zero(t, env.audit.count(audit.ActionDocumentOverwritten))

		session, err := v.NewSession()
		require.NoError(t, err)
		viewer, err := session.Open("doc.pdf")
		require.NoError(t, err)
		img, err := viewer.Current()
		require.NoError(t, err)
		assert.Equal(t, 2, img.Width)
		require.NoError(t, viewer.Close())
	})

	t.Run("LedgerSaveFailure", func(t *testing.T) {
		env := newTestEnv(t)
		raster := &fakeRasterizer{pages: map[string][][2]int{}}
		v := env.open(t, testDeviceID)
		defer v.Close()
		previous := registerPrevious(t, env, v, raster)

		raster.pages["doc.pdf"] = [][2]int{{3, 3}}
		env.addSource(t, "doc.pdf")
		registrar, err := v.Registrar(raster, &fixedPrompter{max: 5})
		require.NoError(t, err)

		// a concurrent writer moves the ledger past the version just read
		ledgerPath := filepath.Join(env.base, "ledger.enc")
		original, err := os.ReadFile(ledgerPath)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(ledgerPath, append(append([]byte{}, original...), 0), 0600))

		_, err = registrar.RegisterIntake(context.Background())
		require.Error(t, err)

		require.NoError(t, os.WriteFile(ledgerPath, original, 0600))
		assertPreviousIntact(t, v, previous)

		rec, _ := registrar.ledger.Document("doc.pdf")
		assert.Equal(t, previous.Generation, rec.Generation, "in-memory ledger is restored")
	})
}

func TestRegisterRespectsContext(t *testing.T) {
	env := newTestEnv(t)
	src := env.addSource(t, "a.pdf")

	v := env.open(t, testDeviceID)
	defer v.Close()
	registrar, err := v.Registrar(&fakeRasterizer{pages: map[string][][2]int{"a.pdf": {{1, 1}}}}, &fixedPrompter{max: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := registrar.RegisterIntake(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)

	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestRegisterRejectsEmptyDocument(t *testing.T) {
	env := newTestEnv(t)
	src := env.addSource(t, "empty.pdf")

	v := env.open(t, testDeviceID)
	defer v.Close()
	registrar, err := v.Registrar(&fakeRasterizer{pages: map[string][][2]int{"empty.pdf": {}}}, &fixedPrompter{max: 1})
	require.NoError(t, err)

	_, err = registrar.RegisterFile(context.Background(), src)
	require.Error(t, err)
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestRegisterFile(t *testing.T) {
	env := newTestEnv(t)
	outside := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(outside, []byte("%PDF"), 0600))

	v := env.open(t, testDeviceID)
	defer v.Close()
	registrar, err := v.Registrar(&fakeRasterizer{pages: map[string][][2]int{"scan.pdf": {{2, 3}}}}, &fixedPrompter{max: 0})
	require.NoError(t, err)

	result, err := registrar.RegisterFile(context.Background(), outside)
	require.NoError(t, err)
	assert.Equal(t, "scan.pdf", result.DocumentKey)
	assert.Equal(t, 0, result.MaxOpenCount)

	_, err = registrar.RegisterFile(context.Background(), t.TempDir())
	assert.Error(t, err, "directories are refused")
}
