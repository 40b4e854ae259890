package pdfsecure

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/essamgouda97/pdf-secure/audit"
	"github.com/essamgouda97/pdf-secure/persist"
	"github.com/stretchr/testify/require"
)

const testDeviceID = "{5A3B-TEST-DEVICE}"

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec(randomKey(t))
	require.NoError(t, err)
	return codec
}

func newTestStore(t *testing.T) (*persist.FileSystemStore, string) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "vault")
	store, err := persist.NewFileSystemStore(base)
	require.NoError(t, err)
	return store, base
}

// writeKeyFile provisions a key file holding key and returns its path.
func writeKeyFile(t *testing.T, key []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key_and_nonce.txt")
	require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0600))
	return path
}

// testEnv is one provisioned USB layout: key file, vault directory, intake.
type testEnv struct {
	keyFile string
	base    string
	intake  string
	audit   *recordingLogger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		keyFile: writeKeyFile(t, randomKey(t)),
		base:    filepath.Join(root, "vault"),
		intake:  filepath.Join(root, "intake"),
		audit:   &recordingLogger{},
	}
	require.NoError(t, os.MkdirAll(env.intake, 0700))
	return env
}

func (e *testEnv) open(t *testing.T, device string) *Vault {
	t.Helper()
	store, err := persist.NewFileSystemStore(e.base)
	require.NoError(t, err)
	v, err := NewWithStore(Options{KeyFile: e.keyFile, IntakeDir: e.intake, PageCacheSize: 4}, store, e.audit, StaticDeviceIdentity(device))
	require.NoError(t, err)
	return v
}

// addSource drops a fake source document into the intake directory.
func (e *testEnv) addSource(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.intake, name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0600))
	return path
}

// pagePath is where the current registration of docKey keeps page index.
func (e *testEnv) pagePath(t *testing.T, v *Vault, docKey string, index int) string {
	t.Helper()
	ledger, err := v.OpenLedger()
	require.NoError(t, err)
	rec, ok := ledger.Document(docKey)
	require.True(t, ok, "%s is not registered", docKey)
	return filepath.Join(e.base, "pages", PageObjectName(docKey, rec.Generation, index))
}

// fakeRasterizer renders every source as pages solid-filled with the page
// index, at the sizes listed for its base name.
type fakeRasterizer struct {
	pages   map[string][][2]int
	failAt  map[string]int
	opened  []string
	openErr error
}

func (f *fakeRasterizer) Open(path string) (RasterDocument, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	name := filepath.Base(path)
	f.opened = append(f.opened, name)
	sizes, ok := f.pages[name]
	if !ok {
		return nil, fmt.Errorf("no fake pages for %s", name)
	}
	failAt := -1
	if i, ok := f.failAt[name]; ok {
		failAt = i
	}
	return &fakeDocument{sizes: sizes, failAt: failAt}, nil
}

type fakeDocument struct {
	sizes  [][2]int
	failAt int
	closed bool
}

func (d *fakeDocument) PageCount() int { return len(d.sizes) }

func (d *fakeDocument) RenderPage(i int) (int, int, []byte, error) {
	if i == d.failAt {
		return 0, 0, nil, errors.New("render failed")
	}
	w, h := d.sizes[i][0], d.sizes[i][1]
	return w, h, solidRGBA(w, h, byte(i+1)), nil
}

func (d *fakeDocument) Close() error {
	d.closed = true
	return nil
}

func solidRGBA(w, h int, v byte) []byte {
	buf := make([]byte, w*h*4)
	for i := 0; i < len(buf); i += 4 {
		buf[i], buf[i+1], buf[i+2], buf[i+3] = v, v, v, 0xff
	}
	return buf
}

// fixedPrompter answers every prompt with max, or err.
type fixedPrompter struct {
	max   int
	err   error
	asked []string
}

func (p *fixedPrompter) MaxOpenCount(docKey string) (int, error) {
	p.asked = append(p.asked, docKey)
	return p.max, p.err
}

// scriptedSelector returns its picks in order, then exits.
type scriptedSelector struct {
	picks    []string
	listings [][]DocumentEntry
}

func (s *scriptedSelector) Select(_ context.Context, entries []DocumentEntry) (string, bool, error) {
	s.listings = append(s.listings, entries)
	if len(s.picks) == 0 {
		return "", true, nil
	}
	pick := s.picks[0]
	s.picks = s.picks[1:]
	return pick, false, nil
}

// scriptedDisplay replays intents and records what was shown.
type scriptedDisplay struct {
	intents []Intent
	titles  []string
	notes   []string
}

func (d *scriptedDisplay) Show(img *RasterImage, title string) error {
	if img == nil {
		return errors.New("nil image")
	}
	d.titles = append(d.titles, title)
	return nil
}

func (d *scriptedDisplay) Next(_ context.Context) (Intent, error) {
	if len(d.intents) == 0 {
		return IntentExit, nil
	}
	intent := d.intents[0]
	d.intents = d.intents[1:]
	return intent, nil
}

func (d *scriptedDisplay) Notify(msg string) {
	d.notes = append(d.notes, msg)
}

// recordingLogger keeps audit calls in memory.
type recordingLogger struct {
	actions []string
	success []bool
}

func (l *recordingLogger) Log(action string, success bool, _ map[string]interface{}) error {
	l.actions = append(l.actions, action)
	l.success = append(l.success, success)
	return nil
}

func (l *recordingLogger) Query(audit.QueryOptions) (audit.QueryResult, error) {
	return audit.QueryResult{}, nil
}

func (l *recordingLogger) Close() error { return nil }

func (l *recordingLogger) count(action string) int {
	n := 0
	for _, a := range l.actions {
		if a == action {
			n++
		}
	}
	return n
}
