package flat

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKV is an in-memory KV with an optional size limit and a hook that
// runs before each Get.
type fakeKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	limit   int
	gets    int
	onGet   func(n int, kv *fakeKV)
	setErrs int
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

func (f *fakeKV) Get(key string) ([]byte, error) {
	f.mu.Lock()
	f.gets++
	n, hook := f.gets, f.onGet
	f.mu.Unlock()
	if hook != nil {
		hook(n, f)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, ErrNotExist
	}
	return append([]byte(nil), v...), nil
}

func (f *fakeKV) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit > 0 && len(value) > f.limit {
		f.setErrs++
		return ErrQuota
	}
	f.data[key] = append([]byte(nil), value...)
	return nil
}

func (f *fakeKV) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeKV) Location() string { return "fake" }
func (f *fakeKV) Persistent() bool { return true }
func (f *fakeKV) Close() error     { return nil }

func TestFileKV_RoundTrip(t *testing.T) {
	kv, err := OpenFileKV(t.TempDir())
	require.NoError(t, err)

	_, err = kv.Get("doc")
	assert.ErrorIs(t, err, ErrNotExist)

	require.NoError(t, kv.Set("doc", []byte(`{"a":1}`)))
	got, err := kv.Get("doc")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	require.NoError(t, kv.Set("doc", []byte(`{"a":2}`)))
	got, err = kv.Get("doc")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(got))

	require.NoError(t, kv.Delete("doc"))
	require.NoError(t, kv.Delete("doc"), "deleting a missing key is fine")
	_, err = kv.Get("doc")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestFileKV_EscapesKeys(t *testing.T) {
	kv, err := OpenFileKV(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, kv.Set("../escape/attempt", []byte("x")))
	got, err := kv.Get("../escape/attempt")
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))

	assert.Error(t, kv.Set("..", []byte("x")))
}

func TestBadgerKV_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	kv, err := OpenBadgerKV(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	require.NoError(t, kv.Set("doc", []byte("hello")))
	require.NoError(t, kv.Close())

	kv, err = OpenBadgerKV(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	defer kv.Close()

	got, err := kv.Get("doc")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.True(t, kv.Persistent())
	assert.Equal(t, dir, kv.Location())
}

func TestBadgerKV_MissingKey(t *testing.T) {
	kv, err := OpenBadgerKV(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer kv.Close()

	_, err = kv.Get("nope")
	assert.ErrorIs(t, err, ErrNotExist)
	assert.False(t, kv.Persistent())
	assert.NoError(t, kv.Delete("nope"))
}

func TestScratchBadgerKV_RemovedOnClose(t *testing.T) {
	parent := t.TempDir()

	cfg := ScratchBadgerConfig(parent)
	assert.Equal(t, parent, filepath.Dir(cfg.Path))
	assert.NotEqual(t, cfg.Path, ScratchBadgerConfig(parent).Path)

	kv, err := OpenBadgerKV(cfg)
	require.NoError(t, err)
	require.NoError(t, kv.Set("payload", make([]byte, 1<<20)))
	_, err = os.Stat(cfg.Path)
	require.NoError(t, err)

	require.NoError(t, kv.Close())
	_, err = os.Stat(cfg.Path)
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBadgerKV_CloseCollectsValueLog(t *testing.T) {
	dir := t.TempDir()

	kv, err := OpenBadgerKV(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	for range 4 {
		require.NoError(t, kv.Set("payload", make([]byte, 1<<20)))
	}
	require.NoError(t, kv.Delete("payload"))
	require.NoError(t, kv.Set("doc", []byte("kept")))
	require.NoError(t, kv.RunGC(DefaultGCRatio))
	require.NoError(t, kv.Close())

	kv, err = OpenBadgerKV(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	defer kv.Close()

	got, err := kv.Get("doc")
	require.NoError(t, err)
	assert.Equal(t, "kept", string(got))
	_, err = kv.Get("payload")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestOpenBadgerKV_RequiresPath(t *testing.T) {
	_, err := OpenBadgerKV(BadgerConfig{})
	assert.Error(t, err)
}

func TestIsQuotaErr(t *testing.T) {
	assert.True(t, isQuotaErr(errors.New("write /data/doc: no space left on device")))
	assert.True(t, isQuotaErr(errors.New("disk quota exceeded")))
	assert.False(t, isQuotaErr(errors.New("permission denied")))
}
