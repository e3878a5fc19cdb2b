package storage

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	key := AudioKey("abc", ".webm")
	assert.Equal(t, "audio/abc.webm", key)

	require.NoError(t, s.Put(ctx, key, strings.NewReader("bytes"), 5, "audio/webm"))

	rc, err := s.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(data))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Open(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, key))
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.LocalPath("../etc/passwd")
	assert.Error(t, err)
	assert.Error(t, s.Put(context.Background(), "a/../../b", strings.NewReader("x"), 1, ""))
}

func TestAudioKeyDefaultsExtension(t *testing.T) {
	assert.Equal(t, "audio/v.m4a", AudioKey("v", ""))
}

// memBlob has no local path, so Materialize must copy it out.
type memBlob struct{ data map[string]string }

func (m *memBlob) Put(context.Context, string, io.Reader, int64, string) error { return nil }
func (m *memBlob) Delete(context.Context, string) error                        { return nil }
func (m *memBlob) Open(_ context.Context, key string) (io.ReadCloser, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(strings.NewReader(v)), nil
}

func TestMaterialize(t *testing.T) {
	ctx := context.Background()

	t.Run("local store returns its own path", func(t *testing.T) {
		s, err := NewLocalStore(t.TempDir())
		require.NoError(t, err)
		require.NoError(t, s.Put(ctx, "audio/x.m4a", strings.NewReader("abc"), 3, ""))

		path, cleanup, err := Materialize(ctx, s, "audio/x.m4a", t.TempDir())
		require.NoError(t, err)
		cleanup()
		_, err = os.Stat(path)
		assert.NoError(t, err, "cleanup must not remove the stored object")
	})

	t.Run("remote store is copied to a temp file", func(t *testing.T) {
		blob := &memBlob{data: map[string]string{"audio/y.mp3": "remote"}}
		path, cleanup, err := Materialize(ctx, blob, "audio/y.mp3", t.TempDir())
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "remote", string(data))
		assert.True(t, strings.HasSuffix(path, ".mp3"))

		cleanup()
		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("missing object", func(t *testing.T) {
		_, cleanup, err := Materialize(ctx, &memBlob{}, "nope", t.TempDir())
		defer cleanup()
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMaterializeMissingLocalObject(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, cleanup, err := Materialize(context.Background(), s, "audio/none.m4a", t.TempDir())
	defer cleanup()
	assert.ErrorIs(t, err, ErrNotFound)
}
