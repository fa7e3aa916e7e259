package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote records calls and can be told to fail.
type fakeRemote struct {
	objects     map[string][]byte
	uploadErr   error
	downloadErr error
	removeErr   error
	removed     []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{objects: map[string][]byte{}}
}

func (f *fakeRemote) Upload(_ context.Context, key string, r io.Reader, _ string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = b
	return nil
}

func (f *fakeRemote) Download(_ context.Context, key string, w io.Writer) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	b, ok := f.objects[key]
	if !ok {
		return errors.New("no such key")
	}
	_, err := w.Write(b)
	return err
}

func (f *fakeRemote) Remove(_ context.Context, key string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, key)
	delete(f.objects, key)
	return nil
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIsRemoteConfigured(t *testing.T) {
	assert.False(t, (&Store{}).IsRemoteConfigured())
	assert.True(t, newStoreWithClient(newFakeRemote()).IsRemoteConfigured())
}

func TestPutLocalOnly(t *testing.T) {
	path := writeTempFile(t, "hello")

	key, backend := (&Store{}).Put(context.Background(), path, "documents/u/1-upload.txt", "text/plain")

	assert.Equal(t, path, key)
	assert.Equal(t, BackendLocal, backend)
	_, err := os.Stat(path)
	assert.NoError(t, err, "local file must be preserved")
}

func TestPutUploadsAndRemovesLocal(t *testing.T) {
	remote := newFakeRemote()
	store := newStoreWithClient(remote)
	path := writeTempFile(t, "payload")

	key, backend := store.Put(context.Background(), path, "documents/u/1-upload.txt", "text/plain")

	assert.Equal(t, "documents/u/1-upload.txt", key)
	assert.Equal(t, BackendRemote, backend)
	assert.Equal(t, []byte("payload"), remote.objects[key])
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "local temp must be deleted after upload")
}

func TestPutFallsBackOnUploadError(t *testing.T) {
	remote := newFakeRemote()
	remote.uploadErr = errors.New("bucket unreachable")
	store := newStoreWithClient(remote)
	path := writeTempFile(t, "payload")

	key, backend := store.Put(context.Background(), path, "documents/u/1-upload.txt", "text/plain")

	assert.Equal(t, path, key)
	assert.Equal(t, BackendLocal, backend)
	b, err := os.ReadFile(path)
	require.NoError(t, err, "local file must survive a failed upload")
	assert.Equal(t, "payload", string(b))
}

func TestGetLocalReturnsPath(t *testing.T) {
	got, err := (&Store{}).Get(context.Background(), "/some/local/path.txt", BackendLocal)
	require.NoError(t, err)
	assert.Equal(t, "/some/local/path.txt", got)
}

func TestGetRemoteDownloadsTempFile(t *testing.T) {
	remote := newFakeRemote()
	remote.objects["documents/u/1-a.txt"] = []byte("remote bytes")
	store := newStoreWithClient(remote)

	path, err := store.Get(context.Background(), "documents/u/1-a.txt", BackendRemote)
	require.NoError(t, err)
	defer os.Remove(path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("remote bytes"), b))
	assert.NotEqual(t, "documents/u/1-a.txt", path)
}

func TestGetRemoteDownloadErrorPropagates(t *testing.T) {
	remote := newFakeRemote()
	remote.downloadErr = errors.New("auth expired")
	store := newStoreWithClient(remote)

	_, err := store.Get(context.Background(), "documents/u/1-a.txt", BackendRemote)
	assert.Error(t, err)
}

func TestDeleteIdempotent(t *testing.T) {
	store := &Store{}
	path := writeTempFile(t, "x")

	require.NoError(t, store.Delete(context.Background(), path, BackendLocal))
	require.NoError(t, store.Delete(context.Background(), path, BackendLocal), "second delete must not error")
	require.NoError(t, store.Delete(context.Background(), "/never/existed", BackendLocal))
}

func TestDeleteRemote(t *testing.T) {
	remote := newFakeRemote()
	remote.objects["k"] = []byte("x")
	store := newStoreWithClient(remote)

	require.NoError(t, store.Delete(context.Background(), "k", BackendRemote))
	assert.Equal(t, []string{"k"}, remote.removed)

	// Deleting a remote blob with no remote client is a no-op.
	require.NoError(t, (&Store{}).Delete(context.Background(), "k", BackendRemote))
}
