// Package blobstore persists raw document bytes behind one interface,
// hiding whether they live on local disk or in object storage. The remote
// backend is optional; its absence is a normal state, not an error.
package blobstore

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/phuslu/log"

	"github.com/beaconkb/beacon/internal/config"
)

// Backend tags which store owns a blob.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRemote Backend = "remote"
)

// remoteClient is the slice of object-storage behavior the store needs;
// satisfied by *S3Client.
type remoteClient interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error
	Download(ctx context.Context, key string, w io.Writer) error
	Remove(ctx context.Context, key string) error
}

// Store resolves the active backend at call time. Uploads prefer remote
// storage when it is configured and fall back to the local path on any
// upload failure.
type Store struct {
	remote remoteClient
}

// NewStore builds a store from the storage config. An incomplete config, or
// a client that fails to initialize, leaves the store local-only.
func NewStore(ctx context.Context, cfg config.StorageConfig) *Store {
	if !cfg.Complete() {
		log.Info().Msg("remote storage not configured, using local filesystem")
		return &Store{}
	}
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("remote storage unavailable, using local filesystem")
		return &Store{}
	}
	return &Store{remote: client}
}

func newStoreWithClient(remote remoteClient) *Store {
	return &Store{remote: remote}
}

// IsRemoteConfigured reports whether uploads will target object storage.
func (s *Store) IsRemoteConfigured() bool {
	return s.remote != nil
}

// Put persists the file at localPath. With remote storage configured it
// uploads under key, deletes the local copy and returns (key, remote). On
// any upload failure it returns (localPath, local) with the file preserved;
// a Put never fails the caller just because object storage is unreachable.
func (s *Store) Put(ctx context.Context, localPath, key, contentType string) (string, Backend) {
	if !s.IsRemoteConfigured() {
		return localPath, BackendLocal
	}

	f, err := os.Open(localPath)
	if err != nil {
		log.Warn().Err(err).Str("path", localPath).Msg("cannot read file for upload, keeping local copy")
		return localPath, BackendLocal
	}

	uploadErr := s.remote.Upload(ctx, key, f, contentType)
	f.Close()
	if uploadErr != nil {
		log.Warn().Err(uploadErr).Str("key", key).Msg("remote upload failed, keeping local copy")
		return localPath, BackendLocal
	}

	if err := os.Remove(localPath); err != nil {
		log.Warn().Err(err).Str("path", localPath).Msg("could not remove local copy after upload")
	}
	log.Info().Str("key", key).Msg("blob uploaded to remote storage")
	return key, BackendRemote
}

// Get resolves key to a readable local path. For the local backend the key is
// the path. For the remote backend the blob is downloaded into a fresh temp
// file; the caller owns its deletion. Download failures propagate: a document
// whose bytes cannot be fetched cannot be processed.
func (s *Store) Get(ctx context.Context, key string, backend Backend) (string, error) {
	if backend != BackendRemote {
		return key, nil
	}
	if s.remote == nil {
		return "", errors.New("blob is remote but remote storage is not configured")
	}

	tmp, err := os.CreateTemp("", "beacon-blob-*"+filepath.Ext(key))
	if err != nil {
		return "", err
	}
	if err := s.remote.Download(ctx, key, tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// Delete removes a blob. It is idempotent: deleting an already-absent blob
// succeeds.
func (s *Store) Delete(ctx context.Context, key string, backend Backend) error {
	if backend == BackendRemote {
		if s.remote == nil {
			return nil
		}
		return s.remote.Remove(ctx, key)
	}
	if err := os.Remove(key); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
