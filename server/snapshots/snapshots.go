package snapshots

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/lookout/pkg/imagex"
)

// Store saves annotated frames as JPEG files, keyed by detection record
type Store struct {
	Log     logs.Log
	Storage Storage
	Quality int
}

// Open creates the Store described by cfg.
// GCS takes precedence over the filesystem if both are configured.
func Open(ctx context.Context, log logs.Log, cfg Config) (*Store, error) {
	var storage Storage
	var err error
	switch {
	case cfg.GCS != nil:
		log.Infof("Snapshots will be stored in GCS bucket %v", cfg.GCS.Bucket)
		storage, err = NewStorageGCS(ctx, log, cfg.GCS.Bucket, cfg.GCS.Public)
	case cfg.Filesystem != nil:
		log.Infof("Snapshots will be stored in %v", cfg.Filesystem.Root)
		storage, err = NewStorageFS(log, cfg.Filesystem.Root)
	default:
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to open snapshot storage: %w", err)
	}
	return NewStore(log, storage), nil
}

func NewStore(log logs.Log, storage Storage) *Store {
	return &Store{
		Log:     log,
		Storage: storage,
		Quality: imagex.DefaultJPEGQuality,
	}
}

// Key returns the blob name of the snapshot for record 'id', captured at 't'
func Key(id int64, t time.Time) string {
	return fmt.Sprintf("%v/%v.jpg", t.UTC().Format("2006/01/02"), id)
}

// Save encodes img as JPEG, and returns the key under which it was stored
func (s *Store) Save(id int64, t time.Time, img image.Image) (string, error) {
	jpg, err := imagex.EncodeJPEG(img, s.Quality)
	if err != nil {
		return "", fmt.Errorf("Failed to encode snapshot: %w", err)
	}
	key := Key(id, t)
	if err := WriteFile(s.Storage, key, bytes.NewReader(jpg)); err != nil {
		return "", fmt.Errorf("Failed to write snapshot %v: %w", key, err)
	}
	return key, nil
}

// Open returns the JPEG file. The caller must close File.Reader.
func (s *Store) Open(key string) (*File, error) {
	return s.Storage.ReadFile(key)
}

func (s *Store) Delete(key string) error {
	return s.Storage.DeleteFile(key)
}

// URL returns a public link to the snapshot, or ErrNoPublicURL
func (s *Store) URL(key string) (string, error) {
	return s.Storage.URL(key)
}
