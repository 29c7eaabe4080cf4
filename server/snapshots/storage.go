// Package snapshots keeps annotated frames in a blob store (local filesystem or GCS)
package snapshots

import (
	"errors"
	"io"
	"time"
)

var (
	ErrNoPublicURL   = errors.New("storage has no public URL")
	ErrInvalidName   = errors.New("invalid file name")
	ErrNotConfigured = errors.New("no snapshot storage configured")
)

// Storage is an abstraction of a blob store
type Storage interface {
	// When finished, you must close the WriteCloser
	WriteFile(name string) (io.WriteCloser, error)

	// When finished, you must close File.Reader
	ReadFile(name string) (*File, error)

	DeleteFile(name string) error

	// Returns ErrNoPublicURL if the blob is not publicly reachable
	URL(name string) (string, error)
}

// File is an element in blob storage.
type File struct {
	Reader     io.ReadCloser
	ModifiedAt time.Time
	Size       int64
}

func WriteFile(s Storage, name string, content io.Reader) error {
	f, err := s.WriteFile(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, content)
	errClose := f.Close()
	if err != nil {
		return err
	}
	return errClose
}

func ReadFile(s Storage, name string) ([]byte, error) {
	f, err := s.ReadFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Reader.Close()
	return io.ReadAll(f.Reader)
}

// SYNC-SNAPSHOT-STORAGE-CONFIG
type Config struct {
	Filesystem *ConfigFS  `json:"filesystem,omitempty"`
	GCS        *ConfigGCS `json:"gcs,omitempty"`
}

type ConfigFS struct {
	Root string `json:"root"`
}

type ConfigGCS struct {
	Bucket string `json:"bucket"`
	Public bool   `json:"public"` // If true, snapshot URLs point directly at the bucket
}
