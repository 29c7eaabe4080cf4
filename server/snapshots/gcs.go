package snapshots

import (
	"context"
	"io"

	gcs "cloud.google.com/go/storage"
	"github.com/cyclopcam/logs"
)

// StorageGCS is a Google Cloud Storage-based blob store
type StorageGCS struct {
	bucketName string
	bucket     *gcs.BucketHandle
	isPublic   bool
	log        logs.Log
}

func NewStorageGCS(ctx context.Context, log logs.Log, bucketName string, isPublic bool) (*StorageGCS, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &StorageGCS{
		bucketName: bucketName,
		bucket:     client.Bucket(bucketName),
		isPublic:   isPublic,
		log:        log,
	}, nil
}

func (s *StorageGCS) WriteFile(name string) (io.WriteCloser, error) {
	w := s.bucket.Object(name).NewWriter(context.Background())
	w.ContentType = "image/jpeg"
	return w, nil
}

func (s *StorageGCS) ReadFile(name string) (*File, error) {
	r, err := s.bucket.Object(name).NewReader(context.Background())
	if err != nil {
		return nil, err
	}
	return &File{
		Reader:     r,
		ModifiedAt: r.Attrs.LastModified,
		Size:       r.Attrs.Size,
	}, nil
}

func (s *StorageGCS) DeleteFile(name string) error {
	s.log.Infof("Deleting snapshot gs://%v/%v", s.bucketName, name)
	return s.bucket.Object(name).Delete(context.Background())
}

func (s *StorageGCS) URL(name string) (string, error) {
	if !s.isPublic {
		return "", ErrNoPublicURL
	}
	return "https://storage.googleapis.com/" + s.bucketName + "/" + name, nil
}
