// Package objectstore keeps synthesized speech artifacts in a NATS JetStream
// object store bucket.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrEmptyKey is returned for operations without an object name.
var ErrEmptyKey = errors.New("object key cannot be empty")

const (
	bucketDescription = "Synthesized speech audio and subtitles."
	errFmtGetObject   = "failed to get object '%s' from bucket '%s': %w"
	errFmtPutObject   = "failed to put object '%s' to bucket '%s': %w"
)

// ArtifactStore implements core.ObjectStore on a JetStream object store.
type ArtifactStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*ArtifactStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: bucketDescription,
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &ArtifactStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Bucket returns the bucket name.
func (a *ArtifactStore) Bucket() string {
	return a.bucket
}

// Download retrieves an object.
func (a *ArtifactStore) Download(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	obj, err := a.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf(errFmtGetObject, key, a.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload saves data under key.
func (a *ArtifactStore) Upload(_ context.Context, key string, data []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	_, err := a.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf(errFmtPutObject, key, a.bucket, err)
	}

	return nil
}

// UploadFile streams the file at path into the bucket under key.
func (a *ArtifactStore) UploadFile(_ context.Context, key, path string) error {
	if key == "" {
		return ErrEmptyKey
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to open artifact %s: %w", path, err)
	}
	defer file.Close()

	_, err = a.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: filepath.Base(path),
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, file)
	if err != nil {
		return fmt.Errorf(errFmtPutObject, key, a.bucket, err)
	}

	return nil
}

// Delete removes an object.
func (a *ArtifactStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	err := a.store.Delete(key)
	if err != nil {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, a.bucket, err)
	}

	return nil
}
