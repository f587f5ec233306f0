// Package gcs provides a ContentStore backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/numberwatch/internal/watch"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// ContentStore keeps downloaded documents in a GCS bucket.
type ContentStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed content store.
func New(client *storage.Client, cfg Config) (*ContentStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &ContentStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Exists reports whether the object for name is present.
func (s *ContentStore) Exists(ctx context.Context, name string) (bool, error) {
	objectName, err := s.objectName(name)
	if err != nil {
		return false, err
	}
	_, err = s.client.Bucket(s.bucket).Object(objectName).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("object attrs %s: %w", objectName, err)
	}
}

// Put uploads r to the object for name.
func (s *ContentStore) Put(ctx context.Context, name string, r io.Reader) error {
	objectName, err := s.objectName(name)
	if err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	writer.ContentType = "application/pdf"
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Open downloads the object for name into memory.
func (s *ContentStore) Open(ctx context.Context, name string) (watch.File, error) {
	objectName, err := s.objectName(name)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(s.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("open %s: %w", objectName, watch.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", objectName, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", objectName, err)
	}
	return file{bytes.NewReader(data)}, nil
}

func (s *ContentStore) objectName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	if s.prefix == "" {
		return name, nil
	}
	return path.Join(s.prefix, name), nil
}

type file struct {
	*bytes.Reader
}

func (file) Close() error { return nil }
