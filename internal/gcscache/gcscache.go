// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

// Package gcscache provides a byte store backed by Google Cloud Storage,
// suitable for wrapping in an imagecache.ByteTier.
package gcscache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"path"

	"cloud.google.com/go/storage"
)

var ctx = context.Background()

// objectHandle is the subset of *storage.ObjectHandle the store uses.
type objectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
	Delete(ctx context.Context) error
}

// bucketHandle is the subset of *storage.BucketHandle the store uses.
type bucketHandle interface {
	Object(name string) objectHandle
}

// gcsBucket adapts *storage.BucketHandle to the bucketHandle interface.
type gcsBucket struct {
	bucket *storage.BucketHandle
}

func (b *gcsBucket) Object(name string) objectHandle {
	return &gcsObject{b.bucket.Object(name)}
}

type gcsObject struct {
	obj *storage.ObjectHandle
}

func (o *gcsObject) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return o.obj.NewReader(ctx)
}

func (o *gcsObject) NewWriter(ctx context.Context) io.WriteCloser {
	return o.obj.NewWriter(ctx)
}

func (o *gcsObject) Delete(ctx context.Context) error {
	return o.obj.Delete(ctx)
}

type store struct {
	bucket bucketHandle
	prefix string
}

func (s *store) Get(key string) ([]byte, bool) {
	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotExist) {
			log.Printf("error reading from gcs: %v", err)
		}
		return nil, false
	}
	defer r.Close()

	value, err := io.ReadAll(r)
	if err != nil {
		log.Printf("error reading from gcs: %v", err)
		return nil, false
	}
	if len(value) == 0 {
		return nil, false
	}

	return value, true
}

func (s *store) Set(key string, value []byte) {
	w := s.object(key).NewWriter(ctx)
	if _, err := w.Write(value); err != nil {
		log.Printf("error writing to gcs: %v", err)
	}
	if err := w.Close(); err != nil {
		log.Printf("error closing gcs object writer: %v", err)
	}
}

func (s *store) Delete(key string) {
	if err := s.object(key).Delete(ctx); err != nil {
		log.Printf("error deleting gcs object: %v", err)
	}
}

func (s *store) object(key string) objectHandle {
	name := path.Join(s.prefix, keyToFilename(key))
	return s.bucket.Object(name)
}

func keyToFilename(key string) string {
	h := md5.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

// New constructs a store keeping objects in the specified GCS bucket.  If
// prefix is not empty, objects will be prefixed with that path.  Credentials
// should be specified using one of the mechanisms supported for Application
// Default Credentials (see
// https://cloud.google.com/docs/authentication/production).
func New(bucket, prefix string) (*store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}

	return NewWithBucket(&gcsBucket{client.Bucket(bucket)}, prefix), nil
}

// NewWithBucket constructs a store on an existing bucket handle.
func NewWithBucket(bucket bucketHandle, prefix string) *store {
	return &store{
		bucket: bucket,
		prefix: prefix,
	}
}
