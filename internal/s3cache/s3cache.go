// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

// Package s3cache provides a byte store backed by Amazon S3, suitable for
// wrapping in an imagecache.ByteTier.  Objects carry an optional lifetime so
// stale payloads age out of the bucket even though the tier itself never
// sweeps remote storage.
package s3cache

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// object is the stored envelope.  StaleAfter is zero when the store has no
// lifetime configured.
type object struct {
	Payload    []byte    `json:"payload"`
	StaleAfter time.Time `json:"stale_after,omitempty"`
}

type store struct {
	s3iface.S3API
	bucket, prefix string
	lifetime       time.Duration
}

func (s *store) Get(key string) ([]byte, bool) {
	key = path.Join(s.prefix, keyToFilename(key))
	input := &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}

	resp, err := s.GetObject(input)
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() != "NoSuchKey" {
			log.Printf("error fetching from s3: %v", aerr)
		}
		return nil, false
	}
	defer resp.Body.Close()

	var obj object
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		log.Printf("error decoding s3 object: %v", err)
		return nil, false
	}

	if !obj.StaleAfter.IsZero() && time.Now().After(obj.StaleAfter) {
		s.deleteObject(key)
		return nil, false
	}

	return obj.Payload, true
}

func (s *store) Set(key string, value []byte) {
	key = path.Join(s.prefix, keyToFilename(key))

	obj := object{Payload: value}
	if s.lifetime > 0 {
		obj.StaleAfter = time.Now().Add(s.lifetime)
	}

	data, err := json.Marshal(obj)
	if err != nil {
		log.Printf("error encoding s3 object: %v", err)
		return
	}

	input := &s3.PutObjectInput{
		Body:   aws.ReadSeekCloser(bytes.NewReader(data)),
		Bucket: &s.bucket,
		Key:    &key,
	}

	if _, err := s.PutObject(input); err != nil {
		log.Printf("error writing to s3: %v", err)
	}
}

func (s *store) Delete(key string) {
	s.deleteObject(path.Join(s.prefix, keyToFilename(key)))
}

// deleteObject removes the named object.  name is the bucket key, already
// prefixed and hashed.
func (s *store) deleteObject(name string) {
	input := &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &name,
	}

	if _, err := s.DeleteObject(input); err != nil {
		log.Printf("error deleting from s3: %v", err)
	}
}

func keyToFilename(key string) string {
	h := md5.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

// New constructs a store configured using the provided URL string.
// URL should be of the form: "s3://region/bucket/optional-path-prefix".
func New(s string) (*store, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	region := u.Host
	path := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	bucket := path[0]
	var prefix string
	if len(path) > 1 {
		prefix = path[1]
	}

	config := aws.NewConfig().WithRegion(region)

	// allow overriding some additional config options, mostly useful when
	// working with s3-compatible services other than AWS.
	if v := u.Query().Get("endpoint"); v != "" {
		config = config.WithEndpoint(v)
	}
	if v := u.Query().Get("disableSSL"); v == "1" {
		config = config.WithDisableSSL(true)
	}
	if v := u.Query().Get("s3ForcePathStyle"); v == "1" {
		config = config.WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(config)
	if err != nil {
		return nil, err
	}

	return &store{
		S3API:  s3.New(sess),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// NewWithLifetime constructs a store whose objects become stale after the
// given duration.
func NewWithLifetime(s string, lifetime time.Duration) (*store, error) {
	c, err := New(s)
	if err != nil {
		return nil, err
	}
	c.lifetime = lifetime
	return c, nil
}
