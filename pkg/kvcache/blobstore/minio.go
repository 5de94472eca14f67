/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config wires a MinioStore to an S3-compatible endpoint. Field meanings
// and defaults are spelled out in spec.md §6.
type S3Config struct {
	Endpoint        string `json:"s3Endpoint"`
	Region          string `json:"s3Region"`
	Bucket          string `json:"s3Bucket"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	// UsePathStyle selects path-style addressing (bucket.domain.tld/key vs
	// domain.tld/bucket/key), required by MinIO and most self-hosted
	// S3-compatible stores.
	UsePathStyle bool `json:"s3UsePathStyle"`
}

// MinioStore is the S3-compatible blobstore.Store backing the cache, built
// on minio-go so it works against real S3 as well as MinIO.
type MinioStore struct {
	client *minio.Client
	bucket string
}

var _ Store = (*MinioStore)(nil)

// NewMinioStore connects to the endpoint described by cfg. It does not
// verify the bucket exists; the first Get/Put surfaces that as an error.
func NewMinioStore(cfg S3Config) (*MinioStore, error) {
	lookup := minio.BucketLookupAuto
	if cfg.UsePathStyle {
		lookup = minio.BucketLookupPath
	} else {
		lookup = minio.BucketLookupDNS
	}

	secure := strings.HasPrefix(cfg.Endpoint, "https://")
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Get implements Store.
func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translateErr(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.translateErr(key, err)
	}

	return data, nil
}

// Put implements Store.
func (s *MinioStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("blobstore: put %s: %w", key, err)
	}

	return nil
}

// Delete implements Store. A missing key is not surfaced as an error.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		if isNotFoundErr(err) {
			return nil
		}

		return fmt.Errorf("blobstore: delete %s: %w", key, err)
	}

	return nil
}

func (s *MinioStore) translateErr(key string, err error) error {
	if isNotFoundErr(err) {
		return ErrNotFound
	}

	return fmt.Errorf("blobstore: get %s: %w", key, err)
}

func isNotFoundErr(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}
