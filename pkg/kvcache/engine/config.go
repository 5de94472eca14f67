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

package engine

import (
	"os"
	"time"

	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/blobstore"
	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/hotcache"
	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/kvevents"
	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/prefixindex"
)

const (
	defaultModelID       = "demo-model"
	defaultBlockSize     = 256
	defaultCapacityBytes = 10 * 1024 * 1024 * 1024 // 10 GiB

	defaultS3Endpoint      = "http://127.0.0.1:9000"
	defaultS3Region        = "us-east-1"
	defaultS3Bucket        = "kv-cache"
	defaultAccessKeyID     = "minioadmin"
	defaultSecretAccessKey = "minioadmin"
	defaultS3UsePathStyle  = true
	defaultGCPollInterval  = time.Second
)

// Config is the Engine's configuration, enumerated in spec.md §6.
type Config struct {
	ModelID         string `json:"modelId"`
	BlockSizeTokens uint32 `json:"blockSizeTokens"`
	CapacityBytes   uint64 `json:"capacityBytes"`

	S3 blobstore.S3Config `json:"s3"`

	// PrefixIndex bounds the number of tracked prefix fingerprints. Nil
	// means prefixindex.DefaultConfig().
	PrefixIndex *prefixindex.Config `json:"prefixIndex,omitempty"`

	// HotCache optionally fronts the blob store with a Redis read-through
	// cache. Nil disables it entirely.
	HotCache *hotcache.Config `json:"hotCache,omitempty"`

	// Events optionally emits an outbound admission/eviction feed. Nil
	// disables it entirely.
	Events *kvevents.PublisherConfig `json:"events,omitempty"`

	// StrictHWM enables the optional hwm walk-back described in spec.md §9:
	// on eviction of a block at index i at or below a prefix's hwm, the
	// engine sets hwm = i-1 (or forgets the record if i == 0) instead of
	// leaving the prefix record's hwm unchanged.
	StrictHWM bool `json:"strictHwm"`

	// GCPollInterval bounds how long the eviction worker sleeps between
	// checks of used_bytes vs capacity_bytes (spec.md §4.E step 1). Zero
	// means the 1s default.
	GCPollInterval time.Duration `json:"gcPollInterval,omitempty"`

	// MetricsLoggingInterval, if positive, starts a background goroutine that
	// logs a periodic summary of the engine's Prometheus counters/gauges.
	// Zero (the default) disables it entirely.
	MetricsLoggingInterval time.Duration `json:"metricsLoggingInterval,omitempty"`
}

// DefaultConfig returns the Config spec.md §6 describes before any
// environment-variable or explicit override is applied.
func DefaultConfig() *Config {
	return &Config{
		ModelID:         defaultModelID,
		BlockSizeTokens: defaultBlockSize,
		CapacityBytes:   defaultCapacityBytes,
		S3: blobstore.S3Config{
			Endpoint:        defaultS3Endpoint,
			Region:          defaultS3Region,
			Bucket:          defaultS3Bucket,
			AccessKeyID:     defaultAccessKeyID,
			SecretAccessKey: defaultSecretAccessKey,
			UsePathStyle:    defaultS3UsePathStyle,
		},
		PrefixIndex:    prefixindex.DefaultConfig(),
		GCPollInterval: defaultGCPollInterval,
	}
}

// ApplyEnvDefaults fills any S3 field cfg left unset (empty string) from its
// matching environment variable, falling back to the compiled-in default
// when neither is present. Explicit (non-empty) S3 string fields always win
// over the environment (spec.md §6 precedence: config > env > default).
//
// UsePathStyle is the one exception, and the one field spec.md §9 calls out as ambiguous (Open
// Question): the environment variable only overrides when actually present,
// and this implementation treats an absent env var as "leave cfg.S3.UsePathStyle
// as-is" rather than forcing the compiled-in default, so an explicit
// false in Config is never silently flipped back to true.
func (c *Config) ApplyEnvDefaults() {
	if c.S3.Endpoint == "" {
		c.S3.Endpoint = getEnvOr("KVC_S3_ENDPOINT", defaultS3Endpoint)
	}
	if c.S3.Region == "" {
		c.S3.Region = getEnvOr("KVC_S3_REGION", defaultS3Region)
	}
	if c.S3.Bucket == "" {
		c.S3.Bucket = getEnvOr("KVC_S3_BUCKET", defaultS3Bucket)
	}
	if c.S3.AccessKeyID == "" {
		c.S3.AccessKeyID = getEnvOr("KVC_AWS_ACCESS_KEY_ID", defaultAccessKeyID)
	}
	if c.S3.SecretAccessKey == "" {
		c.S3.SecretAccessKey = getEnvOr("KVC_AWS_SECRET_ACCESS_KEY", defaultSecretAccessKey)
	}

	if v, ok := os.LookupEnv("KVC_S3_USE_PATH_STYLE"); ok {
		c.S3.UsePathStyle = v == "1" || v == "true" || v == "TRUE"
	}

	if c.PrefixIndex == nil {
		c.PrefixIndex = prefixindex.DefaultConfig()
	}
	if c.GCPollInterval <= 0 {
		c.GCPollInterval = defaultGCPollInterval
	}
	if c.ModelID == "" {
		c.ModelID = defaultModelID
	}
	if c.CapacityBytes == 0 {
		c.CapacityBytes = defaultCapacityBytes
	}
}

func getEnvOr(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}

	return fallback
}
