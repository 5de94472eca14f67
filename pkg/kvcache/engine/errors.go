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

import "errors"

// The error kinds an Engine surfaces, per spec.md §7. Callers should use
// errors.Is against these sentinels; wrapped context is added with %w.
var (
	// ErrInvalidArg is returned when a caller gave insufficient tokens for
	// the requested block index, or a Config violates its constraints.
	ErrInvalidArg = errors.New("kvcache: invalid argument")
	// ErrStaleHandle is returned by Load when the blob store reports
	// NotFound for a handle obtained from a prior Lookup: the block was
	// evicted between Lookup and Load.
	ErrStaleHandle = errors.New("kvcache: stale handle")
	// ErrTransient is returned when blob I/O fails for a retryable reason
	// (network error, 5xx response).
	ErrTransient = errors.New("kvcache: transient blob store error")
	// ErrConfigError is returned when fingerprinting or component wiring
	// cannot proceed given the supplied Config.
	ErrConfigError = errors.New("kvcache: configuration error")
)
