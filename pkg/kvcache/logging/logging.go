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

// Package logging centralizes the klog verbosity levels used across the
// cache packages, so call sites agree on what counts as DEBUG vs TRACE.
package logging

const (
	// DEBUG is for per-operation detail: cache hits/misses, eviction picks.
	DEBUG int = 2
	// TRACE is for per-block detail inside an operation.
	TRACE int = 4
)
