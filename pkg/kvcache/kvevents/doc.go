// Copyright 2025 The llm-d Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kvevents implements an optional, best-effort outbound feed of
// block admission/eviction events. A Publisher sits beside an engine and
// emits BlockAdmitted/BlockEvicted/CacheCleared events over a ZMQ PUB
// socket as the engine's metadata store changes; a Pool on the consuming
// side subscribes, shards by producer, and hands decoded events to a Sink.
//
// The feed is observational only: no component here is ever the source of
// truth for block residency. A subscriber that misses events, disconnects,
// or never existed has no effect on the producing engine's correctness.
package kvevents
