// Copyright 2025 AgentLens Authors
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

package trace

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/agentlens/agentlens/internal/config"
)

// Sampler decides, once per run, whether a run is traced. The decision is
// cached on the run context; every event in the run inherits it.
type Sampler interface {
	ShouldSample(runID, runName string, cfg *config.Config) bool
}

// HashSampler is the default deterministic sampler: a run is traced iff
// hash(run_id) / 2^64 < sample_rate. The same run_id yields the same
// decision in every process.
type HashSampler struct{}

// two64 is 2^64 as a float; the divisor in the sampling inequality.
const two64 = 18446744073709551616.0

// ShouldSample implements Sampler.
func (HashSampler) ShouldSample(runID, runName string, cfg *config.Config) bool {
	// only_on_error traces every run; the run context buffers events and
	// discards them when the run completes cleanly.
	if cfg.OnlyOnError {
		return true
	}
	if cfg.SampleRate >= 1.0 {
		return true
	}
	if cfg.SampleRate <= 0.0 {
		return false
	}
	sum := sha256.Sum256([]byte(runID))
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u)/two64 < cfg.SampleRate
}
