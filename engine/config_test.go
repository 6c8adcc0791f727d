// Copyright 2026 The CallWave Authors
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

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("CALLENGINE_STAGE_RETRIES", "5")
	t.Setenv("CALLENGINE_MEMORY_TIMEOUT", "250ms")
	t.Setenv("CALLENGINE_GENERATION_MODEL", "gpt-4o")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.StageRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.MemoryTimeout)
	assert.Equal(t, "gpt-4o", cfg.GenerationModel)
}

func TestConfigNormalizeClampsDegenerateValues(t *testing.T) {
	cfg := Config{
		ShortTermTurns:          0,
		MemoryRecords:           -1,
		StageRetries:            0,
		QueueDepth:              0,
		BargeInFrames:           0,
		MaxConsecutiveFallbacks: 0,
		FanoutQueueDepth:        0,
	}.normalize()

	assert.Equal(t, 1, cfg.ShortTermTurns)
	assert.Equal(t, 0, cfg.MemoryRecords)
	assert.Equal(t, 1, cfg.StageRetries)
	assert.Equal(t, 1, cfg.QueueDepth)
	assert.Equal(t, 1, cfg.BargeInFrames)
	assert.Equal(t, 1, cfg.MaxConsecutiveFallbacks)
	assert.Equal(t, 1, cfg.FanoutQueueDepth)
}
