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
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the engine's tunables. The numeric thresholds are deliberately
// configuration, not constants: the defaults are an implementation choice.
type Config struct {
	RecognitionModel string `env:"CALLENGINE_RECOGNITION_MODEL" envDefault:"gpt-4o-transcribe"`
	GenerationModel  string `env:"CALLENGINE_GENERATION_MODEL" envDefault:"gpt-4o-mini"`
	SynthesisModel   string `env:"CALLENGINE_SYNTHESIS_MODEL" envDefault:"gpt-4o-mini-tts"`

	// ShortTermTurns is how many recent turns the context manager includes.
	ShortTermTurns int `env:"CALLENGINE_SHORT_TERM_TURNS" envDefault:"8"`

	// ContextBudgetChars bounds the combined context bundle size.
	ContextBudgetChars int `env:"CALLENGINE_CONTEXT_BUDGET_CHARS" envDefault:"6000"`

	// MemoryRecords is the maximum number of memory records requested per turn.
	MemoryRecords int `env:"CALLENGINE_MEMORY_RECORDS" envDefault:"5"`

	// MemoryTimeout bounds the long-term memory query. Exceeding it degrades
	// the context bundle to short-term history only.
	MemoryTimeout time.Duration `env:"CALLENGINE_MEMORY_TIMEOUT" envDefault:"750ms"`

	// StageTimeout is the deadline on each externally-dispatched stage call.
	StageTimeout time.Duration `env:"CALLENGINE_STAGE_TIMEOUT" envDefault:"10s"`

	// StageRetries is the per-utterance retry budget for transient errors.
	StageRetries int `env:"CALLENGINE_STAGE_RETRIES" envDefault:"3"`

	// RetryInitialInterval seeds the exponential backoff between retries.
	RetryInitialInterval time.Duration `env:"CALLENGINE_RETRY_INITIAL_INTERVAL" envDefault:"100ms"`

	// QueueDepth bounds each stage's intake queue.
	QueueDepth int `env:"CALLENGINE_QUEUE_DEPTH" envDefault:"32"`

	// QueueFullTimeout is how long a producer may wait on a full intake queue
	// before the condition counts as a stage timeout.
	QueueFullTimeout time.Duration `env:"CALLENGINE_QUEUE_FULL_TIMEOUT" envDefault:"2s"`

	// BargeInThreshold is the normalized RMS energy above which inbound audio
	// counts as caller speech while the agent is responding.
	BargeInThreshold float64 `env:"CALLENGINE_BARGE_IN_THRESHOLD" envDefault:"0.015"`

	// BargeInFrames is how many consecutive frames must exceed the threshold
	// before barge-in fires, filtering single-frame noise spikes.
	BargeInFrames int `env:"CALLENGINE_BARGE_IN_FRAMES" envDefault:"2"`

	// ConfidenceThreshold routes generation replies below it to fallback.
	ConfidenceThreshold float64 `env:"CALLENGINE_CONFIDENCE_THRESHOLD" envDefault:"0.3"`

	// MaxConsecutiveFallbacks is how many fallback outcomes in a row escalate
	// the call.
	MaxConsecutiveFallbacks int `env:"CALLENGINE_MAX_CONSECUTIVE_FALLBACKS" envDefault:"2"`

	// FanoutQueueDepth bounds each event subscriber's delivery queue.
	// A subscriber whose queue overflows is dropped.
	FanoutQueueDepth int `env:"CALLENGINE_FANOUT_QUEUE_DEPTH" envDefault:"128"`
}

// DefaultConfig returns the default configuration without consulting the
// environment.
func DefaultConfig() Config {
	cfg := Config{
		RecognitionModel:        "gpt-4o-transcribe",
		GenerationModel:         "gpt-4o-mini",
		SynthesisModel:          "gpt-4o-mini-tts",
		ShortTermTurns:          8,
		ContextBudgetChars:      6000,
		MemoryRecords:           5,
		MemoryTimeout:           750 * time.Millisecond,
		StageTimeout:            10 * time.Second,
		StageRetries:            3,
		RetryInitialInterval:    100 * time.Millisecond,
		QueueDepth:              32,
		QueueFullTimeout:        2 * time.Second,
		BargeInThreshold:        0.015,
		BargeInFrames:           2,
		ConfidenceThreshold:     0.3,
		MaxConsecutiveFallbacks: 2,
		FanoutQueueDepth:        128,
	}
	return cfg.normalize()
}

// LoadConfig reads the configuration from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing engine config from environment: %w", err)
	}
	return cfg.normalize(), nil
}

// normalize clamps values that would make the pipeline degenerate.
func (c Config) normalize() Config {
	if c.ShortTermTurns < 1 {
		c.ShortTermTurns = 1
	}
	if c.MemoryRecords < 0 {
		c.MemoryRecords = 0
	}
	if c.StageRetries < 1 {
		c.StageRetries = 1
	}
	if c.QueueDepth < 1 {
		c.QueueDepth = 1
	}
	if c.BargeInFrames < 1 {
		c.BargeInFrames = 1
	}
	if c.MaxConsecutiveFallbacks < 1 {
		c.MaxConsecutiveFallbacks = 1
	}
	if c.FanoutQueueDepth < 1 {
		c.FanoutQueueDepth = 1
	}
	return c
}
