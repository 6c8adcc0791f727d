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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentConfig is one agent definition as persisted by the configuration
// console. The engine only reads these; authoring them is out of scope.
type AgentConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Instructions steer the generation model.
	Instructions string `yaml:"instructions"`

	// Greeting is spoken when the call connects. Empty skips the greeting.
	Greeting string `yaml:"greeting"`

	// FallbackScript is the scripted utterance played when the pipeline
	// fails or produces a low-confidence reply.
	FallbackScript string `yaml:"fallback_script"`

	// EscalationMessage is spoken right before the call is handed to a human.
	EscalationMessage string `yaml:"escalation_message"`

	// EscalateIntents lists intents which escalate unconditionally.
	EscalateIntents []string `yaml:"escalate_intents"`

	Voice string `yaml:"voice"`

	// Model overrides; empty falls back to the engine config.
	RecognitionModel string `yaml:"recognition_model"`
	GenerationModel  string `yaml:"generation_model"`
	SynthesisModel   string `yaml:"synthesis_model"`

	// ConfidenceThreshold overrides the engine-wide threshold when set.
	ConfidenceThreshold *float64 `yaml:"confidence_threshold"`
}

const (
	DefaultFallbackScript    = "I'm sorry, I didn't quite get that. Could you say it again?"
	DefaultEscalationMessage = "Let me connect you with a colleague who can help."
)

func (c *AgentConfig) validate() error {
	if c.ID == "" {
		return errors.New("agent config: missing id")
	}
	return nil
}

// applyDefaults fills the scripted utterances the caller must never be left
// without.
func (c *AgentConfig) applyDefaults() {
	if c.FallbackScript == "" {
		c.FallbackScript = DefaultFallbackScript
	}
	if c.EscalationMessage == "" {
		c.EscalationMessage = DefaultEscalationMessage
	}
}

// ShouldEscalateIntent reports whether the detected intent is configured for
// unconditional escalation.
func (c *AgentConfig) ShouldEscalateIntent(intent string) bool {
	if intent == "" {
		return false
	}
	for _, v := range c.EscalateIntents {
		if strings.EqualFold(v, intent) {
			return true
		}
	}
	return false
}

// LoadAgentConfig reads one agent definition from a YAML file.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading agent config %s: %w", path, err)
	}
	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing agent config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadAgentConfigDir reads every *.yaml / *.yml agent definition in dir,
// keyed by agent ID.
func LoadAgentConfigDir(dir string) (map[string]*AgentConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading agent config dir %s: %w", dir, err)
	}

	agents := make(map[string]*AgentConfig)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		cfg, err := LoadAgentConfig(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if _, ok := agents[cfg.ID]; ok {
			return nil, fmt.Errorf("duplicate agent id %q in %s", cfg.ID, dir)
		}
		agents[cfg.ID] = cfg
	}
	return agents, nil
}
