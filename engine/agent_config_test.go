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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAgentYAML = `
id: support
name: Support Agent
instructions: You are a helpful support agent.
greeting: Hello, thanks for calling.
escalate_intents:
  - cancel_account
voice: ash
confidence_threshold: 0.5
`

func writeAgentFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadAgentConfig(t *testing.T) {
	dir := t.TempDir()
	writeAgentFile(t, dir, "support.yaml", testAgentYAML)

	cfg, err := LoadAgentConfig(filepath.Join(dir, "support.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "support", cfg.ID)
	assert.Equal(t, "ash", cfg.Voice)
	require.NotNil(t, cfg.ConfidenceThreshold)
	assert.Equal(t, 0.5, *cfg.ConfidenceThreshold)

	// Scripted utterances default when absent.
	assert.Equal(t, DefaultFallbackScript, cfg.FallbackScript)
	assert.Equal(t, DefaultEscalationMessage, cfg.EscalationMessage)
}

func TestLoadAgentConfigRequiresID(t *testing.T) {
	dir := t.TempDir()
	writeAgentFile(t, dir, "broken.yaml", "name: No ID\n")

	_, err := LoadAgentConfig(filepath.Join(dir, "broken.yaml"))
	assert.Error(t, err)
}

func TestLoadAgentConfigDir(t *testing.T) {
	dir := t.TempDir()
	writeAgentFile(t, dir, "support.yaml", testAgentYAML)
	writeAgentFile(t, dir, "sales.yml", "id: sales\nname: Sales Agent\n")
	writeAgentFile(t, dir, "notes.txt", "not an agent")

	agents, err := LoadAgentConfigDir(dir)
	require.NoError(t, err)
	assert.Len(t, agents, 2)
	assert.Contains(t, agents, "support")
	assert.Contains(t, agents, "sales")
}

func TestLoadAgentConfigDirRejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writeAgentFile(t, dir, "a.yaml", "id: support\n")
	writeAgentFile(t, dir, "b.yaml", "id: support\n")

	_, err := LoadAgentConfigDir(dir)
	assert.Error(t, err)
}

func TestShouldEscalateIntent(t *testing.T) {
	cfg := AgentConfig{EscalateIntents: []string{"cancel_account", "Complaint"}}

	assert.True(t, cfg.ShouldEscalateIntent("cancel_account"))
	assert.True(t, cfg.ShouldEscalateIntent("complaint"))
	assert.False(t, cfg.ShouldEscalateIntent("greeting"))
	assert.False(t, cfg.ShouldEscalateIntent(""))
}
