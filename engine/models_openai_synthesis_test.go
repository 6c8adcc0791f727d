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

	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
)

func TestOpenAISynthesisRequestParams(t *testing.T) {
	m := NewOpenAISynthesisModel("gpt-4o-mini-tts", OpenaiClient{})

	params := m.requestParams("Hello there.", SynthesisSettings{
		Voice:        "coral",
		Instructions: "Speak warmly.",
		Speed:        1.2,
	})

	assert.Equal(t, "gpt-4o-mini-tts", params.Model)
	assert.Equal(t, openai.AudioSpeechNewParamsVoice("coral"), params.Voice)
	assert.Equal(t, "Hello there.", params.Input)
	assert.Equal(t, openai.AudioSpeechNewParamsResponseFormatPCM, params.ResponseFormat)
	assert.Equal(t, openai.AudioSpeechNewParamsStreamFormatAudio, params.StreamFormat)
	assert.True(t, params.Instructions.Valid())
	assert.Equal(t, "Speak warmly.", params.Instructions.Value)
	assert.True(t, params.Speed.Valid())
	assert.Equal(t, 1.2, params.Speed.Value)
}

func TestOpenAISynthesisRequestParamsDefaults(t *testing.T) {
	m := NewOpenAISynthesisModel("gpt-4o-mini-tts", OpenaiClient{})

	params := m.requestParams("Hello there.", SynthesisSettings{})

	assert.Equal(t, DefaultOpenAISynthesisVoice, params.Voice)
	// Unset optionals must be omitted from the request, not sent as zeros.
	assert.False(t, params.Instructions.Valid())
	assert.False(t, params.Speed.Valid())
}
