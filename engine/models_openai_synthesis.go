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
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
)

const DefaultOpenAISynthesisVoice = openai.AudioSpeechNewParamsVoiceAsh

// OpenAISynthesisModel is a text-to-speech model backed by the OpenAI speech
// endpoint, streaming raw PCM.
type OpenAISynthesisModel struct {
	model  string
	client OpenaiClient
}

func NewOpenAISynthesisModel(modelName string, client OpenaiClient) *OpenAISynthesisModel {
	return &OpenAISynthesisModel{
		model:  modelName,
		client: client,
	}
}

func (m *OpenAISynthesisModel) ModelName() string { return m.model }

func (m *OpenAISynthesisModel) Run(ctx context.Context, text string, settings SynthesisSettings) SynthesisRunResult {
	resp, err := m.client.Audio.Speech.New(ctx, m.requestParams(text, settings))
	if err != nil {
		err = AdapterUnavailableError{Stage: StageSynthesis, Cause: err}
	}
	return &openAISynthesisRunResult{
		resp: resp,
		err:  err,
	}
}

// requestParams maps the engine settings onto the speech endpoint parameters.
// Unset optional settings stay absent from the request.
func (m *OpenAISynthesisModel) requestParams(text string, settings SynthesisSettings) openai.AudioSpeechNewParams {
	params := openai.AudioSpeechNewParams{
		Model:          m.model,
		Voice:          cmp.Or(openai.AudioSpeechNewParamsVoice(settings.Voice), DefaultOpenAISynthesisVoice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
		StreamFormat:   openai.AudioSpeechNewParamsStreamFormatAudio,
	}
	if settings.Instructions != "" {
		params.Instructions = param.NewOpt(settings.Instructions)
	}
	if settings.Speed != 0 {
		params.Speed = param.NewOpt(settings.Speed)
	}
	return params
}

type openAISynthesisRunResult struct {
	resp *http.Response
	err  error
}

func (r *openAISynthesisRunResult) Seq() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if r.err != nil {
			return
		}
		defer func() {
			if err := r.resp.Body.Close(); err != nil {
				r.err = errors.Join(r.err, fmt.Errorf("error closing response body: %w", err))
			}
		}()

		eof := false
		for !eof {
			chunk := make([]byte, 1024)
			n, err := r.resp.Body.Read(chunk)

			eof = errors.Is(err, io.EOF)
			if err != nil && !eof {
				r.err = fmt.Errorf("error reading response body: %w", err)
				break
			}

			if n > 0 {
				if !yield(chunk[:n]) {
					break
				}
			}
		}
	}
}

func (r *openAISynthesisRunResult) Error() error { return r.err }
