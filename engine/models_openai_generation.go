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
	"context"
	"fmt"
	"iter"
	"math"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
)

// OpenAIGenerationModel produces replies with the OpenAI chat completions
// API, streamed token by token. Reply confidence is derived from token
// logprobs; the chat API reports no caller sentiment or intent, so intent
// results are always absent and agents configured with escalation intents
// never escalate on intent when backed by this model. Intent-based routing
// needs a GenerationModel whose provider classifies intent.
type OpenAIGenerationModel struct {
	model  string
	client OpenaiClient
}

func NewOpenAIGenerationModel(modelName string, client OpenaiClient) *OpenAIGenerationModel {
	return &OpenAIGenerationModel{
		model:  modelName,
		client: client,
	}
}

func (m *OpenAIGenerationModel) ModelName() string { return m.model }

func (m *OpenAIGenerationModel) Run(ctx context.Context, params GenerationParams) GenerationRunResult {
	body := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(m.model),
		Messages: buildChatMessages(params),
		Logprobs: param.NewOpt(true),
	}
	if params.Settings.Temperature != 0 {
		body.Temperature = param.NewOpt(params.Settings.Temperature)
	}

	return &openAIGenerationRunResult{
		stream: m.client.Chat.Completions.NewStreaming(ctx, body),
	}
}

// buildChatMessages flattens the context bundle into the chat message list:
// instructions and memory records as system context, recent turns as
// alternating user/assistant messages, the current utterance last.
func buildChatMessages(params GenerationParams) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2+2*len(params.Context.Turns))

	if params.Settings.Instructions != "" {
		messages = append(messages, openai.SystemMessage(params.Settings.Instructions))
	}

	if len(params.Context.Records) > 0 {
		var sb strings.Builder
		sb.WriteString("Relevant knowledge for this caller:\n")
		for _, r := range params.Context.Records {
			sb.WriteString("- ")
			sb.WriteString(r.Text)
			sb.WriteString("\n")
		}
		messages = append(messages, openai.SystemMessage(sb.String()))
	}

	for _, turn := range params.Context.Turns {
		if turn.CallerText != "" {
			messages = append(messages, openai.UserMessage(turn.CallerText))
		}
		if turn.AgentText != "" {
			messages = append(messages, openai.AssistantMessage(turn.AgentText))
		}
	}

	messages = append(messages, openai.UserMessage(params.Transcript))
	return messages
}

type openAIGenerationRunResult struct {
	stream interface {
		Next() bool
		Current() openai.ChatCompletionChunk
		Err() error
		Close() error
	}
	err error

	logprobSum   float64
	logprobCount int
}

func (r *openAIGenerationRunResult) Seq() iter.Seq[string] {
	return func(yield func(string) bool) {
		defer func() {
			if err := r.stream.Close(); err != nil && r.err == nil {
				r.err = fmt.Errorf("error closing completion stream: %w", err)
			}
		}()

		for r.stream.Next() {
			chunk := r.stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			for _, lp := range choice.Logprobs.Content {
				r.logprobSum += lp.Logprob
				r.logprobCount++
			}

			if choice.Delta.Content != "" {
				if !yield(choice.Delta.Content) {
					return
				}
			}
		}
		if err := r.stream.Err(); err != nil {
			r.err = AdapterUnavailableError{Stage: StageGeneration, Cause: err}
		}
	}
}

func (r *openAIGenerationRunResult) Error() error { return r.err }

// Confidence is the geometric mean probability of the sampled tokens.
func (r *openAIGenerationRunResult) Confidence() (float64, bool) {
	if r.logprobCount == 0 {
		return 0, false
	}
	return math.Exp(r.logprobSum / float64(r.logprobCount)), true
}

func (r *openAIGenerationRunResult) Sentiment() (float64, bool) { return 0, false }

func (r *openAIGenerationRunResult) Intent() (string, bool) { return "", false }
