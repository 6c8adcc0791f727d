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

	"github.com/callwave-ai/callengine/asyncqueue"
	"github.com/callwave-ai/callengine/util"
)

// RecognitionSettings provides settings for a speech-recognition model.
type RecognitionSettings struct {
	// Optional instructions for the model to follow.
	Prompt string

	// Optional language of the audio input.
	Language string

	// Optional turn detection settings for streamed audio input.
	TurnDetection map[string]any
}

// RecognitionModel converts caller audio into transcript text.
type RecognitionModel interface {
	// ModelName returns the name of the recognition model.
	ModelName() string

	// CreateSession opens a streaming transcription session fed from the
	// input queue. The session is restartable per utterance: each final
	// fragment closes one utterance and the next fragment opens a new one.
	CreateSession(ctx context.Context, params RecognitionSessionParams) (RecognitionSession, error)
}

type RecognitionSessionParams struct {
	// Input carries inbound caller audio. Closing it ends the session's
	// fragment stream.
	Input *asyncqueue.Queue[AudioChunk]

	Settings RecognitionSettings
}

// RecognitionSession is a streamed transcription of one call's audio.
type RecognitionSession interface {
	// Fragments yields transcript fragments in sequence order; a fragment
	// with Final set marks an end-of-utterance boundary.
	// The sequence ends only after the input queue is closed or the context
	// is cancelled.
	Fragments(ctx context.Context) RecognitionFragments

	// Close the session.
	Close(ctx context.Context) error
}

// RecognitionFragments is the session's fragment stream: a util.SeqErr whose
// terminal error is available once the sequence has been consumed.
type RecognitionFragments interface {
	util.SeqErr[TranscriptFragment]
}

// GenerationSettings provides settings for a dialogue-generation model.
type GenerationSettings struct {
	// Instructions steer the model (system prompt).
	Instructions string

	Temperature float64
}

type GenerationParams struct {
	// Transcript is the accumulated caller utterance for this turn.
	Transcript string

	// Context carries short-term history and retrieved memory records.
	Context ContextBundle

	Settings GenerationSettings
}

// GenerationModel produces the agent's reply for one turn.
type GenerationModel interface {
	// ModelName returns the name of the generation model.
	ModelName() string

	// Run generates a reply, streamed incrementally.
	Run(ctx context.Context, params GenerationParams) GenerationRunResult
}

// GenerationRunResult streams reply text as a util.SeqErr. Confidence,
// Sentiment and Intent are provider signals; they are complete once the
// sequence has been consumed, though providers may report them earlier.
type GenerationRunResult interface {
	util.SeqErr[string]

	// Confidence reports the provider's confidence in the reply, if any.
	Confidence() (float64, bool)

	// Sentiment reports the detected caller sentiment, if any.
	Sentiment() (float64, bool)

	// Intent reports the detected caller intent, if any. Used for
	// unconditional escalation routing.
	Intent() (string, bool)
}

// SynthesisSettings provides settings for a speech-synthesis model.
type SynthesisSettings struct {
	// Optional voice to use. Empty uses the model's default voice.
	Voice string

	// Optional instructions to control the tone of the audio output.
	Instructions string

	// Optional speed with which the model reads the text.
	Speed float64
}

// SynthesisModel converts reply text into audio output.
type SynthesisModel interface {
	// ModelName returns the name of the synthesis model.
	ModelName() string

	// Run accepts a text segment and produces a stream of PCM16 audio bytes.
	// Cancelling ctx stops the stream mid-utterance.
	Run(ctx context.Context, text string, settings SynthesisSettings) SynthesisRunResult
}

// SynthesisRunResult is the synthesized audio byte stream.
type SynthesisRunResult interface {
	util.SeqErr[[]byte]
}

// ModelProvider creates the three capability models by name. A concrete
// provider is selected by configuration, never by conditional branching in
// the pipeline.
type ModelProvider interface {
	GetRecognitionModel(modelName string) (RecognitionModel, error)
	GetGenerationModel(modelName string) (GenerationModel, error)
	GetSynthesisModel(modelName string) (SynthesisModel, error)
}
