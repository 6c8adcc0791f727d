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
	"errors"
	"os"

	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

const (
	DefaultOpenAIRecognitionModel = "gpt-4o-transcribe"
	DefaultOpenAIGenerationModel  = "gpt-4o-mini"
	DefaultOpenAISynthesisModel   = "gpt-4o-mini-tts"
)

// OpenAIModelProvider creates recognition, generation and synthesis models
// backed by the OpenAI API.
type OpenAIModelProvider struct {
	params OpenAIModelProviderParams
	client *OpenaiClient
}

type OpenAIModelProviderParams struct {
	// The API key to use for the OpenAI client. If not provided, we fall back
	// to the OPENAI_API_KEY environment variable.
	APIKey param.Opt[string]

	// The base URL to use for the OpenAI client. If not provided, we will use
	// the default base URL.
	BaseURL param.Opt[string]

	// An optional OpenAI client to use. If not provided, we will create a new
	// OpenAI client using the APIKey and BaseURL.
	OpenaiClient *OpenaiClient

	// The organization to use for the OpenAI client.
	Organization param.Opt[string]

	// The project to use for the OpenAI client.
	Project param.Opt[string]
}

// NewOpenAIModelProvider creates a new OpenAI model provider.
func NewOpenAIModelProvider(params OpenAIModelProviderParams) *OpenAIModelProvider {
	if params.OpenaiClient != nil && (params.APIKey.Valid() || params.BaseURL.Valid()) {
		panic(errors.New("OpenAIModelProvider: don't provide APIKey or BaseURL if you provide OpenaiClient"))
	}
	return &OpenAIModelProvider{
		params: params,
		client: params.OpenaiClient,
	}
}

func NewDefaultOpenAIModelProvider() *OpenAIModelProvider {
	return NewOpenAIModelProvider(OpenAIModelProviderParams{})
}

// We lazy load the client in case you never actually use OpenAIModelProvider.
func (provider *OpenAIModelProvider) getClient() OpenaiClient {
	if provider.client == nil {
		apiKey := provider.params.APIKey
		if !apiKey.Valid() {
			if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
				apiKey = param.NewOpt(envKey)
			} else {
				Logger().Warn("OpenAIModelProvider: an API key is missing")
			}
		}

		options := make([]option.RequestOption, 0)
		if provider.params.Organization.Valid() {
			options = append(options, option.WithOrganization(provider.params.Organization.Value))
		}
		if provider.params.Project.Valid() {
			options = append(options, option.WithProject(provider.params.Project.Value))
		}

		newClient := NewOpenaiClient(provider.params.BaseURL, apiKey, options...)
		provider.client = &newClient
	}
	return *provider.client
}

func (provider *OpenAIModelProvider) GetRecognitionModel(modelName string) (RecognitionModel, error) {
	return NewOpenAIRecognitionModel(cmp.Or(modelName, DefaultOpenAIRecognitionModel), provider.getClient()), nil
}

func (provider *OpenAIModelProvider) GetGenerationModel(modelName string) (GenerationModel, error) {
	return NewOpenAIGenerationModel(cmp.Or(modelName, DefaultOpenAIGenerationModel), provider.getClient()), nil
}

func (provider *OpenAIModelProvider) GetSynthesisModel(modelName string) (SynthesisModel, error) {
	return NewOpenAISynthesisModel(cmp.Or(modelName, DefaultOpenAISynthesisModel), provider.getClient()), nil
}
