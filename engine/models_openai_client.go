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
	"slices"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

// OpenaiClient wraps the OpenAI SDK client together with the credentials the
// realtime websocket transport needs directly.
type OpenaiClient struct {
	openai.Client
	APIKey  param.Opt[string]
	BaseURL param.Opt[string]
}

func NewOpenaiClient(baseURL, apiKey param.Opt[string], opts ...option.RequestOption) OpenaiClient {
	opts = slices.Clone(opts)
	if baseURL.Valid() {
		opts = append(opts, option.WithBaseURL(baseURL.Value))
	}
	if apiKey.Valid() {
		opts = append(opts, option.WithAPIKey(apiKey.Value))
	}
	return OpenaiClient{
		Client:  openai.NewClient(opts...),
		APIKey:  apiKey,
		BaseURL: baseURL,
	}
}
