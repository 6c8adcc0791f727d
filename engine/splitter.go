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
	"regexp"
	"strings"
)

var sentenceBoundaryRe = regexp.MustCompile(`[.!?]\s+`)

// SplitSentences breaks reply text into sentence-sized segments for
// synthesis. Segments shorter than minLength are merged with their successor
// so the synthesizer is not fed fragments.
func SplitSentences(text string, minLength int) []string {
	var sentences []string
	start := 0
	for _, match := range sentenceBoundaryRe.FindAllStringIndex(text, -1) {
		end := match[1]
		sentences = append(sentences, strings.TrimSpace(text[start:end]))
		start = end
	}
	if start < len(text) {
		if s := strings.TrimSpace(text[start:]); s != "" {
			sentences = append(sentences, s)
		}
	}

	var out []string
	var carry string
	for _, s := range sentences {
		if carry != "" {
			s = carry + " " + s
			carry = ""
		}
		if len(s) < minLength {
			carry = s
			continue
		}
		out = append(out, s)
	}
	if carry != "" {
		if len(out) > 0 {
			out[len(out)-1] += " " + carry
		} else {
			out = append(out, carry)
		}
	}
	return out
}
