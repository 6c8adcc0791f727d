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
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	DefaultAudioSampleRate  = 24000
	DefaultAudioSampleWidth = 2
	DefaultAudioChannels    = 1
)

// AudioData is a mono PCM16 frame.
type AudioData []int16

func (d AudioData) Len() int { return len(d) }

func (d AudioData) Bytes() []byte {
	b := make([]byte, len(d)*2)
	for i, v := range d {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

func (d AudioData) Int() []int {
	result := make([]int, len(d))
	for i, v := range d {
		result[i] = int(v)
	}
	return result
}

// ToBase64 returns the frame as a base64 encoded string of its bytes.
func (d AudioData) ToBase64() string {
	return base64.StdEncoding.EncodeToString(d.Bytes())
}

// RMS returns the root-mean-square energy of the frame, normalized to [0, 1].
func (d AudioData) RMS() float64 {
	if len(d) == 0 {
		return 0
	}
	var sum float64
	for _, v := range d {
		f := float64(v) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(d)))
}

// AudioDataFromBytes interprets b as little-endian PCM16.
func AudioDataFromBytes(b []byte) (AudioData, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("audio buffer length %d is not even: cannot convert to []int16", len(b))
	}
	d := make(AudioData, len(b)/2)
	for i := range d {
		d[i] = int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
	}
	return d, nil
}

// AudioDataFromBase64 decodes a base64 payload of little-endian PCM16.
func AudioDataFromBase64(s string) (AudioData, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64 audio payload: %w", err)
	}
	return AudioDataFromBytes(b)
}
