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

// EnergyConfig parameterizes speech-energy detection on the inbound path.
type EnergyConfig struct {
	// SpeechThreshold is the normalized RMS energy above which a frame is
	// classified as speech. Range [0, 1].
	SpeechThreshold float64

	// SpeechFrames is how many consecutive frames must exceed the threshold
	// before speech is reported. Filters single-frame noise spikes.
	SpeechFrames int
}

// EnergyDetector flags caller speech in inbound audio frames. It backs
// barge-in detection while the agent is responding.
//
// ProcessFrame is synchronous and must not block; it runs on the inbound
// audio path, the most latency-sensitive path in the engine. A detector
// belongs to one session and is not safe for concurrent use.
type EnergyDetector struct {
	cfg         EnergyConfig
	consecutive int
}

func NewEnergyDetector(cfg EnergyConfig) *EnergyDetector {
	if cfg.SpeechFrames < 1 {
		cfg.SpeechFrames = 1
	}
	return &EnergyDetector{cfg: cfg}
}

// ProcessFrame analyses one frame and reports whether speech is detected.
func (d *EnergyDetector) ProcessFrame(data AudioData) bool {
	if data.RMS() >= d.cfg.SpeechThreshold {
		d.consecutive++
	} else {
		d.consecutive = 0
	}
	return d.consecutive >= d.cfg.SpeechFrames
}

// Reset clears accumulated state. Called when a new utterance begins so
// stale counts from the previous segment cannot trigger detection.
func (d *EnergyDetector) Reset() {
	d.consecutive = 0
}
