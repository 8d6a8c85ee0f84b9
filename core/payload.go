// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"encoding/base64"
	"time"
)

// CoefficientCount is the fixed length of the MFCC coefficient vector.
const CoefficientCount = 13

// Classification is the fixed label set produced by the classifier.
type Classification string

const (
	ClassSpeech  Classification = "speech"
	ClassMusic   Classification = "music"
	ClassNoise   Classification = "noise"
	ClassSilence Classification = "silence"
	ClassMixed   Classification = "mixed"
)

// Classifications lists all valid labels in classifier index order.
var Classifications = []Classification{ClassSpeech, ClassMusic, ClassNoise, ClassSilence, ClassMixed}

// Valid reports whether the label belongs to the fixed set.
func (c Classification) Valid() bool {
	for _, known := range Classifications {
		if c == known {
			return true
		}
	}
	return false
}

// AudioPayload is the raw sensor capture: base64-encoded audio content
// attributed to one sensor.
type AudioPayload struct {
	SensorID string `json:"sensor_id"`
	Data     string `json:"audio_data"`
}

func (p *AudioPayload) Kind() PayloadKind { return KindAudio }

func (p *AudioPayload) Validate() error {
	if p.SensorID == "" {
		return &ValidationError{Field: "sensor_id", Reason: "must not be empty"}
	}
	if p.Data == "" {
		return &ValidationError{Field: "audio_data", Reason: "must not be empty"}
	}
	if _, err := p.Bytes(); err != nil {
		return &ValidationError{Field: "audio_data", Reason: "must be valid base64"}
	}
	return nil
}

// Bytes decodes the audio content, tolerating missing padding.
func (p *AudioPayload) Bytes() ([]byte, error) {
	if raw, err := base64.StdEncoding.DecodeString(p.Data); err == nil {
		return raw, nil
	}
	return base64.RawStdEncoding.DecodeString(p.Data)
}

func (p *AudioPayload) clone() Payload {
	cp := *p
	return &cp
}

// FeatureA is the extraction stage output: a 13-element MFCC coefficient
// vector plus scalar spectral descriptors.
type FeatureA struct {
	SensorID         string    `json:"sensor_id"`
	ProcessedAt      time.Time `json:"processed_at"`
	MFCC             []float64 `json:"mfcc"`
	SpectralCentroid float64   `json:"spectral_centroid"`
	ZeroCrossingRate float64   `json:"zero_crossing_rate"`
	RMSEnergy        float64   `json:"rms_energy"`
}

func (p *FeatureA) Kind() PayloadKind { return KindFeatureA }

func (p *FeatureA) Validate() error {
	if p.SensorID == "" {
		return &ValidationError{Field: "sensor_id", Reason: "must not be empty"}
	}
	if p.ProcessedAt.IsZero() {
		return &ValidationError{Field: "processed_at", Reason: "must be set"}
	}
	if len(p.MFCC) != CoefficientCount {
		return &ValidationError{Field: "mfcc", Reason: "must hold exactly 13 coefficients"}
	}
	return nil
}

func (p *FeatureA) clone() Payload {
	cp := *p
	cp.MFCC = append([]float64(nil), p.MFCC...)
	return &cp
}

// FeatureB is the classification stage output: a label from the fixed set
// with a confidence value and derived metrics.
type FeatureB struct {
	SensorID       string         `json:"sensor_id"`
	ProcessedAt    time.Time      `json:"processed_at"`
	Label          Classification `json:"classification"`
	Confidence     float64        `json:"confidence"`
	MFCCMean       float64        `json:"mfcc_mean"`
	SpectralSpread float64        `json:"spectral_spread"`
	ActivityScore  float64        `json:"activity_score"`
}

func (p *FeatureB) Kind() PayloadKind { return KindFeatureB }

func (p *FeatureB) Validate() error {
	if p.SensorID == "" {
		return &ValidationError{Field: "sensor_id", Reason: "must not be empty"}
	}
	if p.ProcessedAt.IsZero() {
		return &ValidationError{Field: "processed_at", Reason: "must be set"}
	}
	if !p.Label.Valid() {
		return &ValidationError{Field: "classification", Reason: "must be one of the known labels"}
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: "must be within [0, 1]"}
	}
	return nil
}

func (p *FeatureB) clone() Payload {
	cp := *p
	return &cp
}
