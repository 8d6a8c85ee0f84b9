// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package feature holds the two pipeline transforms: MFCC-style feature
// extraction from raw audio, and classification of extracted features.
// Both are deterministic so identical input yields identical output.
package feature

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/senstream/featurepipe/core"
)

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}

// seed derives the deterministic extraction seed from the audio content.
func seed(raw []byte) int {
	sum := 0
	for _, b := range raw {
		sum += int(b)
	}
	return sum % 1000
}

// Extractor consumes audio envelopes and produces Feature A envelopes.
type Extractor struct {
	producerID string
	now        func() time.Time
}

// NewExtractor creates an extraction transform.
func NewExtractor(producerID string) *Extractor {
	return &Extractor{
		producerID: producerID,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Name implements stage.Transform.
func (e *Extractor) Name() string { return "extract" }

// Process validates the audio envelope and extracts the feature vector.
// The output carries the input's identity as its origin and the input's
// created-at alongside a fresh processed-at.
func (e *Extractor) Process(in *core.Envelope) (*core.Envelope, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	audio, ok := in.Payload.(*core.AudioPayload)
	if !ok {
		return nil, &core.TypeMismatchError{Want: core.KindAudio, Got: in.Payload.Kind()}
	}

	raw, err := audio.Bytes()
	if err != nil {
		return nil, &core.ValidationError{Field: "audio_data", Reason: "must be valid base64"}
	}

	s := seed(raw)
	mfcc := make([]float64, core.CoefficientCount)
	for i := range mfcc {
		mfcc[i] = round4(math.Sin(float64(s+i)) * 10)
	}

	out := &core.FeatureA{
		SensorID:         audio.SensorID,
		ProcessedAt:      e.now(),
		MFCC:             mfcc,
		SpectralCentroid: round2(440.0 + float64(s)),
		ZeroCrossingRate: round4(0.05 + float64(s%50)/1000),
		RMSEnergy:        round4(0.1 + float64(s%100)/1000),
	}

	return &core.Envelope{
		ID:         uuid.NewString(),
		OriginID:   in.ID,
		ProducerID: e.producerID,
		CreatedAt:  in.CreatedAt,
		Payload:    out,
	}, nil
}
