// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package feature

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/senstream/featurepipe/core"
)

// Classifier consumes Feature A envelopes and produces Feature B
// envelopes carrying a label from the fixed classification set.
type Classifier struct {
	producerID string
	now        func() time.Time
}

// NewClassifier creates a classification transform.
func NewClassifier(producerID string) *Classifier {
	return &Classifier{
		producerID: producerID,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Name implements stage.Transform.
func (c *Classifier) Name() string { return "classify" }

// Process derives the classification from the Feature A vector. A
// Feature B payload arriving here is a type mismatch, not a validation
// failure: it means the envelope landed on the wrong topic.
func (c *Classifier) Process(in *core.Envelope) (*core.Envelope, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	fa, ok := in.Payload.(*core.FeatureA)
	if !ok {
		return nil, &core.TypeMismatchError{Want: core.KindFeatureA, Got: in.Payload.Kind()}
	}

	mean := 0.0
	for _, v := range fa.MFCC {
		mean += v
	}
	mean /= float64(len(fa.MFCC))

	idx := int(math.Abs(mean*fa.SpectralCentroid)) % len(core.Classifications)

	out := &core.FeatureB{
		SensorID:       fa.SensorID,
		ProcessedAt:    c.now(),
		Label:          core.Classifications[idx],
		Confidence:     round4(math.Min(0.99, math.Abs(math.Tanh(mean))+fa.RMSEnergy)),
		MFCCMean:       round4(mean),
		SpectralSpread: round2(fa.SpectralCentroid * 0.1),
		ActivityScore:  round4(fa.RMSEnergy * 10),
	}

	return &core.Envelope{
		ID:         uuid.NewString(),
		OriginID:   in.ID,
		ProducerID: c.producerID,
		CreatedAt:  in.CreatedAt,
		Payload:    out,
	}, nil
}
