// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"time"

	"github.com/google/uuid"
)

// PayloadKind identifies the variant carried by an envelope.
type PayloadKind int

const (
	KindAudio PayloadKind = iota
	KindFeatureA
	KindFeatureB
)

func (k PayloadKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindFeatureA:
		return "feature_a"
	case KindFeatureB:
		return "feature_b"
	default:
		return "unknown"
	}
}

// Payload is a tagged message variant, validated at construction rather
// than discovered at access time.
type Payload interface {
	Kind() PayloadKind
	Validate() error
	clone() Payload
}

// Envelope is the unit of delivery through the broker. ID is globally
// unique per logical event: a redelivered envelope shares the same ID.
// OriginID links a derived envelope back to the input that produced it.
// Envelopes are never mutated after construction.
type Envelope struct {
	ID         string    `json:"id"`
	OriginID   string    `json:"origin_id,omitempty"`
	ProducerID string    `json:"producer_id"`
	CreatedAt  time.Time `json:"created_at"`
	Payload    Payload   `json:"payload"`
}

// NewEnvelope builds a validated envelope with a fresh identity.
func NewEnvelope(producerID string, payload Payload) (*Envelope, error) {
	env := &Envelope{
		ID:         uuid.NewString(),
		ProducerID: producerID,
		CreatedAt:  time.Now().UTC(),
		Payload:    payload,
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Validate checks the envelope fields and delegates to the payload.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if e.CreatedAt.IsZero() {
		return &ValidationError{Field: "created_at", Reason: "must be set"}
	}
	if e.Payload == nil {
		return &ValidationError{Field: "payload", Reason: "must not be nil"}
	}
	return e.Payload.Validate()
}

// Clone returns a deep copy. Fanout delivery hands each subscriber its own
// copy so that no subscriber can observe another's view of the message.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	cp := &Envelope{
		ID:         e.ID,
		OriginID:   e.OriginID,
		ProducerID: e.ProducerID,
		CreatedAt:  e.CreatedAt,
	}
	if e.Payload != nil {
		cp.Payload = e.Payload.clone()
	}
	return cp
}
