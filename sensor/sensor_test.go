// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senstream/featurepipe/broker"
	"github.com/senstream/featurepipe/core"
)

func TestEmitPublishesValidAudio(t *testing.T) {
	b := broker.New(broker.DefaultConfig(), nil)
	s := New("sensor-1", b.WorkQueue(broker.AudioStream), 10, 1, nil)

	require.NoError(t, s.Emit())
	assert.Equal(t, uint64(1), s.Emitted())

	env, err := b.Consume(broker.AudioStream, 0)
	require.NoError(t, err)
	require.NotNil(t, env)
	require.NoError(t, env.Validate())
	assert.Equal(t, "sensor-1", env.ProducerID)

	audio, ok := env.Payload.(*core.AudioPayload)
	require.True(t, ok)
	assert.Equal(t, "sensor-1", audio.SensorID)

	raw, err := audio.Bytes()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "SYNTHETIC_AUDIO_")
}

func TestEmitProducesUniqueChunks(t *testing.T) {
	b := broker.New(broker.DefaultConfig(), nil)
	s := New("sensor-1", b.WorkQueue(broker.AudioStream), 10, 1, nil)

	require.NoError(t, s.Emit())
	require.NoError(t, s.Emit())

	first, err := b.Consume(broker.AudioStream, 0)
	require.NoError(t, err)
	second, err := b.Consume(broker.AudioStream, 0)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t,
		first.Payload.(*core.AudioPayload).Data,
		second.Payload.(*core.AudioPayload).Data)
}

func TestRunPacesAndStopsOnCancel(t *testing.T) {
	b := broker.New(broker.DefaultConfig(), nil)
	s := New("sensor-1", b.WorkQueue(broker.AudioStream), 1000, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return s.Emitted() >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sensor did not stop on cancel")
	}
}

func TestFleetSize(t *testing.T) {
	b := broker.New(broker.DefaultConfig(), nil)

	sensors := Fleet(b, Config{Count: 3, Rate: 1, Burst: 1}, nil)
	require.Len(t, sensors, 3)

	seen := make(map[string]struct{})
	for _, s := range sensors {
		seen[s.ID()] = struct{}{}
	}
	assert.Len(t, seen, 3, "sensor identities must be distinct")
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{Count: 0, Rate: 0, Burst: 1}.Validate())
	assert.Error(t, Config{Count: -1, Rate: 1, Burst: 1}.Validate())
	assert.Error(t, Config{Count: 1, Rate: 0, Burst: 1}.Validate())
	assert.Error(t, Config{Count: 1, Rate: 1, Burst: 0}.Validate())
}
