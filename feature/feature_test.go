// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package feature

import (
	"encoding/base64"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senstream/featurepipe/core"
)

func audioEnvelope(t *testing.T, content []byte) *core.Envelope {
	t.Helper()
	env, err := core.NewEnvelope("sensor-1", &core.AudioPayload{
		SensorID: "sensor-1",
		Data:     base64.StdEncoding.EncodeToString(content),
	})
	require.NoError(t, err)
	return env
}

func TestExtractorProducesFeatureA(t *testing.T) {
	content := []byte("SYNTHETIC_AUDIO_ABC")
	in := audioEnvelope(t, content)

	out, err := NewExtractor("extractor-1").Process(in)
	require.NoError(t, err)

	assert.NotEmpty(t, out.ID)
	assert.NotEqual(t, in.ID, out.ID)
	assert.Equal(t, in.ID, out.OriginID, "lineage must point at the input")
	assert.Equal(t, "extractor-1", out.ProducerID)
	assert.Equal(t, in.CreatedAt, out.CreatedAt)

	fa, ok := out.Payload.(*core.FeatureA)
	require.True(t, ok)
	assert.Equal(t, "sensor-1", fa.SensorID)
	assert.False(t, fa.ProcessedAt.IsZero())
	require.Len(t, fa.MFCC, core.CoefficientCount)

	s := 0
	for _, b := range content {
		s += int(b)
	}
	s %= 1000
	assert.Equal(t, round4(math.Sin(float64(s))*10), fa.MFCC[0])
	assert.Equal(t, round2(440.0+float64(s)), fa.SpectralCentroid)
	assert.Equal(t, round4(0.05+float64(s%50)/1000), fa.ZeroCrossingRate)
	assert.Equal(t, round4(0.1+float64(s%100)/1000), fa.RMSEnergy)
}

func TestExtractorIsDeterministic(t *testing.T) {
	content := []byte("REPEATED_CONTENT")
	e := NewExtractor("extractor-1")

	out1, err := e.Process(audioEnvelope(t, content))
	require.NoError(t, err)
	out2, err := e.Process(audioEnvelope(t, content))
	require.NoError(t, err)

	fa1 := out1.Payload.(*core.FeatureA)
	fa2 := out2.Payload.(*core.FeatureA)
	assert.Equal(t, fa1.MFCC, fa2.MFCC)
	assert.Equal(t, fa1.SpectralCentroid, fa2.SpectralCentroid)
	assert.Equal(t, fa1.ZeroCrossingRate, fa2.ZeroCrossingRate)
	assert.Equal(t, fa1.RMSEnergy, fa2.RMSEnergy)
}

func TestExtractorRejectsMalformedEnvelope(t *testing.T) {
	e := NewExtractor("extractor-1")

	_, err := e.Process(&core.Envelope{
		ID:        "m1",
		CreatedAt: time.Now().UTC(),
		Payload:   &core.AudioPayload{SensorID: "sensor-1"},
	})
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "audio_data", ve.Field)
}

func TestExtractorRejectsWrongPayloadKind(t *testing.T) {
	in := audioEnvelope(t, []byte("AUDIO"))
	mid, err := NewExtractor("extractor-1").Process(in)
	require.NoError(t, err)

	_, err = NewExtractor("extractor-1").Process(mid)
	var te *core.TypeMismatchError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, core.KindAudio, te.Want)
	assert.Equal(t, core.KindFeatureA, te.Got)
}

func TestClassifierProducesFeatureB(t *testing.T) {
	in := audioEnvelope(t, []byte("CLASSIFY_ME"))
	mid, err := NewExtractor("extractor-1").Process(in)
	require.NoError(t, err)

	out, err := NewClassifier("classifier-1").Process(mid)
	require.NoError(t, err)

	assert.Equal(t, mid.ID, out.OriginID)
	assert.Equal(t, mid.CreatedAt, out.CreatedAt)

	fb, ok := out.Payload.(*core.FeatureB)
	require.True(t, ok)
	assert.True(t, fb.Label.Valid())
	assert.LessOrEqual(t, fb.Confidence, 0.99)
	assert.GreaterOrEqual(t, fb.Confidence, 0.0)

	fa := mid.Payload.(*core.FeatureA)
	mean := 0.0
	for _, v := range fa.MFCC {
		mean += v
	}
	mean /= float64(len(fa.MFCC))
	want := core.Classifications[int(math.Abs(mean*fa.SpectralCentroid))%len(core.Classifications)]
	assert.Equal(t, want, fb.Label)
	assert.Equal(t, round4(mean), fb.MFCCMean)
	assert.Equal(t, round2(fa.SpectralCentroid*0.1), fb.SpectralSpread)
	assert.Equal(t, round4(fa.RMSEnergy*10), fb.ActivityScore)
}

func TestClassifierIsDeterministic(t *testing.T) {
	in := audioEnvelope(t, []byte("STABLE_INPUT"))
	mid, err := NewExtractor("extractor-1").Process(in)
	require.NoError(t, err)

	c := NewClassifier("classifier-1")
	out1, err := c.Process(mid)
	require.NoError(t, err)
	out2, err := c.Process(mid)
	require.NoError(t, err)

	fb1 := out1.Payload.(*core.FeatureB)
	fb2 := out2.Payload.(*core.FeatureB)
	assert.Equal(t, fb1.Label, fb2.Label)
	assert.Equal(t, fb1.Confidence, fb2.Confidence)
}

func TestClassifierRejectsWrongPayloadKind(t *testing.T) {
	in := audioEnvelope(t, []byte("AUDIO"))

	_, err := NewClassifier("classifier-1").Process(in)
	var te *core.TypeMismatchError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, core.KindFeatureA, te.Want)
	assert.Equal(t, core.KindAudio, te.Got)
}
