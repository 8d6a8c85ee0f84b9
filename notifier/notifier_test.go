// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/senstream/featurepipe/storage"
)

// mockSender implements Sender for testing.
type mockSender struct {
	mu          sync.Mutex
	sendCount   int32
	sendFunc    func(ctx context.Context, url string, headers map[string]string, payload []byte, timeout time.Duration) error
	lastURL     string
	lastPayload []byte
}

func newMockSender() *mockSender {
	return &mockSender{
		sendFunc: func(ctx context.Context, url string, headers map[string]string, payload []byte, timeout time.Duration) error {
			return nil
		},
	}
}

func (m *mockSender) Send(ctx context.Context, url string, headers map[string]string, payload []byte, timeout time.Duration) error {
	atomic.AddInt32(&m.sendCount, 1)
	m.mu.Lock()
	m.lastURL = url
	m.lastPayload = payload
	m.mu.Unlock()
	return m.sendFunc(ctx, url, headers, payload, timeout)
}

func (m *mockSender) getSendCount() int {
	return int(atomic.LoadInt32(&m.sendCount))
}

func (m *mockSender) last() (string, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastURL, m.lastPayload
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(endpoints ...EndpointConfig) Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Workers = 2
	cfg.Defaults.Retry.InitialInterval = 10 * time.Millisecond
	cfg.Defaults.Retry.MaxInterval = 50 * time.Millisecond
	cfg.Endpoints = endpoints
	return cfg
}

func record(id string, ft storage.FeatureType) *storage.FeatureRecord {
	return &storage.FeatureRecord{
		MessageID:       id,
		SourceMessageID: "src-" + id,
		SensorID:        "sensor-1",
		FeatureType:     ft,
		CreatedAt:       time.Now().UTC(),
		ProcessedAt:     time.Now().UTC(),
		Attributes:      map[string]any{"rms_energy": 0.12},
	}
}

func TestNew_NilSender(t *testing.T) {
	_, err := New(testConfig(), "svc-1", nil, nil)
	if err == nil {
		t.Error("expected error for nil sender, got nil")
	}
}

func TestNotifyDeliversRecord(t *testing.T) {
	sender := newMockSender()
	cfg := testConfig(EndpointConfig{Name: "sink", URL: "http://example.com/hook"})

	n, err := New(cfg, "svc-1", sender, quietLogger())
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	defer n.Close()

	rec := record("msg-1", storage.FeatureTypeA)
	n.Notify(rec)

	deadline := time.Now().Add(time.Second)
	for sender.getSendCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := sender.getSendCount(); got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}

	url, payload := sender.last()
	if url != "http://example.com/hook" {
		t.Errorf("unexpected url %q", url)
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if ev.Service != "svc-1" {
		t.Errorf("expected service svc-1, got %q", ev.Service)
	}
	if ev.Record == nil || ev.Record.MessageID != "msg-1" {
		t.Errorf("unexpected record in event: %+v", ev.Record)
	}
}

func TestNotifyFiltersByFeatureType(t *testing.T) {
	sender := newMockSender()
	cfg := testConfig(EndpointConfig{
		Name:         "b-only",
		URL:          "http://example.com/hook",
		FeatureTypes: []string{"B"},
	})

	n, err := New(cfg, "svc-1", sender, quietLogger())
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	defer n.Close()

	n.Notify(record("msg-a", storage.FeatureTypeA))
	n.Notify(record("msg-b", storage.FeatureTypeB))

	deadline := time.Now().Add(time.Second)
	for sender.getSendCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Give the filtered record a chance to show up if the filter leaks.
	time.Sleep(50 * time.Millisecond)

	if got := sender.getSendCount(); got != 1 {
		t.Fatalf("expected only the type-B record delivered, got %d sends", got)
	}
	_, payload := sender.last()
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if ev.Record.MessageID != "msg-b" {
		t.Errorf("expected msg-b, got %q", ev.Record.MessageID)
	}
}

func TestNotifyRetriesOnFailure(t *testing.T) {
	sender := newMockSender()
	var failures int32
	sender.sendFunc = func(ctx context.Context, url string, headers map[string]string, payload []byte, timeout time.Duration) error {
		if atomic.AddInt32(&failures, 1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	cfg := testConfig(EndpointConfig{Name: "flaky", URL: "http://example.com/hook"})

	n, err := New(cfg, "svc-1", sender, quietLogger())
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	defer n.Close()

	n.Notify(record("msg-1", storage.FeatureTypeA))

	deadline := time.Now().Add(2 * time.Second)
	for sender.getSendCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := sender.getSendCount(); got != 3 {
		t.Fatalf("expected 3 attempts (2 failures + 1 success), got %d", got)
	}
}

func TestRetryDelayBacksOff(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
	}

	if d := retryDelay(1, cfg); d != 200*time.Millisecond {
		t.Errorf("attempt 1: expected 200ms, got %s", d)
	}
	if d := retryDelay(2, cfg); d != 400*time.Millisecond {
		t.Errorf("attempt 2: expected 400ms, got %s", d)
	}
	if d := retryDelay(10, cfg); d != time.Second {
		t.Errorf("attempt 10: expected cap at 1s, got %s", d)
	}
}

func TestConfigValidate(t *testing.T) {
	disabled := DefaultConfig()
	if err := disabled.Validate(); err != nil {
		t.Errorf("disabled config should validate: %v", err)
	}

	bad := testConfig(EndpointConfig{Name: "", URL: "http://example.com"})
	if err := bad.Validate(); err == nil {
		t.Error("expected error for endpoint without name")
	}

	badPolicy := testConfig()
	badPolicy.DropPolicy = "random"
	if err := badPolicy.Validate(); err == nil {
		t.Error("expected error for unknown drop policy")
	}
}
