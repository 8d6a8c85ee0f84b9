// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/senstream/featurepipe/metrics"
	"github.com/senstream/featurepipe/ratelimit"
	"github.com/senstream/featurepipe/storage"
	"github.com/senstream/featurepipe/view"
)

type handler struct {
	view    *view.RealtimeView
	store   storage.Store
	limiter *ratelimit.ClientLimiter
	tokens  map[string]bool
	logger  *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type featuresResponse struct {
	Count   int                      `json:"count"`
	Records []*storage.FeatureRecord `json:"records"`
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

// guard wraps a data endpoint with bearer auth and rate limiting, and
// records the request metric with the final status code.
func (h *handler) guard(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := h.admit(w, r)
		if code != 0 {
			metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
	}
}

// admit checks credentials and the rate limit. It writes the refusal
// and returns its status code, or 0 when the request may proceed.
func (h *handler) admit(w http.ResponseWriter, r *http.Request) int {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		writeError(w, http.StatusUnauthorized, "missing authorization header")
		return http.StatusUnauthorized
	}

	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		writeError(w, http.StatusUnauthorized, "malformed authorization header")
		return http.StatusUnauthorized
	}

	if !h.tokens[token] {
		writeError(w, http.StatusForbidden, "unknown token")
		return http.StatusForbidden
	}

	if !h.limiter.Allow(token) {
		metrics.RateLimitedTotal.Inc()
		h.logger.Debug("request rate limited")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return http.StatusTooManyRequests
	}

	return 0
}

// realtime serves the memoized recent window.
func (h *handler) realtime(w http.ResponseWriter, r *http.Request) {
	recs, err := h.view.Recent(r.Context())
	if err != nil {
		h.logger.Error("realtime view failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, featuresResponse{Count: len(recs), Records: recs})
}

// historical serves arbitrary time-range queries against the store.
// start and end are required RFC 3339 timestamps; sensor_id and
// feature_type narrow the result.
func (h *handler) historical(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be a valid RFC 3339 timestamp")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be a valid RFC 3339 timestamp")
		return
	}

	f := storage.Filter{
		SensorID:    q.Get("sensor_id"),
		FeatureType: storage.FeatureType(q.Get("feature_type")),
		Start:       start,
		End:         end,
	}

	recs, err := h.store.Query(r.Context(), f)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidRange) {
			writeError(w, http.StatusBadRequest, "start must not be after end")
			return
		}
		h.logger.Error("historical query failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, featuresResponse{Count: len(recs), Records: recs})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
