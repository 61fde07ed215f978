// Package anthropic exposes the client-facing Messages API surface. Every
// request passes through the enhancer before it is forwarded upstream.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"claude-relay/internal/enhance"
	"claude-relay/internal/keystore"
	"claude-relay/internal/logbus"
	"claude-relay/internal/metrics"
	anthropicproto "claude-relay/internal/proto/anthropic"
	provider "claude-relay/internal/providers/anthropic"
)

const maxBodyBytes = 20 << 20

// KeyPicker selects the upstream credential for a request.
type KeyPicker interface {
	Pick(ctx context.Context) (keystore.Credential, error)
}

type Handler struct {
	keys KeyPicker
	enh  *enhance.Enhancer
	m    *metrics.Metrics
	bus  *logbus.Bus
	log  *slog.Logger

	defaultBaseURL string
	apiVersion     string
}

type Config struct {
	Keys           KeyPicker
	Enhancer       *enhance.Enhancer
	Metrics        *metrics.Metrics
	Bus            *logbus.Bus
	Logger         *slog.Logger
	DefaultBaseURL string
	APIVersion     string
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		keys:           cfg.Keys,
		enh:            cfg.Enhancer,
		m:              cfg.Metrics,
		bus:            cfg.Bus,
		log:            logger,
		defaultBaseURL: cfg.DefaultBaseURL,
		apiVersion:     cfg.APIVersion,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/messages", h.createMessage)
	r.Get("/models", h.listModels)
	return r
}

func (h *Handler) createMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := strings.TrimSpace(r.Header.Get("x-request-id"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", requestID)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	var req anthropicproto.MessageCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid json")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "messages are required")
		return
	}

	family := string(enhance.DetectModelType(req.Model))
	enhanced := h.enh.Enhance(req)
	h.recordInjections(family, req, enhanced)
	beta := h.enh.BetaHeader(req.Model)

	outBody, err := json.Marshal(enhanced)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "api_error", "failed to build upstream request")
		return
	}

	cred, err := h.keys.Pick(ctx)
	if err != nil {
		if errors.Is(err, keystore.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "overloaded_error", "gateway not configured")
			return
		}
		h.log.Error("key selection failed", "err", err, "request_id", requestID)
		writeError(w, http.StatusBadGateway, "api_error", "credential selection failed")
		return
	}

	up := provider.Upstream{
		BaseURL:    cred.BaseURL,
		APIKey:     cred.APIKey,
		APIVer:     h.apiVersion,
		BetaHeader: beta,
	}
	if strings.TrimSpace(up.BaseURL) == "" {
		up.BaseURL = h.defaultBaseURL
	}
	if !enhanced.Stream {
		up.Timeout = 5 * time.Minute
	}

	start := time.Now()
	resp, err := provider.DoMessages(ctx, up, outBody)
	if err != nil {
		h.log.Error("upstream request failed", "err", err, "request_id", requestID, "family", family)
		h.finish(requestID, enhanced, family, cred.ID, 0, time.Since(start), len(outBody), 0, err.Error())
		writeError(w, http.StatusBadGateway, "api_error", "upstream request failed")
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)

	var written int64
	if enhanced.Stream && resp.StatusCode == http.StatusOK {
		written, err = provider.CopySSE(w, resp.Body)
	} else {
		written, err = io.Copy(w, resp.Body)
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	h.finish(requestID, enhanced, family, cred.ID, resp.StatusCode, time.Since(start), len(outBody), int(written), errMsg)
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cred, err := h.keys.Pick(ctx)
	if err != nil {
		if errors.Is(err, keystore.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "overloaded_error", "gateway not configured")
			return
		}
		writeError(w, http.StatusBadGateway, "api_error", "credential selection failed")
		return
	}

	up := provider.Upstream{
		BaseURL: cred.BaseURL,
		APIKey:  cred.APIKey,
		APIVer:  h.apiVersion,
		Timeout: 30 * time.Second,
	}
	if strings.TrimSpace(up.BaseURL) == "" {
		up.BaseURL = h.defaultBaseURL
	}

	resp, err := provider.DoModels(ctx, up)
	if err != nil {
		writeError(w, http.StatusBadGateway, "api_error", "upstream request failed")
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (h *Handler) recordInjections(family string, before, after anthropicproto.MessageCreateRequest) {
	if h.m == nil {
		return
	}
	for _, kind := range injectedKinds(before, after) {
		h.m.ObserveInjection(family, kind)
	}
}

// injectedKinds diffs a request against its enhanced form and names every
// field the enhancer added. Tool growth counts whether the catalog was
// injected wholesale or merged into user-supplied tools.
func injectedKinds(before, after anthropicproto.MessageCreateRequest) []string {
	var kinds []string
	if before.MaxTokens <= 0 && after.MaxTokens > 0 {
		kinds = append(kinds, "max_tokens")
	}
	if before.Temperature == nil && after.Temperature != nil {
		kinds = append(kinds, "temperature")
	}
	if (before.Metadata == nil || before.Metadata.UserID == "") && after.Metadata != nil && after.Metadata.UserID != "" {
		kinds = append(kinds, "user_id")
	}
	if before.System == nil && after.System != nil {
		kinds = append(kinds, "system")
	}
	if !enhance.HasReminder(before.Messages) && enhance.HasReminder(after.Messages) {
		kinds = append(kinds, "reminder")
	}
	if len(after.Tools) > len(before.Tools) {
		kinds = append(kinds, "tools")
	}
	return kinds
}

func (h *Handler) finish(requestID string, req anthropicproto.MessageCreateRequest, family string, keyID uint64, status int, dur time.Duration, reqBytes, respBytes int, errMsg string) {
	if h.m != nil {
		h.m.ObserveRequest(family, status, dur)
	}
	if h.bus != nil {
		h.bus.Publish(logbus.Event{
			RequestID:     requestID,
			Model:         req.Model,
			Family:        family,
			Stream:        req.Stream,
			KeyID:         keyID,
			Status:        status,
			LatencyMs:     dur.Milliseconds(),
			RequestBytes:  reqBytes,
			ResponseBytes: respBytes,
			Error:         errMsg,
		})
	}
}
