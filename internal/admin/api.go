// Package admin is the token-guarded management surface: upstream key CRUD,
// key probing, and the recent request log.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"claude-relay/internal/keystore"
	"claude-relay/internal/logbus"
	anthropicproto "claude-relay/internal/proto/anthropic"
	provider "claude-relay/internal/providers/anthropic"
)

type Handler struct {
	store *keystore.Store
	bus   *logbus.Bus
	log   *slog.Logger

	token          string
	apiVersion     string
	defaultBaseURL string
}

func NewHandler(store *keystore.Store, bus *logbus.Bus, logger *slog.Logger, token, apiVersion, defaultBaseURL string) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		store:          store,
		bus:            bus,
		log:            logger,
		token:          token,
		apiVersion:     apiVersion,
		defaultBaseURL: defaultBaseURL,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.auth)
	r.Get("/keys", h.listKeys)
	r.Post("/keys", h.createKey)
	r.Patch("/keys/{id}", h.updateKey)
	r.Delete("/keys/{id}", h.deleteKey)
	r.Post("/keys/{id}/test", h.testKey)
	r.Get("/logs", h.recentLogs)
	r.Get("/logs/stream", h.streamLogs)
	return r
}

func (h *Handler) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimSpace(r.Header.Get("Authorization"))
		got = strings.TrimSpace(strings.TrimPrefix(got, "Bearer "))
		if got == "" || got != h.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type keyView struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	BaseURL   string    `json:"base_url,omitempty"`
	KeyHint   string    `json:"key_hint"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

func viewOf(c keystore.Credential) keyView {
	return keyView{
		ID:        c.ID,
		Name:      c.Name,
		BaseURL:   c.BaseURL,
		KeyHint:   keyHint(c.APIKey),
		Enabled:   c.Enabled,
		CreatedAt: c.CreatedAt,
	}
}

// keyHint exposes just enough of a secret to tell keys apart.
func keyHint(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "..." + key[len(key)-4:]
}

func (h *Handler) listKeys(w http.ResponseWriter, r *http.Request) {
	creds, err := h.store.List(r.Context())
	if err != nil {
		h.log.Error("list keys failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list failed"})
		return
	}
	views := make([]keyView, 0, len(creds))
	for _, c := range creds {
		views = append(views, viewOf(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": views})
}

func (h *Handler) createKey(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name    string `json:"name"`
		BaseURL string `json:"base_url"`
		APIKey  string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	id, err := h.store.Create(r.Context(), in.Name, in.BaseURL, in.APIKey)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (h *Handler) updateKey(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	var in struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "enabled is required"})
		return
	}
	if err := h.store.SetEnabled(r.Context(), id, *in.Enabled); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *in.Enabled})
}

func (h *Handler) deleteKey(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// testKey probes the upstream models endpoint with the stored credential
// and reports which model ids it can reach.
func (h *Handler) testKey(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	cred, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
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

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := provider.DoModels(ctx, up)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	result := map[string]any{
		"ok":         resp.StatusCode == http.StatusOK,
		"status":     resp.StatusCode,
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if resp.StatusCode == http.StatusOK {
		result["models"] = parseModelIDsFromDataList(raw)
	}
	writeJSON(w, http.StatusOK, result)
}

// parseModelIDsFromDataList tolerantly pulls ids out of a
// {"data":[{"id":...}]} payload, skipping entries without one.
func parseModelIDsFromDataList(raw []byte) []string {
	var payload anthropicproto.ModelList
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	ids := make([]string, 0, len(payload.Data))
	for _, item := range payload.Data {
		if item.ID == "" {
			continue
		}
		ids = append(ids, item.ID)
	}
	return ids
}

func (h *Handler) recentLogs(w http.ResponseWriter, r *http.Request) {
	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": h.bus.Recent(n)})
}

func (h *Handler) streamLogs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, keystore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
