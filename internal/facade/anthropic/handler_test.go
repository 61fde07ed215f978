package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"claude-relay/internal/enhance"
	"claude-relay/internal/keystore"
)

type fakeKeys struct {
	cred keystore.Credential
	err  error
}

func (f fakeKeys) Pick(context.Context) (keystore.Credential, error) {
	return f.cred, f.err
}

type capturedUpstream struct {
	header http.Header
	body   []byte
}

func newTestHandler(t *testing.T, captured *capturedUpstream) (*Handler, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.header = r.Header.Clone()
		b, _ := io.ReadAll(r.Body)
		captured.body = b
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"type":"message","content":[]}`))
	}))
	h := NewHandler(Config{
		Keys:           fakeKeys{cred: keystore.Credential{ID: 1, APIKey: "sk-test", BaseURL: srv.URL}},
		Enhancer:       enhance.New(nil),
		DefaultBaseURL: srv.URL,
		APIVersion:     "2023-06-01",
	})
	return h, srv.Close
}

func postMessages(h *Handler, payload string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader([]byte(payload)))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestCreateMessageEnhancesSonnetRequest(t *testing.T) {
	var captured capturedUpstream
	h, closeFn := newTestHandler(t, &captured)
	defer closeFn()

	rec := postMessages(h, `{"model":"claude-3.5-sonnet-20241022","messages":[{"role":"user","content":"Hello"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var forwarded map[string]any
	if err := json.Unmarshal(captured.body, &forwarded); err != nil {
		t.Fatalf("unmarshal forwarded body: %v", err)
	}
	if _, ok := forwarded["tools"].([]any); !ok {
		t.Fatalf("forwarded request missing tool catalog: %s", captured.body)
	}
	if forwarded["system"] == nil {
		t.Fatalf("forwarded request missing system prompt")
	}
	if !strings.Contains(string(captured.body), enhance.ReminderMarker) {
		t.Fatalf("forwarded request missing reminder block")
	}
	if forwarded["max_tokens"].(float64) <= 0 {
		t.Fatalf("max_tokens not defaulted")
	}
	if captured.header.Get("anthropic-beta") == "" {
		t.Fatalf("anthropic-beta header not set")
	}
	if captured.header.Get("x-api-key") != "sk-test" {
		t.Fatalf("x-api-key = %q", captured.header.Get("x-api-key"))
	}
}

func TestCreateMessageHaikuPassthrough(t *testing.T) {
	var captured capturedUpstream
	h, closeFn := newTestHandler(t, &captured)
	defer closeFn()

	rec := postMessages(h, `{"model":"claude-3-5-haiku-20241022","messages":[{"role":"user","content":"Hello"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var forwarded map[string]any
	if err := json.Unmarshal(captured.body, &forwarded); err != nil {
		t.Fatalf("unmarshal forwarded body: %v", err)
	}
	if _, ok := forwarded["tools"]; ok {
		t.Fatalf("haiku request gained tools: %s", captured.body)
	}
	if strings.Contains(string(captured.body), enhance.ReminderMarker) {
		t.Fatalf("haiku request gained a reminder block")
	}
	haikuBeta := captured.header.Get("anthropic-beta")
	if haikuBeta == "" {
		t.Fatalf("anthropic-beta header not set for haiku")
	}

	postMessages(h, `{"model":"claude-opus-4.5-20250901","messages":[{"role":"user","content":"Hello"}]}`)
	if captured.header.Get("anthropic-beta") == haikuBeta {
		t.Fatalf("haiku and opus share a beta header: %q", haikuBeta)
	}
}

func TestCreateMessageValidation(t *testing.T) {
	var captured capturedUpstream
	h, closeFn := newTestHandler(t, &captured)
	defer closeFn()

	cases := []struct {
		name    string
		payload string
	}{
		{"invalid json", `{`},
		{"missing model", `{"messages":[{"role":"user","content":"hi"}]}`},
		{"empty messages", `{"model":"claude-3.5-sonnet-20241022","messages":[]}`},
	}
	for _, c := range cases {
		rec := postMessages(h, c.payload)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", c.name, rec.Code)
		}
		var body struct {
			Type string `json:"type"`
			Err  struct {
				Type string `json:"type"`
			} `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Errorf("%s: error body not JSON: %v", c.name, err)
			continue
		}
		if body.Type != "error" || body.Err.Type != "invalid_request_error" {
			t.Errorf("%s: unexpected error body: %s", c.name, rec.Body.String())
		}
	}
}

func TestCreateMessageNotConfigured(t *testing.T) {
	h := NewHandler(Config{
		Keys:     fakeKeys{err: keystore.ErrNotConfigured},
		Enhancer: enhance.New(nil),
	})
	rec := postMessages(h, `{"model":"claude-3.5-sonnet-20241022","messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestCreateMessageSetsRequestID(t *testing.T) {
	var captured capturedUpstream
	h, closeFn := newTestHandler(t, &captured)
	defer closeFn()

	rec := postMessages(h, `{"model":"claude-3-5-haiku-20241022","messages":[{"role":"user","content":"hi"}]}`)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("X-Request-Id not set")
	}
}
