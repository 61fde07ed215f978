// Package anthropic is the outbound HTTP client for the upstream Messages
// API. The facade resolves the credential and capability header; this
// package only builds and executes the requests.
package anthropic

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

type Upstream struct {
	BaseURL    string
	APIKey     string
	APIVer     string
	BetaHeader string
	Timeout    time.Duration
}

func (up Upstream) client() *http.Client {
	return &http.Client{Timeout: up.Timeout}
}

func (up Upstream) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(up.APIVer) != "" {
		req.Header.Set("anthropic-version", up.APIVer)
	}
	if strings.TrimSpace(up.BetaHeader) != "" {
		req.Header.Set("anthropic-beta", up.BetaHeader)
	}
	if strings.TrimSpace(up.APIKey) != "" {
		req.Header.Set("x-api-key", up.APIKey)
	}
}

func DoMessages(ctx context.Context, up Upstream, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, buildMessagesURL(up.BaseURL), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	up.setHeaders(req)
	return up.client().Do(req)
}

func DoModels(ctx context.Context, up Upstream) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, buildModelsURL(up.BaseURL), nil)
	if err != nil {
		return nil, err
	}
	up.setHeaders(req)
	return up.client().Do(req)
}

// CopySSE streams an upstream SSE body to the client, flushing after every
// read so events are not held back by response buffering. Returns the
// number of bytes copied.
func CopySSE(w http.ResponseWriter, r io.Reader) (int64, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return io.Copy(w, r)
	}

	var total int64
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			total += int64(wn)
			if werr != nil {
				return total, werr
			}
			flusher.Flush()
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}

func buildMessagesURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/messages"
	}
	return base + "/v1/messages"
}

func buildModelsURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/models"
	}
	return base + "/v1/models"
}
