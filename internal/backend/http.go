package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ent0n29/clawdesk/internal/audio"
	"github.com/ent0n29/clawdesk/internal/reliability"
	"github.com/ent0n29/clawdesk/internal/stream"
)

const (
	defaultTimeout = 30 * time.Second
	errorBodyLimit = 4 << 10

	chatOp       = "chat"
	chatStreamOp = "chat stream"
	sttOp        = "stt"
)

// HTTPClient talks to the dashboard REST backend.
type HTTPClient struct {
	baseURL string
	// client bounds request/response calls; streams rely on ctx instead so a
	// long answer is not cut off mid-way.
	client       *http.Client
	streamClient *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return operation + " " + r.URL.Path
		}),
	)
	return &HTTPClient{
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:       &http.Client{Timeout: timeout, Transport: transport},
		streamClient: &http.Client{Transport: transport},
	}
}

func (c *HTTPClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	res, err := c.postJSON(ctx, c.client, "/chat", req, "application/json")
	if err != nil {
		return "", reliability.Transport(chatOp, 0, "", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", reliability.Transport(chatOp, res.StatusCode, "", fmt.Errorf("read response: %w", err))
	}
	if !isSuccess(res.StatusCode) {
		return "", reliability.Transport(chatOp, res.StatusCode, errorMessage(body), nil)
	}

	var out ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", reliability.Transport(chatOp, res.StatusCode, "", fmt.Errorf("decode response: %w", err))
	}
	if !out.OK {
		return "", reliability.Application(chatOp, firstNonEmpty(out.Error, out.Detail))
	}
	return out.Reply, nil
}

func (c *HTTPClient) ChatStream(ctx context.Context, req ChatRequest) (*stream.Stream, error) {
	res, err := c.postJSON(ctx, c.streamClient, "/chat/stream", req, "text/event-stream")
	if err != nil {
		return nil, reliability.Transport(chatStreamOp, 0, "", err)
	}
	if !isSuccess(res.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(res.Body, errorBodyLimit))
		_ = res.Body.Close()
		return nil, reliability.Transport(chatStreamOp, res.StatusCode, errorMessage(body), nil)
	}
	return stream.FromResponse(res)
}

func (c *HTTPClient) Transcribe(ctx context.Context, blob audio.Blob) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	filename := firstNonEmpty(blob.Filename, audio.WAVFilename)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filename))
	header.Set("Content-Type", firstNonEmpty(blob.ContentType, audio.WAVContentType))
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", reliability.Transport(sttOp, 0, "", fmt.Errorf("create form part: %w", err))
	}
	if _, err := part.Write(blob.Data); err != nil {
		return "", reliability.Transport(sttOp, 0, "", fmt.Errorf("write form part: %w", err))
	}
	if err := mw.Close(); err != nil {
		return "", reliability.Transport(sttOp, 0, "", fmt.Errorf("close form: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stt", &buf)
	if err != nil {
		return "", reliability.Transport(sttOp, 0, "", fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return "", reliability.Transport(sttOp, 0, "", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", reliability.Transport(sttOp, res.StatusCode, "", fmt.Errorf("read response: %w", err))
	}
	if !isSuccess(res.StatusCode) {
		return "", reliability.Transport(sttOp, res.StatusCode, errorMessage(body), nil)
	}

	var out TranscriptionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", reliability.Transport(sttOp, res.StatusCode, "", fmt.Errorf("decode response: %w", err))
	}
	if !out.OK {
		return "", reliability.Application(sttOp, firstNonEmpty(out.Error, out.Detail))
	}
	return strings.TrimSpace(out.Text), nil
}

func (c *HTTPClient) postJSON(ctx context.Context, client *http.Client, path string, payload any, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)

	res, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return res, nil
}

// errorMessage pulls the most specific explanation out of an error body:
// the "error" field, then "detail", then the raw text.
func errorMessage(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		for _, k := range []string{"error", "detail", "message"} {
			if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > errorBodyLimit {
		text = text[:errorBodyLimit]
	}
	return text
}

func isSuccess(code int) bool { return code >= 200 && code < 300 }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
