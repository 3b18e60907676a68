package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStream_SendsRequest(t *testing.T) {
	var got Request
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected /chat/completions, got %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "sk-test")
	if c.BaseURL() != srv.URL {
		t.Errorf("expected trailing slash trimmed, got %q", c.BaseURL())
	}
	body, err := c.Stream(context.Background(), Request{
		Model:       "gpt-4o-mini",
		Messages:    Messages("", "The weather in Paris is"),
		MaxTokens:   20,
		Temperature: 0.7,
		TopP:        1,
		Logprobs:    true,
		TopLogprobs: 5,
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	body.Close()

	if auth != "Bearer sk-test" {
		t.Errorf("expected bearer auth, got %q", auth)
	}
	if got.MaxTokens != 20 || !got.Logprobs || got.TopLogprobs != 5 || !got.Stream {
		t.Errorf("unexpected request body: %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != RoleUser {
		t.Errorf("expected a single user message, got %+v", got.Messages)
	}
}

func TestStream_NoKeyNoHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Authorization"); h != "" {
			t.Errorf("expected no Authorization header, got %q", h)
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	body, err := New(srv.URL, "").Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	body.Close()
}

func TestStream_APIErrorFromBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "bad").Stream(context.Background(), Request{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != "Incorrect API key provided" {
		t.Errorf("expected body message, got %q", apiErr.Message)
	}
	if apiErr.Code != "invalid_api_key" {
		t.Errorf("expected code invalid_api_key, got %q", apiErr.Code)
	}
}

func TestStream_APIErrorFromStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "<html>upstream down</html>")
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Stream(context.Background(), Request{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Message != "HTTP 502 Bad Gateway" {
		t.Errorf("expected status message, got %q", apiErr.Message)
	}
}

func TestStream_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, "").Stream(context.Background(), Request{})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError, got %T: %v", err, err)
	}
	if IsCancelled(err) {
		t.Error("network failure must not be reported as cancellation")
	}
}

func TestStream_Cancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := New(srv.URL, "").Stream(ctx, Request{})
		errCh <- err
	}()
	cancel()

	err := <-errCh
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestStream_ReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("expected stream=true")
		}
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("expected event-stream accept header, got %q", r.Header.Get("Accept"))
		}
		io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	body, err := New(srv.URL, "").Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer body.Close()

	b, _ := io.ReadAll(body)
	if string(b) != "data: [DONE]\n" {
		t.Errorf("unexpected body %q", b)
	}
}

func TestDecodeChunk(t *testing.T) {
	resp, err := DecodeChunk(`{"choices":[{"delta":{"content":" sunny"}}]}`)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if resp.DeltaContent() != " sunny" {
		t.Errorf("expected ' sunny', got %q", resp.DeltaContent())
	}

	_, err = DecodeChunk(`{"choices":[`)
	var malformed *MalformedEventError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected *MalformedEventError, got %T", err)
	}
}

func TestMessages_SystemPrompt(t *testing.T) {
	msgs := Messages("Continue the text.", "Once upon")
	if len(msgs) != 2 || msgs[0].Role != RoleSystem || msgs[1].Content != "Once upon" {
		t.Errorf("unexpected messages %+v", msgs)
	}
}
