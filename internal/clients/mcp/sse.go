package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// errStreamClosed is returned to callers still waiting when the event stream ends.
var errStreamClosed = errors.New("tool server event stream closed")

// SSETransport speaks the HTTP+SSE binding: a long-lived GET event stream
// announces a message endpoint, requests are POSTed there and responses
// arrive on the stream.
type SSETransport struct {
	headers    http.Header
	httpClient *http.Client
	endpoint   string
	cancel     context.CancelFunc
	done       chan struct{}

	mu       sync.Mutex
	pending  map[int64]chan []byte
	closeErr error
	closed   sync.Once
}

// DialSSE opens the event stream and waits for the endpoint event. The stream
// stays open until Close.
func DialSSE(ctx context.Context, streamURL string, headers http.Header, timeout time.Duration) (*SSETransport, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	base, err := url.Parse(streamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid tool server URL: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, values := range headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream has no deadline; dial cancellation comes from ctx below.
	stop := context.AfterFunc(ctx, cancel)
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("failed to open tool server event stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		stop()
		cancel()
		return nil, fmt.Errorf("tool server error: status %d, body: %s", resp.StatusCode, string(body))
	}

	t := &SSETransport{
		headers:    headers,
		httpClient: &http.Client{Timeout: timeout},
		cancel:     cancel,
		done:       make(chan struct{}),
		pending:    make(map[int64]chan []byte),
	}

	endpoints := make(chan string, 1)
	go t.readLoop(resp.Body, base, endpoints)

	select {
	case endpoint := <-endpoints:
		stop()
		t.endpoint = endpoint
		return t, nil
	case <-t.done:
		stop()
		t.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("failed to open tool server event stream: %w", ctx.Err())
		}
		return nil, fmt.Errorf("tool server event stream ended before announcing an endpoint")
	}
}

func (t *SSETransport) readLoop(body io.ReadCloser, base *url.URL, endpoints chan<- string) {
	defer close(t.done)
	defer body.Close()

	announced := false
	err := scanEvents(body, func(ev event) bool {
		switch ev.name {
		case "endpoint":
			ref, err := url.Parse(ev.data)
			if err != nil || announced {
				return false
			}
			announced = true
			endpoints <- base.ResolveReference(ref).String()
		case "", "message":
			t.deliver([]byte(ev.data))
		}
		return false
	})
	if err == nil {
		err = errStreamClosed
	}

	t.mu.Lock()
	t.closeErr = err
	t.mu.Unlock()
}

func (t *SSETransport) deliver(payload []byte) {
	var msg struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ID == nil {
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[*msg.ID]
	delete(t.pending, *msg.ID)
	t.mu.Unlock()
	if ok {
		ch <- payload
	}
}

// Endpoint returns the message URL announced by the server
func (t *SSETransport) Endpoint() string {
	return t.endpoint
}

// Send implements Transport
func (t *SSETransport) Send(ctx context.Context, msg []byte, id *int64) ([]byte, error) {
	var reply chan []byte
	if id != nil {
		reply = make(chan []byte, 1)
		t.mu.Lock()
		t.pending[*id] = reply
		t.mu.Unlock()
		defer func() {
			t.mu.Lock()
			delete(t.pending, *id)
			t.mu.Unlock()
		}()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(msg))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, values := range t.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool server request failed: %w", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("tool server error: status %d, body: %s", resp.StatusCode, string(body))
	}
	if id == nil {
		return nil, nil
	}

	select {
	case payload := <-reply:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		// the response may have been delivered just before the stream ended
		select {
		case payload := <-reply:
			return payload, nil
		default:
		}
		t.mu.Lock()
		err := t.closeErr
		t.mu.Unlock()
		return nil, fmt.Errorf("no response to request %d: %w", *id, err)
	}
}

// Close cancels the event stream and waits for the reader to exit.
func (t *SSETransport) Close() error {
	t.closed.Do(func() {
		t.cancel()
		<-t.done
	})
	return nil
}
