package mcp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const sessionHeader = "Mcp-Session-Id"

// Transport moves JSON-RPC messages to the tool server. When id is non-nil the
// transport waits for the response carrying that id.
type Transport interface {
	Send(ctx context.Context, msg []byte, id *int64) ([]byte, error)
	Close() error
}

// HTTPTransport speaks the streamable HTTP binding: one POST per message, the
// response arriving either as a JSON body or as a server-sent event stream.
type HTTPTransport struct {
	url        string
	headers    http.Header
	httpClient *http.Client

	mu        sync.Mutex
	sessionID string
}

// NewHTTPTransport creates an HTTP transport
func NewHTTPTransport(url string, headers http.Header, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPTransport{
		url:        url,
		headers:    headers,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send implements Transport
func (t *HTTPTransport) Send(ctx context.Context, msg []byte, id *int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(msg))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	t.applyHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool server request failed: %w", err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tool server error: status %d, body: %s", resp.StatusCode, string(body))
	}
	if id == nil {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readEventStream(resp.Body, *id)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool server response: %w", err)
	}
	return body, nil
}

// Close terminates the server-side session, if one was assigned.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	sid := t.sessionID
	t.mu.Unlock()
	if sid == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.url, nil)
	if err != nil {
		return err
	}
	t.applyHeaders(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to close tool session: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (t *HTTPTransport) applyHeaders(req *http.Request) {
	for k, values := range t.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	t.mu.Lock()
	if t.sessionID != "" {
		req.Header.Set(sessionHeader, t.sessionID)
	}
	t.mu.Unlock()
}

// event is one server-sent event
type event struct {
	name string
	data string
}

// scanEvents calls handle for every event in r until handle returns true or
// the stream ends.
func scanEvents(r io.Reader, handle func(event) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var current event
	var data strings.Builder
	dispatch := func() bool {
		if data.Len() == 0 {
			current = event{}
			return false
		}
		current.data = data.String()
		data.Reset()
		ev := current
		current = event{}
		return handle(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if dispatch() {
				return nil
			}
		case strings.HasPrefix(line, "event:"):
			current.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read event stream: %w", err)
	}
	dispatch()
	return nil
}

// readEventStream returns the data of the first event whose JSON-RPC id matches.
func readEventStream(r io.Reader, id int64) ([]byte, error) {
	var payload []byte
	err := scanEvents(r, func(ev event) bool {
		if matchesID([]byte(ev.data), id) {
			payload = []byte(ev.data)
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("event stream ended without a response to request %d", id)
	}
	return payload, nil
}

func matchesID(payload []byte, id int64) bool {
	var msg struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ID == nil {
		return false
	}
	return *msg.ID == id
}

// WebSocketTransport keeps one websocket open for the lifetime of the session.
type WebSocketTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// createHTTP1Client forces HTTP/1.1, which the websocket upgrade handshake requires.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// DialWebSocket opens a websocket transport
func DialWebSocket(ctx context.Context, url string, headers http.Header) (*WebSocketTransport, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:   createHTTP1Client(),
		HTTPHeader:   headers,
		Subprotocols: []string{"mcp"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial WebSocket: %w", err)
	}
	conn.SetReadLimit(16 * 1024 * 1024)
	return &WebSocketTransport{conn: conn}, nil
}

// Send implements Transport. Messages that do not answer id are skipped.
func (t *WebSocketTransport) Send(ctx context.Context, msg []byte, id *int64) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}
	if id == nil {
		return nil, nil
	}

	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		if matchesID(data, *id) {
			return data, nil
		}
	}
}

// Close implements Transport
func (t *WebSocketTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
