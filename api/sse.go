package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
)

// EventStream is a lazy, single-pass sequence of server-sent events. The
// channel closes when the server finishes the stream, an error occurs, or the
// stream is cancelled; Err reports the failure, if any, after the channel
// closes. Close is safe to call multiple times and from any goroutine.
type EventStream interface {
	Events() <-chan Event
	Err() error
	Close()
}

type sseStream struct {
	events chan Event
	cancel context.CancelFunc

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

func (s *sseStream) Events() <-chan Event { return s.events }

func (s *sseStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *sseStream) Close() {
	s.closeOnce.Do(s.cancel)
}

func (s *sseStream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// run reads SSE records off the body and forwards them until EOF, error, or
// cancellation. Cancellation is a normal exit path and leaves Err nil.
func (s *sseStream) run(ctx context.Context, body io.ReadCloser) {
	defer close(s.events)
	defer body.Close()

	parser := newSSEParser()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		ev, ok := parser.Line(scanner.Text())
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.setErr(&TransportError{Err: err})
	}
}

// sseParser accumulates one event record across "event:"/"data:" lines and
// emits it at the blank-line record boundary, independent of HTTP chunking.
type sseParser struct {
	name string
	data bytes.Buffer
}

func newSSEParser() *sseParser {
	return &sseParser{}
}

// Line feeds one line into the parser. It returns a complete event when the
// line terminates a record that carried both a name and a payload.
func (p *sseParser) Line(line string) (Event, bool) {
	if line == "" {
		// record boundary
		if p.name == "" {
			p.data.Reset()
			return Event{}, false
		}
		ev := Event{Name: p.name, Data: append([]byte(nil), bytes.TrimSpace(p.data.Bytes())...)}
		p.name = ""
		p.data.Reset()
		if len(ev.Data) == 0 {
			ev.Data = []byte("{}")
		}
		return ev, true
	}

	if rest, ok := strings.CutPrefix(line, "event:"); ok {
		p.name = strings.TrimSpace(rest)
		return Event{}, false
	}
	if rest, ok := strings.CutPrefix(line, "data:"); ok {
		if p.data.Len() > 0 {
			p.data.WriteByte('\n')
		}
		p.data.WriteString(strings.TrimPrefix(rest, " "))
		return Event{}, false
	}
	// comment or unknown field; ignore
	return Event{}, false
}

func (c *Client) openStream(ctx context.Context, path, contentType string, body io.Reader) (EventStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
	}

	s := &sseStream{
		events: make(chan Event),
		cancel: cancel,
	}
	go s.run(ctx, resp.Body)
	return s, nil
}

// StreamGreeting opens the session's greeting stream.
func (c *Client) StreamGreeting(ctx context.Context, sessionID string) (EventStream, error) {
	return c.openStream(ctx, "/sessions/"+url.PathEscape(sessionID)+"/start", "", nil)
}

// ChatText sends one text turn and streams the reply.
func (c *Client) ChatText(ctx context.Context, sessionID, text string) (EventStream, error) {
	payload, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return c.openStream(ctx, "/sessions/"+url.PathEscape(sessionID)+"/chat/text", "application/json", bytes.NewReader(payload))
}

// ChatAudio uploads one WAV-wrapped audio turn as multipart/form-data and
// streams the reply. The multipart writer picks a fresh random boundary per
// call.
func (c *Client) ChatAudio(ctx context.Context, sessionID string, wav []byte) (EventStream, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="audio"; filename="audio.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}

	return c.openStream(ctx, "/sessions/"+url.PathEscape(sessionID)+"/chat", writer.FormDataContentType(), &body)
}
