// Package session owns one active conversation's state machine: connecting,
// exchanging turns, ending, and handing off to review.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/yhc1/talkco/api"
	"github.com/yhc1/talkco/audio"
	"github.com/yhc1/talkco/log"
)

// Guard rejections. These are normal no-op outcomes, not failures; callers
// surface them at most as a disabled control.
var (
	ErrNoSession  = errors.New("no active session")
	ErrEnded      = errors.New("session already ended")
	ErrProcessing = errors.New("previous turn still processing")
)

// Backend is the slice of the transport client the controller needs.
// *api.Client satisfies it; tests substitute a scripted fake.
type Backend interface {
	CreateSession(ctx context.Context, req api.CreateSessionRequest) (*api.CreateSessionResponse, error)
	StreamGreeting(ctx context.Context, sessionID string) (api.EventStream, error)
	ChatAudio(ctx context.Context, sessionID string, wav []byte) (api.EventStream, error)
	ChatText(ctx context.Context, sessionID, text string) (api.EventStream, error)
	EndConversation(ctx context.Context, sessionID string) (*api.EndConversationResponse, error)
}

// Message is one visible transcript entry, in conversation order.
type Message struct {
	Role string // "user" or "assistant"
	Text string
}

// Snapshot is a read-only projection of the controller's state for the UI.
type Snapshot struct {
	SessionID  string
	Connecting bool
	Recording  bool
	Processing bool
	Ended      bool
	Messages   []Message
	UserTurns  int
}

type Config struct {
	UserID  string
	TopicID *string // nil outside conversation mode
	Mode    string  // api.ModeConversation or api.ModeReview
}

// Controller drives one conversation session. It is exclusively owned by one
// screen; all exported methods are safe to call from the UI's command
// goroutines but callers must not run two turns concurrently (the processing
// guard rejects the second anyway).
type Controller struct {
	backend  Backend
	recorder audio.Recorder
	player   audio.Player
	cfg      Config

	mu         sync.Mutex
	sessionID  string
	connecting bool
	recording  bool
	processing bool
	ended      bool
	messages   []Message
	userTurns  int

	capMu    sync.Mutex
	captured []byte
}

func NewController(backend Backend, recorder audio.Recorder, player audio.Player, cfg Config) *Controller {
	return &Controller{
		backend:    backend,
		recorder:   recorder,
		player:     player,
		cfg:        cfg,
		connecting: true,
	}
}

// Start creates the session and plays the server's greeting. The microphone
// probe result is logged but not fatal; recording will simply fail later if
// the device is unusable. Connecting clears whether or not Start succeeds, so
// the UI can distinguish "still connecting" from "connect failed, no session".
func (c *Controller) Start(ctx context.Context) error {
	if err := c.recorder.Probe(); err != nil {
		log.Warnf("microphone probe failed: %v", err)
	}

	resp, err := c.backend.CreateSession(ctx, api.CreateSessionRequest{
		UserID:  c.cfg.UserID,
		TopicID: c.cfg.TopicID,
		Mode:    c.cfg.Mode,
	})

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.mu.Unlock()
		log.Errorf("create session: %v", err)
		return err
	}
	c.sessionID = resp.SessionID
	c.mu.Unlock()

	topicID := ""
	if c.cfg.TopicID != nil {
		topicID = *c.cfg.TopicID
	}
	log.SessionStart(resp.SessionID, c.cfg.Mode, topicID)

	stream, err := c.backend.StreamGreeting(ctx, resp.SessionID)
	if err != nil {
		log.Errorf("greeting stream: %v", err)
		return err
	}
	turn, err := c.consume(stream)
	if err != nil {
		log.Errorf("greeting stream: %v", err)
		return err
	}
	if text := strings.TrimSpace(turn.response); text != "" {
		c.append(Message{Role: "assistant", Text: text})
	}
	return nil
}

// StartRecording begins push-to-talk capture. Rejected while a previous turn
// is processing, after the session has ended, or while already recording.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	switch {
	case c.ended:
		c.mu.Unlock()
		return ErrEnded
	case c.sessionID == "":
		c.mu.Unlock()
		return ErrNoSession
	case c.processing:
		c.mu.Unlock()
		return ErrProcessing
	case c.recording:
		c.mu.Unlock()
		return audio.ErrAlreadyRecording
	}
	c.recording = true
	c.mu.Unlock()

	c.capMu.Lock()
	c.captured = nil
	c.capMu.Unlock()

	err := c.recorder.Start(func(data []byte, _ uint32) {
		c.capMu.Lock()
		c.captured = append(c.captured, data...)
		c.capMu.Unlock()
	})
	if err != nil {
		c.mu.Lock()
		c.recording = false
		c.mu.Unlock()
		log.Errorf("start recording: %v", err)
		return err
	}
	return nil
}

// StopRecording ends capture and, when the audio carries meaningful speech,
// uploads it as one turn. Silent or near-silent recordings are discarded
// without a network call so accidental taps cost nothing.
func (c *Controller) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return nil
	}
	c.recording = false
	c.mu.Unlock()

	c.recorder.Stop()

	c.capMu.Lock()
	pcm := c.captured
	c.captured = nil
	c.capMu.Unlock()

	if rms := audio.RMS(pcm); rms < audio.SpeechRMSThreshold {
		log.NoSpeech(rms, len(pcm))
		return nil
	}

	wav := audio.WrapWAV(pcm)
	return c.exchange(ctx, func(ctx context.Context, sessionID string) (api.EventStream, error) {
		return c.backend.ChatAudio(ctx, sessionID, wav)
	})
}

// SendText drives one turn from typed input. Empty or whitespace-only text is
// a silent no-op.
func (c *Controller) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.exchange(ctx, func(ctx context.Context, sessionID string) (api.EventStream, error) {
		return c.backend.ChatText(ctx, sessionID, text)
	})
}

type turnResult struct {
	transcript  string
	response    string
	audioChunks int
	audioBytes  int
}

// consume drains one event stream, scheduling audio chunks for playback in
// arrival order as they come in, and returns the buffered text. Text is not
// appended here: the caller appends only after the stream has ended, so text
// never surfaces ahead of the voice.
func (c *Controller) consume(stream api.EventStream) (turnResult, error) {
	defer stream.Close()

	var res turnResult
	for ev := range stream.Events() {
		switch ev.Name {
		case api.EventTranscript:
			if text, err := ev.Text(); err == nil {
				res.transcript = text
			}
		case api.EventResponse:
			if text, err := ev.Text(); err == nil {
				res.response = text
			}
		case api.EventAudio:
			b64, err := ev.AudioB64()
			if err != nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(b64)
			if err != nil || len(pcm) == 0 {
				continue
			}
			res.audioChunks++
			res.audioBytes += len(pcm)
			c.player.Play(pcm)
		case api.EventTiming:
			if info, err := ev.Timing(); err == nil {
				log.Timing(info.Step, info.DurationS)
			}
		case api.EventDone:
			// terminator; the channel closes right after
		}
	}
	if err := stream.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// exchange runs one guarded turn: open the stream, consume it, then append
// both messages. A transport failure drops the turn and returns the
// controller to idle; an empty-after-trim transcript discards the turn and
// stops whatever playback the server already streamed for it.
func (c *Controller) exchange(ctx context.Context, open func(ctx context.Context, sessionID string) (api.EventStream, error)) error {
	c.mu.Lock()
	switch {
	case c.ended:
		c.mu.Unlock()
		return ErrEnded
	case c.sessionID == "":
		c.mu.Unlock()
		return ErrNoSession
	case c.processing || c.recording:
		c.mu.Unlock()
		return ErrProcessing
	}
	c.processing = true
	sessionID := c.sessionID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.processing = false
		c.mu.Unlock()
	}()

	started := time.Now()

	stream, err := open(ctx, sessionID)
	if err != nil {
		log.Errorf("turn stream: %v", err)
		return err
	}
	turn, err := c.consume(stream)
	if err != nil {
		log.Errorf("turn stream: %v", err)
		return err
	}

	userText := strings.TrimSpace(turn.transcript)
	if userText == "" {
		// Nothing recognized: suppress the whole turn, including any audio
		// the server streamed before deciding the input was empty.
		c.player.Stop()
		log.Infof("turn discarded: empty transcript")
		return nil
	}

	c.append(Message{Role: "user", Text: userText})
	if text := strings.TrimSpace(turn.response); text != "" {
		c.append(Message{Role: "assistant", Text: text})
	}

	c.mu.Lock()
	c.userTurns++
	c.mu.Unlock()

	log.Turn(sessionID, turn.audioChunks, turn.audioBytes, time.Since(started))
	return nil
}

func (c *Controller) append(m Message) {
	c.mu.Lock()
	c.messages = append(c.messages, m)
	c.mu.Unlock()
	log.TranscriptText(m.Role, m.Text)
}

// EndConversation stops playback, marks the session ended, and issues the one
// deletion call. Idempotent: a second call is a no-op with no further DELETE.
//
// The returned session id is non-empty only when the server-reported mode was
// conversation and at least one user turn was exchanged; that id is what gets
// handed to the review controller. Drill sessions and empty conversations
// skip review entirely. The branch is driven by the DELETE response's mode,
// never the locally requested one, since server-side validation can override
// the client's choice.
func (c *Controller) EndConversation(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return "", nil
	}
	c.ended = true
	sessionID := c.sessionID
	turns := c.userTurns
	c.mu.Unlock()

	c.player.Stop()

	if sessionID == "" {
		return "", nil
	}

	resp, err := c.backend.EndConversation(ctx, sessionID)
	if err != nil {
		log.Errorf("end conversation: %v", err)
		return "", err
	}

	log.SessionEnd(resp.SessionID, resp.Status, resp.Mode, turns)

	if resp.Mode == api.ModeReview || turns == 0 {
		return "", nil
	}
	return sessionID, nil
}

// Snapshot returns a copy of the current state for rendering.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]Message, len(c.messages))
	copy(msgs, c.messages)
	return Snapshot{
		SessionID:  c.sessionID,
		Connecting: c.connecting,
		Recording:  c.recording,
		Processing: c.processing,
		Ended:      c.ended,
		Messages:   msgs,
		UserTurns:  c.userTurns,
	}
}
