package session

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/yhc1/talkco/api"
	"github.com/yhc1/talkco/audio"
)

type fakeStream struct {
	ch  chan api.Event
	err error
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan api.Event)}
}

func (s *fakeStream) Events() <-chan api.Event { return s.ch }
func (s *fakeStream) Err() error               { return s.err }
func (s *fakeStream) Close()                   {}

func textEvent(name, text string) api.Event {
	return api.Event{Name: name, Data: []byte(fmt.Sprintf(`{"text":%q}`, text))}
}

func audioEvent(pcm []byte) api.Event {
	b64 := base64.StdEncoding.EncodeToString(pcm)
	return api.Event{Name: api.EventAudio, Data: []byte(fmt.Sprintf(`{"audio":%q}`, b64))}
}

func doneEvent() api.Event {
	return api.Event{Name: api.EventDone, Data: []byte("{}")}
}

type fakeBackend struct {
	mu sync.Mutex

	createResp *api.CreateSessionResponse
	createErr  error
	endResp    *api.EndConversationResponse
	endErr     error

	greetingStream api.EventStream
	chatStream     api.EventStream
	chatErr        error

	createCalls    int
	endCalls       int
	chatAudioCalls int
	chatTextCalls  int
	lastWAV        []byte
}

func (f *fakeBackend) CreateSession(ctx context.Context, req api.CreateSessionRequest) (*api.CreateSessionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	return f.createResp, f.createErr
}

func (f *fakeBackend) StreamGreeting(ctx context.Context, sessionID string) (api.EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.greetingStream, nil
}

func (f *fakeBackend) ChatAudio(ctx context.Context, sessionID string, wav []byte) (api.EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatAudioCalls++
	f.lastWAV = wav
	return f.chatStream, f.chatErr
}

func (f *fakeBackend) ChatText(ctx context.Context, sessionID, text string) (api.EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatTextCalls++
	return f.chatStream, f.chatErr
}

func (f *fakeBackend) EndConversation(ctx context.Context, sessionID string) (*api.EndConversationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
	return f.endResp, f.endErr
}

func (f *fakeBackend) calls() (create, end, chatAudio, chatText int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.endCalls, f.chatAudioCalls, f.chatTextCalls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func loudPCM(samples int) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		s := int16(0.5 * 32767 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

// activeController returns a controller already past Start, with a live
// session id and an idle state.
func activeController(backend *fakeBackend, rec audio.Recorder, player audio.Player) *Controller {
	c := NewController(backend, rec, player, Config{UserID: "u1", Mode: api.ModeConversation})
	c.connecting = false
	c.sessionID = "s1"
	return c
}

func TestStartAppendsGreetingAfterStream(t *testing.T) {
	stream := newFakeStream()
	backend := &fakeBackend{
		createResp:     &api.CreateSessionResponse{SessionID: "s1"},
		greetingStream: stream,
	}
	rec := audio.NewFakeRecorder(nil)
	player := audio.NewFakePlayer()
	c := NewController(backend, rec, player, Config{UserID: "u1", Mode: api.ModeConversation})

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	stream.ch <- textEvent(api.EventResponse, "Hi! Ready to practice?")
	stream.ch <- audioEvent([]byte{1, 2, 3, 4})

	waitFor(t, "greeting audio", func() bool { return len(player.Chunks()) == 1 })
	if got := len(c.Snapshot().Messages); got != 0 {
		t.Errorf("greeting text appeared before stream end (%d messages)", got)
	}

	stream.ch <- doneEvent()
	close(stream.ch)
	if err := <-done; err != nil {
		t.Fatalf("start: %v", err)
	}

	snap := c.Snapshot()
	if snap.Connecting {
		t.Error("still connecting after Start")
	}
	if snap.SessionID != "s1" {
		t.Errorf("session id = %q", snap.SessionID)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Role != "assistant" {
		t.Fatalf("messages = %+v", snap.Messages)
	}
}

func TestStartFailureLeavesNoSession(t *testing.T) {
	backend := &fakeBackend{createErr: &api.TransportError{Err: context.DeadlineExceeded}}
	c := NewController(backend, audio.NewFakeRecorder(nil), audio.NewFakePlayer(), Config{UserID: "u1", Mode: api.ModeConversation})

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	snap := c.Snapshot()
	if snap.Connecting {
		t.Error("connecting should clear even on failure")
	}
	if snap.SessionID != "" {
		t.Errorf("session id = %q, want empty", snap.SessionID)
	}
	if err := c.SendText(context.Background(), "hello"); err != ErrNoSession {
		t.Errorf("SendText after failed start = %v, want ErrNoSession", err)
	}
}

func TestStopRecordingBelowThresholdNoNetwork(t *testing.T) {
	backend := &fakeBackend{}
	rec := audio.NewFakeRecorder(make([]byte, 48000)) // one second of silence
	c := activeController(backend, rec, audio.NewFakePlayer())

	if err := c.StartRecording(); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if err := c.StopRecording(context.Background()); err != nil {
		t.Fatalf("stop recording: %v", err)
	}

	if _, _, chatAudio, _ := backend.calls(); chatAudio != 0 {
		t.Errorf("silent recording triggered %d uploads", chatAudio)
	}
	if got := len(c.Snapshot().Messages); got != 0 {
		t.Errorf("silent recording mutated transcript (%d messages)", got)
	}
	snap := c.Snapshot()
	if snap.Recording || snap.Processing {
		t.Errorf("controller not idle after discard: %+v", snap)
	}
}

func TestAudioTurnUploadsWAV(t *testing.T) {
	stream := newFakeStream()
	backend := &fakeBackend{chatStream: stream}
	rec := audio.NewFakeRecorder(loudPCM(audio.SampleRate))
	player := audio.NewFakePlayer()
	c := activeController(backend, rec, player)

	if err := c.StartRecording(); err != nil {
		t.Fatalf("start recording: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.StopRecording(context.Background()) }()

	stream.ch <- textEvent(api.EventTranscript, "I go to store yesterday")
	stream.ch <- textEvent(api.EventResponse, "Oh, what did you buy?")
	stream.ch <- doneEvent()
	close(stream.ch)
	if err := <-done; err != nil {
		t.Fatalf("stop recording: %v", err)
	}

	_, _, chatAudio, _ := backend.calls()
	if chatAudio != 1 {
		t.Fatalf("uploads = %d, want 1", chatAudio)
	}
	if len(backend.lastWAV) < audio.WAVHeaderSize || string(backend.lastWAV[:4]) != "RIFF" {
		t.Error("upload is not WAV-wrapped")
	}

	snap := c.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("messages = %+v", snap.Messages)
	}
	if snap.Messages[0].Role != "user" || snap.Messages[0].Text != "I go to store yesterday" {
		t.Errorf("user message = %+v", snap.Messages[0])
	}
	if snap.Messages[1].Role != "assistant" {
		t.Errorf("assistant message = %+v", snap.Messages[1])
	}
	if snap.UserTurns != 1 {
		t.Errorf("user turns = %d", snap.UserTurns)
	}
}

func TestResponseTextDeferredUntilStreamEnd(t *testing.T) {
	stream := newFakeStream()
	backend := &fakeBackend{chatStream: stream}
	player := audio.NewFakePlayer()
	c := activeController(backend, audio.NewFakeRecorder(nil), player)

	done := make(chan error, 1)
	go func() { done <- c.SendText(context.Background(), "hello there") }()

	stream.ch <- textEvent(api.EventTranscript, "hello there")
	stream.ch <- textEvent(api.EventResponse, "Hi!")
	stream.ch <- audioEvent([]byte{1, 1})
	stream.ch <- audioEvent([]byte{2, 2})

	// Both text events have arrived; nothing may be visible yet, while both
	// audio chunks must already be scheduled, in order.
	waitFor(t, "audio chunks", func() bool { return len(player.Chunks()) == 2 })
	if got := len(c.Snapshot().Messages); got != 0 {
		t.Errorf("text appended mid-stream (%d messages)", got)
	}
	chunks := player.Chunks()
	if chunks[0][0] != 1 || chunks[1][0] != 2 {
		t.Errorf("audio chunks out of order: %v", chunks)
	}

	stream.ch <- doneEvent()
	close(stream.ch)
	if err := <-done; err != nil {
		t.Fatalf("send text: %v", err)
	}
	if got := len(c.Snapshot().Messages); got != 2 {
		t.Errorf("messages after stream end = %d, want 2", got)
	}
}

func TestEmptyTranscriptDiscardsTurnAndStopsPlayback(t *testing.T) {
	stream := newFakeStream()
	backend := &fakeBackend{chatStream: stream}
	player := audio.NewFakePlayer()
	c := activeController(backend, audio.NewFakeRecorder(nil), player)

	done := make(chan error, 1)
	go func() { done <- c.SendText(context.Background(), "anything") }()

	stream.ch <- textEvent(api.EventTranscript, "   ")
	stream.ch <- textEvent(api.EventResponse, "I could not hear you.")
	stream.ch <- audioEvent([]byte{9, 9})
	stream.ch <- doneEvent()
	close(stream.ch)
	if err := <-done; err != nil {
		t.Fatalf("send text: %v", err)
	}

	snap := c.Snapshot()
	if len(snap.Messages) != 0 {
		t.Errorf("discarded turn left messages: %+v", snap.Messages)
	}
	if snap.UserTurns != 0 {
		t.Errorf("user turns = %d", snap.UserTurns)
	}
	if player.Stops() == 0 {
		t.Error("playback was not stopped for the discarded turn")
	}
}

func TestTransportFailureDropsTurn(t *testing.T) {
	stream := newFakeStream()
	stream.err = &api.TransportError{Err: context.DeadlineExceeded}
	backend := &fakeBackend{chatStream: stream}
	c := activeController(backend, audio.NewFakeRecorder(nil), audio.NewFakePlayer())

	done := make(chan error, 1)
	go func() { done <- c.SendText(context.Background(), "hello") }()

	stream.ch <- textEvent(api.EventTranscript, "hello")
	close(stream.ch) // stream dies mid-turn

	if err := <-done; err == nil {
		t.Fatal("expected transport error")
	}

	snap := c.Snapshot()
	if len(snap.Messages) != 0 {
		t.Errorf("failed turn left partial messages: %+v", snap.Messages)
	}
	if snap.Processing {
		t.Error("controller stuck in processing after failure")
	}
	if err := c.SendText(context.Background(), ""); err != nil {
		t.Errorf("controller unusable after dropped turn: %v", err)
	}
}

func TestSendTextEmptyIsNoOp(t *testing.T) {
	backend := &fakeBackend{}
	c := activeController(backend, audio.NewFakeRecorder(nil), audio.NewFakePlayer())

	if err := c.SendText(context.Background(), "   \t  "); err != nil {
		t.Fatalf("empty text: %v", err)
	}
	if _, _, _, chatText := backend.calls(); chatText != 0 {
		t.Errorf("empty text reached the network (%d calls)", chatText)
	}
}

func TestGuardsWhileProcessing(t *testing.T) {
	stream := newFakeStream()
	backend := &fakeBackend{chatStream: stream}
	c := activeController(backend, audio.NewFakeRecorder(nil), audio.NewFakePlayer())

	done := make(chan error, 1)
	go func() { done <- c.SendText(context.Background(), "first") }()

	// Wait until the first turn holds the processing guard.
	deadline := time.Now().Add(2 * time.Second)
	for !c.Snapshot().Processing {
		if time.Now().After(deadline) {
			t.Fatal("turn never entered processing")
		}
		time.Sleep(time.Millisecond)
	}

	if err := c.StartRecording(); err != ErrProcessing {
		t.Errorf("StartRecording while processing = %v, want ErrProcessing", err)
	}
	if err := c.SendText(context.Background(), "second"); err != ErrProcessing {
		t.Errorf("SendText while processing = %v, want ErrProcessing", err)
	}

	close(stream.ch)
	<-done
}

func TestEndConversationIdempotent(t *testing.T) {
	backend := &fakeBackend{
		endResp: &api.EndConversationResponse{SessionID: "s1", Status: api.StatusReviewing, Mode: api.ModeConversation},
	}
	c := activeController(backend, audio.NewFakeRecorder(nil), audio.NewFakePlayer())
	c.userTurns = 1

	id, err := c.EndConversation(context.Background())
	if err != nil {
		t.Fatalf("first end: %v", err)
	}
	if id != "s1" {
		t.Errorf("first end id = %q, want s1", id)
	}

	id, err = c.EndConversation(context.Background())
	if err != nil {
		t.Fatalf("second end: %v", err)
	}
	if id != "" {
		t.Errorf("second end id = %q, want empty", id)
	}
	if _, end, _, _ := backend.calls(); end != 1 {
		t.Errorf("DELETE issued %d times, want 1", end)
	}

	if err := c.SendText(context.Background(), "late"); err != ErrEnded {
		t.Errorf("SendText after end = %v, want ErrEnded", err)
	}
	if err := c.StartRecording(); err != ErrEnded {
		t.Errorf("StartRecording after end = %v, want ErrEnded", err)
	}
}

func TestEndConversationDrillModeSkipsReview(t *testing.T) {
	// The server reports mode review even though the client asked for
	// conversation; the server's answer wins.
	backend := &fakeBackend{
		endResp: &api.EndConversationResponse{SessionID: "s1", Status: api.StatusEnded, Mode: api.ModeReview},
	}
	c := activeController(backend, audio.NewFakeRecorder(nil), audio.NewFakePlayer())
	c.userTurns = 3

	id, err := c.EndConversation(context.Background())
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if id != "" {
		t.Errorf("drill session returned id %q, want empty", id)
	}
}

func TestEndConversationZeroTurnsSkipsReview(t *testing.T) {
	backend := &fakeBackend{
		endResp: &api.EndConversationResponse{SessionID: "s1", Status: api.StatusReviewing, Mode: api.ModeConversation},
	}
	player := audio.NewFakePlayer()
	c := activeController(backend, audio.NewFakeRecorder(nil), player)

	id, err := c.EndConversation(context.Background())
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if id != "" {
		t.Errorf("zero-turn session returned id %q, want empty", id)
	}
	if player.Stops() == 0 {
		t.Error("playback not stopped on end")
	}
}
