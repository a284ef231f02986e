package audio

import "sync"

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeRecorder replays a fixed PCM buffer through the capture callback when
// started. It enforces the same single-start contract as the real devices.
type FakeRecorder struct {
	pcm      []byte
	probeErr error

	mu      sync.Mutex
	started bool
	starts  int
}

func NewFakeRecorder(pcm []byte) *FakeRecorder {
	return &FakeRecorder{pcm: pcm}
}

func (f *FakeRecorder) SetProbeErr(err error) { f.probeErr = err }

func (f *FakeRecorder) Probe() error { return f.probeErr }

func (f *FakeRecorder) Start(cb DataCallback) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return ErrAlreadyRecording
	}
	f.started = true
	f.starts++
	f.mu.Unlock()

	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	for pos := 0; pos < len(f.pcm); pos += chunkBytes {
		end := min(pos+chunkBytes, len(f.pcm))
		chunk := make([]byte, end-pos)
		copy(chunk, f.pcm[pos:end])
		cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	}
	return nil
}

func (f *FakeRecorder) Stop() {
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()
}

func (f *FakeRecorder) Close() {}

// Starts returns how many times recording was started.
func (f *FakeRecorder) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// FakePlayer records scheduled chunks in arrival order.
type FakePlayer struct {
	mu     sync.Mutex
	chunks [][]byte
	stops  int
}

func NewFakePlayer() *FakePlayer {
	return &FakePlayer{}
}

func (f *FakePlayer) Play(pcm []byte) {
	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)
	f.mu.Lock()
	f.chunks = append(f.chunks, chunk)
	f.mu.Unlock()
}

func (f *FakePlayer) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *FakePlayer) Close() {}

// Chunks returns the scheduled chunks in the order they arrived.
func (f *FakePlayer) Chunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.chunks))
	copy(out, f.chunks)
	return out
}

func (f *FakePlayer) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}
