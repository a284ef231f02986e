package audio

import "errors"

// ErrAlreadyRecording is returned by Start while a capture is in progress.
var ErrAlreadyRecording = errors.New("already recording")

// PCM format shared with the backend: raw little-endian 16-bit mono at 24 kHz.
const (
	SampleRate    = 24000
	Channels      = 1
	BitsPerSample = 16
	WAVHeaderSize = 44
)

type DataCallback func(data []byte, frameCount uint32)

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewRecorder(device *DeviceInfo) (Recorder, error)
	NewPlayer() (Player, error)
	Close()
}

// Recorder is the capture capability. Start rejects a second concurrent start
// while already recording.
type Recorder interface {
	// Probe reports whether the capture device is usable. Callers log the
	// result; a failed probe is not fatal, recording will simply fail later.
	Probe() error
	Start(cb DataCallback) error
	Stop()
	Close()
}

// Player is the playback sink. Chunks are scheduled in the order they are
// handed to Play; Stop drops everything still queued and is idempotent, safe
// to call even when nothing is playing.
type Player interface {
	Play(pcm []byte)
	Stop()
	Close()
}
