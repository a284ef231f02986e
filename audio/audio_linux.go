//go:build linux

package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
)

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var devices []DeviceInfo
	for _, s := range sources {
		devices = append(devices, DeviceInfo{
			ID:   s.ID(),
			Name: s.Name(),
		})
	}
	return devices, nil
}

func (p *pulseContext) NewRecorder(device *DeviceInfo) (Recorder, error) {
	return &pulseRecorder{
		client: p.client,
		device: device,
	}, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type pulseRecorder struct {
	client   *pulse.Client
	device   *DeviceInfo
	callback atomic.Pointer[DataCallback]

	stream *pulse.RecordStream
	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

func (r *pulseRecorder) Probe() error {
	sources, err := r.client.ListSources()
	if err != nil {
		return fmt.Errorf("pulse list sources: %w", err)
	}
	if len(sources) == 0 {
		return errors.New("no capture sources")
	}
	return nil
}

func (r *pulseRecorder) Start(cb DataCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != nil {
		return ErrAlreadyRecording
	}

	r.callback.Store(&cb)

	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		p := r.callback.Load()
		if p == nil {
			return len(buf), nil
		}
		data := make([]byte, len(buf)*2)
		for i, s := range buf {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
		}
		(*p)(data, uint32(len(buf)))
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordLatency(0.05),
	}
	if r.device != nil {
		source, err := r.client.SourceByID(r.device.ID)
		if err == nil && source != nil {
			opts = append(opts, pulse.RecordSource(source))
		}
	}

	stream, err := r.client.NewRecord(writer, opts...)
	if err != nil {
		r.callback.Store(nil)
		return fmt.Errorf("pulse record: %w", err)
	}

	r.stream = stream
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		stream.Start()
		<-stop
		stream.Stop()
		stream.Close()
	}(r.stop, r.done)

	return nil
}

func (r *pulseRecorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil {
		return
	}
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done
	r.stream = nil
	r.callback.Store(nil)
}

func (r *pulseRecorder) Close() {
	r.Stop()
}

func (p *pulseContext) NewPlayer() (Player, error) {
	pl := &pulsePlayer{}

	reader := pulse.Int16Reader(func(out []int16) (int, error) {
		pl.mu.Lock()
		n := min(len(out), len(pl.buf)/2)
		for i := 0; i < n; i++ {
			out[i] = int16(binary.LittleEndian.Uint16(pl.buf[i*2:]))
		}
		pl.buf = pl.buf[n*2:]
		pl.mu.Unlock()
		// Pad with silence to keep the stream open between chunks.
		for i := n; i < len(out); i++ {
			out[i] = 0
		}
		return len(out), nil
	})

	stream, err := p.client.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(SampleRate),
		pulse.PlaybackLatency(0.1),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse playback: %w", err)
	}
	pl.stream = stream
	stream.Start()
	return pl, nil
}

type pulsePlayer struct {
	stream *pulse.PlaybackStream

	mu  sync.Mutex
	buf []byte
}

func (p *pulsePlayer) Play(pcm []byte) {
	p.mu.Lock()
	p.buf = append(p.buf, pcm...)
	p.mu.Unlock()
}

func (p *pulsePlayer) Stop() {
	p.mu.Lock()
	p.buf = nil
	p.mu.Unlock()
}

func (p *pulsePlayer) Close() {
	p.Stop()
	p.stream.Stop()
	p.stream.Close()
}
