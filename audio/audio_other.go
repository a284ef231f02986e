//go:build !linux

package audio

import (
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID.Pointer()[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

func (m *malgoContext) NewRecorder(device *DeviceInfo) (Recorder, error) {
	return &malgoRecorder{ctx: m.ctx, device: device}, nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

type malgoRecorder struct {
	ctx      *malgo.AllocatedContext
	device   *DeviceInfo
	callback atomic.Pointer[DataCallback]

	mu  sync.Mutex
	dev *malgo.Device
}

func (r *malgoRecorder) Probe() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev != nil {
		return nil
	}
	dev, err := r.initDevice()
	if err != nil {
		return err
	}
	dev.Uninit()
	return nil
}

func (r *malgoRecorder) initDevice() (*malgo.Device, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = Channels
	deviceConfig.SampleRate = SampleRate

	if r.device != nil {
		idBytes, err := hex.DecodeString(r.device.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			if cb := r.callback.Load(); cb != nil {
				(*cb)(data, frameCount)
			}
		},
	}

	return malgo.InitDevice(r.ctx.Context, deviceConfig, callbacks)
}

func (r *malgoRecorder) Start(cb DataCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev != nil {
		return ErrAlreadyRecording
	}
	dev, err := r.initDevice()
	if err != nil {
		return err
	}
	r.callback.Store(&cb)
	if err := dev.Start(); err != nil {
		r.callback.Store(nil)
		dev.Uninit()
		return err
	}
	r.dev = dev
	return nil
}

func (r *malgoRecorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil {
		return
	}
	r.dev.Stop()
	r.dev.Uninit()
	r.dev = nil
	r.callback.Store(nil)
}

func (r *malgoRecorder) Close() {
	r.Stop()
}

func (m *malgoContext) NewPlayer() (Player, error) {
	p := &malgoPlayer{}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = Channels
	deviceConfig.SampleRate = SampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			p.fill(out)
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, err
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, err
	}
	p.dev = dev
	return p, nil
}

type malgoPlayer struct {
	dev *malgo.Device

	mu  sync.Mutex
	buf []byte
}

// fill drains queued PCM into the device buffer, padding with silence so the
// stream stays open between chunks.
func (p *malgoPlayer) fill(out []byte) {
	p.mu.Lock()
	n := copy(out, p.buf)
	p.buf = p.buf[n:]
	p.mu.Unlock()
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

func (p *malgoPlayer) Play(pcm []byte) {
	p.mu.Lock()
	p.buf = append(p.buf, pcm...)
	p.mu.Unlock()
}

func (p *malgoPlayer) Stop() {
	p.mu.Lock()
	p.buf = nil
	p.mu.Unlock()
}

func (p *malgoPlayer) Close() {
	p.Stop()
	p.dev.Stop()
	p.dev.Uninit()
}
