package audiotap

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Microphone is a real Source backed by the host's default input
// device: a portaudio callback pushes each chunk onto an internal
// channel, and Read drains that channel so Microphone satisfies
// Source directly rather than handing the channel out to a caller.
type Microphone struct {
	rate, channels int
	stream         *portaudio.Stream
	samples        chan []float32
	pending        []float32
}

// NewMicrophone opens the default input device at rate/channels. Call
// Close when done to release the portaudio stream.
func NewMicrophone(rate, channels int) (*Microphone, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audiotap: portaudio init: %w", err)
	}

	m := &Microphone{rate: rate, channels: channels, samples: make(chan []float32, 16)}

	host, err := portaudio.DefaultHostApi()
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("audiotap: default host api: %w", err)
	}
	params := portaudio.HighLatencyParameters(host.DefaultInputDevice, nil)
	params.Input.Channels = channels
	params.SampleRate = float64(rate)

	stream, err := portaudio.OpenStream(params, m.callback)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("audiotap: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("audiotap: start stream: %w", err)
	}
	m.stream = stream
	return m, nil
}

func (m *Microphone) callback(in []float32) {
	cp := make([]float32, len(in))
	copy(cp, in)
	select {
	case m.samples <- cp:
	default:
		// Consumer fell behind; drop this chunk rather than block the
		// audio callback thread.
	}
}

func (m *Microphone) SampleRate() int { return m.rate }
func (m *Microphone) Channels() int   { return m.channels }

// Read fills buf from the device's callback channel, blocking until
// enough buffered chunks accumulate.
func (m *Microphone) Read(buf []float32) {
	n := 0
	for n < len(buf) {
		if len(m.pending) == 0 {
			m.pending = <-m.samples
		}
		copied := copy(buf[n:], m.pending)
		m.pending = m.pending[copied:]
		n += copied
	}
}

// Close stops the stream and releases portaudio.
func (m *Microphone) Close() error {
	if m.stream == nil {
		return nil
	}
	if err := m.stream.Close(); err != nil {
		portaudio.Terminate()
		return err
	}
	return portaudio.Terminate()
}
