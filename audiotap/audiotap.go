// Package audiotap is a synthetic producer for the audio side of the
// shared message bus. It is not a capture subsystem: audio is in
// scope only because AUDIO_FORMAT/AUDIO_DATA share the wire with the
// video messages the rest of this module processes. audiotap exists
// so tracker's audio-format replay and info's audio tallies have a
// real, deterministic source to exercise in tests, in the spirit of
// driving a spectrum view from a rolling history buffer instead of
// reading a live device directly.
package audiotap

import (
	"errors"
	"math"
	"sync"
	"time"

	fft "github.com/mjibson/go-dsp/fft"

	"github.com/lano1100/glcapture/glcmsg"
	"github.com/lano1100/glcapture/stream"
)

// ErrClosed is returned by Run if the tap was already closed.
var ErrClosed = errors.New("audiotap: closed")

// Source produces audio samples; Tap owns pacing and bus publication.
// A synthetic Oscillator satisfies it without any device or driver;
// Microphone satisfies it against a real portaudio input stream.
type Source interface {
	// Read fills buf with the next len(buf) interleaved samples.
	Read(buf []float32)
	SampleRate() int
	Channels() int
}

// Oscillator is a Source generating the mean of one or more sine
// tones (so samples stay within [-1, 1]), standing in for a live device when none is available or a test needs a
// deterministic signal.
type Oscillator struct {
	rate, channels int
	freqsHz        []float64
	t              float64
}

// NewOscillator builds a Source at the given sample rate and channel
// count, averaging one sine wave per entry in freqsHz.
func NewOscillator(rate, channels int, freqsHz ...float64) *Oscillator {
	if len(freqsHz) == 0 {
		freqsHz = []float64{440}
	}
	return &Oscillator{rate: rate, channels: channels, freqsHz: freqsHz}
}

func (o *Oscillator) SampleRate() int { return o.rate }
func (o *Oscillator) Channels() int   { return o.channels }

func (o *Oscillator) Read(buf []float32) {
	frames := len(buf) / o.channels
	dt := 1.0 / float64(o.rate)
	for i := 0; i < frames; i++ {
		var v float64
		for _, f := range o.freqsHz {
			v += math.Sin(2 * math.Pi * f * o.t)
		}
		v /= float64(len(o.freqsHz))
		sample := float32(v)
		for c := 0; c < o.channels; c++ {
			buf[i*o.channels+c] = sample
		}
		o.t += dt
	}
}

// Tap paces a Source into AUDIO_FORMAT/AUDIO_DATA packets on a
// stream.Buffer, maintaining a rolling history buffer and an
// FFT-derived levels field computed from it on demand rather than
// per tick, since nothing downstream of this bus consumes a texture.
type Tap struct {
	src      Source
	out      *stream.Buffer
	streamID uint32

	frameSamples int // samples-per-channel published per AUDIO_DATA
	fftSize      int // samples-per-channel used for the levels field

	mu      sync.Mutex
	history []float32
	pos     int

	closed bool
}

// New creates a Tap publishing streamID's AUDIO_FORMAT once and then
// AUDIO_DATA packets of frameSamples frames each, every call to Run's
// pacing tick. fftSize rounds up to the next power of two internally,
// matching go-dsp/fft.FFTReal's expectations for a clean spectrum.
func New(src Source, out *stream.Buffer, streamID uint32, frameSamples, fftSize int) *Tap {
	return &Tap{
		src:          src,
		out:          out,
		streamID:     streamID,
		frameSamples: frameSamples,
		fftSize:      nextPow2(fftSize),
		history:      make([]float32, nextPow2(fftSize)*src.Channels()),
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	return p
}

// PublishFormat writes the AUDIO_FORMAT message once, ahead of any
// AUDIO_DATA.
func (t *Tap) PublishFormat() error {
	msg := glcmsg.AudioFormatMessage{
		StreamID: t.streamID,
		Flags:    glcmsg.Interleaved,
		Format:   glcmsg.S16LE,
		Rate:     uint32(t.src.SampleRate()),
		Channels: uint32(t.src.Channels()),
	}
	return t.out.Write(glcmsg.Header{Type: glcmsg.AudioFormat}, msg.Encode(), false)
}

// Tick pulls one frameSamples-sized block from the source, folds it
// into the rolling history buffer, and publishes it as AUDIO_DATA.
// now is the caller's monotonic nanosecond clock, stamped into the
// packet header the same way capture.Frame never reads a clock
// itself.
func (t *Tap) Tick(now int64) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	channels := t.src.Channels()
	block := make([]float32, t.frameSamples*channels)
	t.src.Read(block)

	for _, s := range block {
		t.history[t.pos] = s
		t.pos = (t.pos + 1) % len(t.history)
	}
	t.mu.Unlock()

	samples16 := make([]byte, len(block)*2)
	for i, s := range block {
		v := int16(clampSample(s) * math.MaxInt16)
		samples16[2*i] = byte(v)
		samples16[2*i+1] = byte(v >> 8)
	}

	hdr := glcmsg.AudioDataHeader{StreamID: t.streamID, Time: uint64(now), Size: uint64(len(samples16))}
	payload := make([]byte, glcmsg.AudioDataHeaderSize+len(samples16))
	copy(payload, hdr.Encode())
	copy(payload[glcmsg.AudioDataHeaderSize:], samples16)

	return t.out.Write(glcmsg.Header{Type: glcmsg.AudioData}, payload, true)
}

func clampSample(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// Levels returns a coarse per-bucket magnitude spectrum of the most
// recent fftSize samples of channel 0's history. It is computed on
// demand only: AUDIO_DATA packets do not carry it and info does not
// read it. buckets above fftSize/2 are clamped to fftSize/2.
func (t *Tap) Levels(buckets int) []float32 {
	t.mu.Lock()
	channels := t.src.Channels()
	recent := make([]float64, t.fftSize)
	histLen := len(t.history)
	for i := 0; i < t.fftSize; i++ {
		idx := (t.pos - t.fftSize*channels + i*channels + histLen) % histLen
		recent[i] = float64(t.history[idx])
	}
	t.mu.Unlock()

	window := hanningWindow(t.fftSize)
	for i := range recent {
		recent[i] *= window[i]
	}
	spectrum := fft.FFTReal(recent)

	bins := t.fftSize / 2
	if buckets > bins {
		buckets = bins
	}
	levels := make([]float32, buckets)
	binsPerBucket := bins / buckets
	if binsPerBucket < 1 {
		binsPerBucket = 1
	}
	for b := 0; b < buckets; b++ {
		var sum float64
		start := b * binsPerBucket
		end := start + binsPerBucket
		if end > bins {
			end = bins
		}
		for i := start; i < end; i++ {
			mag := math.Hypot(real(spectrum[i]), imag(spectrum[i]))
			sum += mag
		}
		if end > start {
			sum /= float64(end - start)
		}
		levels[b] = float32(sum)
	}
	return levels
}

func hanningWindow(size int) []float64 {
	w := make([]float64, size)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return w
}

// Close marks the tap closed; further Tick calls return ErrClosed.
func (t *Tap) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Run publishes AUDIO_FORMAT followed by one AUDIO_DATA per period
// until ctx-less cancellation via Close or the output buffer itself
// being cancelled. It is a convenience loop for callers that don't
// need Tick's per-call control.
func (t *Tap) Run(period time.Duration) error {
	if err := t.PublishFormat(); err != nil {
		return err
	}
	var elapsed int64
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for range ticker.C {
		elapsed += int64(period)
		if err := t.Tick(elapsed); err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, stream.ErrCancelled) {
				return nil
			}
			if errors.Is(err, stream.ErrBusy) {
				continue
			}
			return err
		}
	}
	return nil
}
