// Package capture is the GL frame producer: for every tracked
// drawable it paces output to a target fps using exact rational
// arithmetic, reads pixels back (synchronously by default, or through
// a one-frame-lagged PBO double buffer when opted in), and publishes
// VIDEO_FORMAT/COLOR/VIDEO_FRAME messages onto a stream.Buffer. It is
// the direct Go analogue of gl_capture_frame's per-stream hot path.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lano1100/glcapture/displaygamma"
	"github.com/lano1100/glcapture/glbackend"
	"github.com/lano1100/glcapture/glcmsg"
	"github.com/lano1100/glcapture/rational"
	"github.com/lano1100/glcapture/stream"
)

// Sentinel errors for Capture's setter surface, checked with errors.Is.
var (
	// ErrAlreadyBound is returned by SetBuffer when a downstream
	// buffer is already bound.
	ErrAlreadyBound = errors.New("capture: downstream buffer already bound")
	// ErrInvalidArgument is returned by a setter given a value outside
	// its valid range.
	ErrInvalidArgument = errors.New("capture: invalid argument")
	// ErrUnsupported is returned by a setter given a value it
	// recognizes but does not support.
	ErrUnsupported = errors.New("capture: unsupported option")
	// ErrAgain is returned by TryPBO(false) when a PBO transfer is
	// still in flight for some stream. Each Frame call on a PBO stream
	// harvests the previous transfer and starts the next one, so a
	// stream that has started PBO readback always has one in flight.
	ErrAgain = errors.New("capture: try again")
)

// ErrBusy re-exports stream's try-open busy sentinel: Frame's
// buffer-full frame drops and Capture's setter surface share the same
// error taxonomy.
var ErrBusy = stream.ErrBusy

// ReadBuffer selects which of the host's buffers a synchronous or PBO
// readback samples from.
type ReadBuffer int

const (
	ReadFront ReadBuffer = iota
	ReadBack
)

// Key identifies one capturable drawable: the display connection name
// plus a drawable handle, mirroring gl_capture's (dpy, drawable) pair.
type Key struct {
	Display  string
	Drawable uint32
}

// Stream is one drawable's accumulated capture state.
type Stream struct {
	id  uint32
	key Key

	capturing atomic.Bool

	mu           sync.Mutex
	format       glcmsg.VideoFormatMessage
	color        glcmsg.ColorMessage
	haveFormat   bool
	needsColor   bool
	last         int64
	frameCount   int64
	w, h         uint32 // captured (possibly cropped) geometry
	attrX, attrY int
	attrW, attrH int
	useAttr      bool

	usePBO  bool
	pbo     *glbackend.DoubleBuffer
	pboTime int64 // now of the call that started the transfer harvested next

	// Perf/diagnostic fields: num_frames vs num_captured_frames stay
	// distinct tallies, plus per-stream perf stats.
	gatherStats       bool
	numFrames         uint64
	numCapturedFrames uint64
	numDroppedFrames  uint64
	captureTimeNanos  int64
}

// StreamStats is the perf summary gl_capture_destroy used to log at
// GLC_PERF for each stream as it was torn down.
type StreamStats struct {
	Key               Key
	NumFrames         uint64
	NumCapturedFrames uint64
	NumDroppedFrames  uint64
	CaptureTimeNanos  int64
}

// Capture is the component: one instance per recording session,
// tracking every drawable it has been asked to capture.
type Capture struct {
	mu      sync.Mutex
	streams map[Key]*Stream
	nextID  uint32

	ctx   glbackend.Context
	gamma *displaygamma.Query
	out   *stream.Buffer
	log   *zap.Logger

	running atomic.Bool

	fpsPeriod, fpsRem, fpsRemPeriod int64

	tryPBO        bool
	pixelFormat   glcmsg.PixelFormat
	packAlignment int
	readBuffer    ReadBuffer
	drawIndicator bool

	// LockFPS makes the packet-buffer open call block rather than try;
	// IgnoreTime skips the pacing check entirely and captures every
	// call.
	LockFPS    bool
	IgnoreTime bool

	DwordAligned bool
	GatherStats  bool

	CropX, CropY, CropWidth, CropHeight int

	// Clock measures wall time spent in the pixel readback (synchronous
	// or PBO) when GatherStats is set; defaults to time.Now in New.
	Clock func() time.Time
}

// New creates a Capture reading pixels through ctx. gamma may be nil
// to disable COLOR message updates. The component starts running
// (Start need not be called before the first Frame) and publishes
// synchronous BGR reads from the front buffer until reconfigured. A
// downstream buffer must still be bound with SetBuffer before Frame
// will publish anything.
func New(ctx glbackend.Context, logger *zap.Logger, gamma *displaygamma.Query) (*Capture, error) {
	if ctx == nil {
		return nil, errors.New("capture: nil Context")
	}
	c := &Capture{
		streams:       make(map[Key]*Stream),
		ctx:           ctx,
		gamma:         gamma,
		Clock:         time.Now,
		log:           logger,
		pixelFormat:   glcmsg.BGR,
		packAlignment: 4,
		readBuffer:    ReadFront,
	}
	c.running.Store(true)
	c.SetFPS(30)
	return c, nil
}

// SetBuffer binds the downstream packet buffer Frame publishes to.
// Fails with ErrAlreadyBound if a buffer is already bound, or
// ErrInvalidArgument if out is nil.
func (c *Capture) SetBuffer(out *stream.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if out == nil {
		return ErrInvalidArgument
	}
	if c.out != nil {
		return ErrAlreadyBound
	}
	c.out = out
	return nil
}

// SetReadBuffer selects the front or back buffer as the readback
// source. Any other value fails with ErrUnsupported.
func (c *Capture) SetReadBuffer(rb ReadBuffer) error {
	if rb != ReadFront && rb != ReadBack {
		return ErrUnsupported
	}
	c.mu.Lock()
	c.readBuffer = rb
	c.mu.Unlock()
	c.ctx.SetReadBuffer(rb == ReadFront)
	return nil
}

// SetPackAlignment sets GL_PACK_ALIGNMENT for subsequent reads; only
// 1 and 8 are valid, matching the host's two realistic byte-packing
// choices. Anything else fails with ErrInvalidArgument.
func (c *Capture) SetPackAlignment(align int) error {
	if align != 1 && align != 8 {
		return ErrInvalidArgument
	}
	c.mu.Lock()
	c.packAlignment = align
	c.mu.Unlock()
	c.ctx.SetPackAlignment(align)
	return nil
}

// SetPixelFormat selects the output pixel layout Frame publishes.
// Anything but BGR/BGRA fails with ErrUnsupported.
func (c *Capture) SetPixelFormat(format glcmsg.PixelFormat) error {
	if format != glcmsg.BGR && format != glcmsg.BGRA {
		return ErrUnsupported
	}
	c.mu.Lock()
	c.pixelFormat = format
	c.mu.Unlock()
	return nil
}

// TryPBO requests (or revokes) asynchronous PBO readback for streams
// opened from here on; a stream already using a mode keeps it until
// its next geometry change. Revoking while any stream has a transfer
// in flight fails with ErrAgain; another Frame call does not clear
// this, since it starts a new transfer as it harvests the old one.
func (c *Capture) TryPBO(enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !enable && c.tryPBO {
		for _, s := range c.streams {
			if s.pbo != nil && s.pbo.HasPending() {
				return ErrAgain
			}
		}
	}
	c.tryPBO = enable
	return nil
}

// DrawIndicator toggles a logged confirmation that a frame was
// captured. The core-profile GL binding this module uses has no
// display-list/immediate-mode path for an on-screen overlay, so the
// indicator is a debug log line rather than an actual draw.
func (c *Capture) DrawIndicator(enable bool) {
	c.mu.Lock()
	c.drawIndicator = enable
	c.mu.Unlock()
}

// RefreshColorCorrection marks every known stream stale: the next
// Frame call for each will re-query gamma and publish a fresh COLOR
// message if it differs from the cached triplet.
func (c *Capture) RefreshColorCorrection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.streams {
		s.mu.Lock()
		s.needsColor = true
		s.mu.Unlock()
	}
}

// Start resumes capture: subsequent Frame calls run the hot path
// again. Capture starts running already, so Start is only needed
// after a Stop.
func (c *Capture) Start() {
	c.running.Store(true)
}

// Stop halts capture: Frame becomes a no-op for every stream as soon
// as this call observes it. Stop blocks (busy-polling at roughly 1ms
// granularity) until every stream's CAPTURING bit clears, then resets
// every stream's pacing clock to 0 so the next Start begins publishing
// immediately rather than waiting out the last period.
func (c *Capture) Stop() {
	c.running.Store(false)

	for {
		busy := false
		c.mu.Lock()
		for _, s := range c.streams {
			if s.capturing.Load() {
				busy = true
				break
			}
		}
		c.mu.Unlock()
		if !busy {
			break
		}
		time.Sleep(time.Millisecond)
	}

	c.mu.Lock()
	for _, s := range c.streams {
		s.mu.Lock()
		s.last = 0
		s.mu.Unlock()
	}
	c.mu.Unlock()
}

// SetFPS recomputes the rational frame period shared by every stream,
// exactly as gl_capture_set_fps derives fps_period/fps_rem/fps_rem_period.
func (c *Capture) SetFPS(fps float64) {
	period, rem, remPeriod := rational.FPSPeriod(fps)
	c.mu.Lock()
	c.fpsPeriod, c.fpsRem, c.fpsRemPeriod = period, rem, remPeriod
	c.mu.Unlock()
}

func (c *Capture) streamFor(key Key) *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[key]
	if !ok {
		c.nextID++
		s = &Stream{id: c.nextID, key: key, gatherStats: c.GatherStats}
		c.streams[key] = s
	}
	return s
}

// SetAttributeWindow redirects a stream's capture region to a
// sub-rectangle of the drawable instead of its full framebuffer —
// the supplemented attribute-window feature from gl_capture_set_attribute_window.
func (c *Capture) SetAttributeWindow(key Key, x, y, w, h int) {
	s := c.streamFor(key)
	s.mu.Lock()
	s.attrX, s.attrY, s.attrW, s.attrH = x, y, w, h
	s.useAttr = true
	s.mu.Unlock()
}

func (s *Stream) geometry(fbW, fbH int, crop image4) (x, y, w, h int) {
	if s.useAttr {
		return s.attrX, s.attrY, s.attrW, s.attrH
	}
	x, y, w, h = 0, 0, fbW, fbH
	if crop.w > 0 {
		w = crop.w
	}
	if crop.h > 0 {
		h = crop.h
	}
	x, y = crop.x, crop.y
	return x, y, w, h
}

type image4 struct{ x, y, w, h int }

// Frame is the hot path, called once per rendered frame for key. now
// is a monotonic nanosecond timestamp (the caller's clock — capture
// never reads the clock itself so pacing is fully testable).
func (c *Capture) Frame(key Key, now int64) error {
	if !c.running.Load() {
		return nil
	}

	s := c.streamFor(key)

	if !s.capturing.CompareAndSwap(false, true) {
		// A capture for this drawable is already in flight: skip
		// silently rather than error.
		return nil
	}
	defer s.capturing.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !c.IgnoreTime && now < s.last {
		return nil
	}
	if s.last != 0 && now-s.last > 8*c.fpsPeriod && c.log != nil {
		c.log.Warn("capture: scheduling gap", zap.Uint32("stream_id", s.id), zap.Int64("gap_ns", now-s.last))
	}

	c.mu.Lock()
	out := c.out
	format := c.pixelFormat
	usePBO := c.tryPBO
	c.mu.Unlock()
	if out == nil {
		return fmt.Errorf("capture: stream %d: %w: no downstream buffer bound", s.id, ErrInvalidArgument)
	}
	// fatal stops the component and cancels the downstream buffer,
	// waking every blocked reader, before returning err.
	fatal := func(err error) error {
		c.running.Store(false)
		out.Cancel()
		return err
	}

	fbW, fbH := c.ctx.FramebufferSize()
	x, y, w, h := s.geometry(fbW, fbH, image4{c.CropX, c.CropY, c.CropWidth, c.CropHeight})
	if w <= 0 || h <= 0 {
		return fmt.Errorf("capture: stream %d has non-positive geometry %dx%d", s.id, w, h)
	}

	bpp := format.BytesPerPixel()
	glFormat := glbackend.FormatBGR
	if format == glcmsg.BGRA {
		glFormat = glbackend.FormatBGRA
	}

	geometryChanged := !s.haveFormat || uint32(w) != s.w || uint32(h) != s.h
	if geometryChanged {
		s.w, s.h = uint32(w), uint32(h)
		s.usePBO = usePBO
		if s.pbo != nil {
			s.pbo.Close()
			s.pbo = nil
		}
		if s.usePBO {
			s.pbo = glbackend.NewDoubleBuffer(c.ctx, w*h*bpp)
		}

		flags := glcmsg.VideoFlags(0)
		if c.DwordAligned {
			flags |= glcmsg.DwordAligned
		}
		s.format = glcmsg.VideoFormatMessage{
			StreamID: s.id, Flags: flags, Format: format, Width: s.w, Height: s.h,
		}
		s.haveFormat = true
		if err := out.Write(glcmsg.Header{Type: glcmsg.VideoFormat}, s.format.Encode(), false); err != nil {
			return fatal(fmt.Errorf("capture: publish VIDEO_FORMAT: %w", err))
		}
		s.needsColor = true
	}

	if c.gamma != nil && s.needsColor {
		if r, g, b, gerr := c.gamma.Gamma(0); gerr == nil {
			newColor := glcmsg.ColorMessage{StreamID: s.id, Red: r, Green: g, Blue: b}
			if geometryChanged || newColor != s.color {
				s.color = newColor
				out.Write(glcmsg.Header{Type: glcmsg.Color}, s.color.Encode(), true)
			}
			s.needsColor = false
		}
	}

	var readStart time.Time
	if s.gatherStats {
		readStart = c.Clock()
	}

	var data []byte
	var ok bool
	var err error
	ts := now
	if s.usePBO {
		data, ok, err = s.pbo.Advance(x, y, w, h, glFormat)
		// the one-frame lag inherent to double-buffered async readback:
		// the harvested pixels were requested by the previous call.
		ts = s.pboTime
		s.pboTime = now
	} else {
		data = make([]byte, w*h*bpp)
		c.ctx.ReadPixels(data, x, y, w, h, glFormat)
		ok, err = true, nil
	}
	if err != nil {
		return fatal(fmt.Errorf("capture: stream %d readback: %w", s.id, err))
	}
	if s.gatherStats {
		s.captureTimeNanos += c.Clock().Sub(readStart).Nanoseconds()
	}

	s.numFrames++

	if ok {
		payload := make([]byte, glcmsg.VideoFrameHeaderSize+len(data))
		hdr := glcmsg.VideoFrameHeader{StreamID: s.id, Time: uint64(ts)}
		copy(payload, hdr.Encode())
		copy(payload[glcmsg.VideoFrameHeaderSize:], data)

		writeErr := out.Write(glcmsg.Header{Type: glcmsg.VideoFrame}, payload, !c.LockFPS)
		switch {
		case errors.Is(writeErr, stream.ErrBusy):
			s.numDroppedFrames++
			if c.log != nil {
				c.log.Info("capture: frame dropped, buffer full", zap.Uint32("stream_id", s.id))
			}
		case writeErr != nil:
			return fatal(fmt.Errorf("capture: stream %d publish frame: %w", s.id, writeErr))
		default:
			s.numCapturedFrames++
			if c.drawIndicator && c.log != nil {
				c.log.Debug("capture: indicator", zap.Uint32("stream_id", s.id))
			}
		}
	}

	s.last += c.fpsPeriod
	s.frameCount++
	if c.fpsRemPeriod > 0 && s.frameCount%c.fpsRemPeriod == 0 {
		s.last += c.fpsRem
	}

	return nil
}

// Stats returns the perf summary for every tracked stream, restoring
// gl_capture_destroy's per-stream GLC_PERF log line.
func (c *Capture) Stats() []StreamStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StreamStats, 0, len(c.streams))
	for _, s := range c.streams {
		s.mu.Lock()
		out = append(out, StreamStats{
			Key:               s.key,
			NumFrames:         s.numFrames,
			NumCapturedFrames: s.numCapturedFrames,
			NumDroppedFrames:  s.numDroppedFrames,
			CaptureTimeNanos:  s.captureTimeNanos,
		})
		s.mu.Unlock()
	}
	return out
}

// Close releases every stream's PBO double buffer and logs final perf
// stats at GLC_PERF verbosity, then cancels the output buffer.
func (c *Capture) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, s := range c.streams {
		s.mu.Lock()
		if s.pbo != nil {
			s.pbo.Close()
		}
		if c.log != nil {
			c.log.Info("capture: stream perf",
				zap.String("display", key.Display), zap.Uint32("drawable", key.Drawable),
				zap.Uint64("frames", s.numFrames),
				zap.Uint64("captured", s.numCapturedFrames),
				zap.Uint64("dropped", s.numDroppedFrames),
				zap.Int64("capture_time_ns", s.captureTimeNanos))
		}
		s.mu.Unlock()
	}
	if c.out != nil {
		c.out.Cancel()
	}
}
