package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/lano1100/glcapture/glbackend"
	"github.com/lano1100/glcapture/glcmsg"
	"github.com/lano1100/glcapture/stream"
)

func newTestCapture(t *testing.T, fbW, fbH int) (*Capture, *glbackend.FakeContext, *stream.Buffer) {
	t.Helper()
	ctx := glbackend.NewFakeContext(fbW, fbH)
	buf := stream.NewBuffer(8)
	c, err := New(ctx, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.SetBuffer(buf); err != nil {
		t.Fatalf("SetBuffer: %v", err)
	}
	if err := c.SetPixelFormat(glcmsg.BGR); err != nil {
		t.Fatalf("SetPixelFormat: %v", err)
	}
	c.SetFPS(30)
	return c, ctx, buf
}

func TestFirstFrameEmitsFormatThenFrame(t *testing.T) {
	c, _, buf := newTestCapture(t, 4, 4)
	key := Key{Display: ":0", Drawable: 1}

	// The default readback path is synchronous, so the very first
	// call both opens the stream and publishes a frame — no PBO
	// warm-up lag.
	if err := c.Frame(key, 0); err != nil {
		t.Fatalf("Frame: %v", err)
	}

	p, err := buf.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if p.Header.Type != glcmsg.VideoFormat {
		t.Fatalf("first message type = %v, want VIDEO_FORMAT", p.Header.Type)
	}

	p, err = buf.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if p.Header.Type != glcmsg.VideoFrame {
		t.Fatalf("second message type = %v, want VIDEO_FRAME", p.Header.Type)
	}

	stats := c.Stats()
	if len(stats) != 1 || stats[0].NumCapturedFrames != 1 {
		t.Errorf("stats = %+v, want NumCapturedFrames=1 (synchronous path has no warm-up)", stats)
	}
}

func TestSecondFrameEmitsVideoFrame(t *testing.T) {
	c, _, buf := newTestCapture(t, 4, 4)
	key := Key{Display: ":0", Drawable: 1}

	period := c.fpsPeriod

	if err := c.Frame(key, 0); err != nil {
		t.Fatalf("Frame 1: %v", err)
	}
	if err := c.Frame(key, period); err != nil {
		t.Fatalf("Frame 2: %v", err)
	}

	// format + frame from the first call
	if _, err := buf.Read(); err != nil {
		t.Fatalf("Read format: %v", err)
	}
	if _, err := buf.Read(); err != nil {
		t.Fatalf("Read frame 1: %v", err)
	}
	p, err := buf.Read()
	if err != nil {
		t.Fatalf("Read frame 2: %v", err)
	}
	if p.Header.Type != glcmsg.VideoFrame {
		t.Fatalf("third message type = %v, want VIDEO_FRAME", p.Header.Type)
	}
	wantLen := glcmsg.VideoFrameHeaderSize + 4*4*3
	if len(p.Data) != wantLen {
		t.Errorf("len(payload) = %d, want %d", len(p.Data), wantLen)
	}
}

func TestPBOFirstAdvanceHasNoFrameYet(t *testing.T) {
	c, _, buf := newTestCapture(t, 4, 4)
	if err := c.TryPBO(true); err != nil {
		t.Fatalf("TryPBO: %v", err)
	}
	key := Key{Display: ":0", Drawable: 1}

	if err := c.Frame(key, 0); err != nil {
		t.Fatalf("Frame: %v", err)
	}

	p, err := buf.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if p.Header.Type != glcmsg.VideoFormat {
		t.Fatalf("message type = %v, want VIDEO_FORMAT", p.Header.Type)
	}

	stats := c.Stats()
	if len(stats) != 1 || stats[0].NumCapturedFrames != 0 {
		t.Errorf("stats = %+v, want NumCapturedFrames=0 (PBO still warming up)", stats)
	}
}

func TestPBOSecondFrameHarvestsFirst(t *testing.T) {
	c, _, buf := newTestCapture(t, 4, 4)
	if err := c.TryPBO(true); err != nil {
		t.Fatalf("TryPBO: %v", err)
	}
	key := Key{Display: ":0", Drawable: 1}

	period := c.fpsPeriod
	if err := c.Frame(key, 0); err != nil {
		t.Fatalf("Frame 1: %v", err)
	}
	if err := c.Frame(key, period); err != nil {
		t.Fatalf("Frame 2: %v", err)
	}

	if _, err := buf.Read(); err != nil { // format
		t.Fatalf("Read format: %v", err)
	}
	p, err := buf.Read()
	if err != nil {
		t.Fatalf("Read frame: %v", err)
	}
	if p.Header.Type != glcmsg.VideoFrame {
		t.Fatalf("second message type = %v, want VIDEO_FRAME", p.Header.Type)
	}
}

func TestTryPBORevokeFailsWhilePending(t *testing.T) {
	c, _, _ := newTestCapture(t, 4, 4)
	if err := c.TryPBO(true); err != nil {
		t.Fatalf("TryPBO(true): %v", err)
	}
	key := Key{Display: ":0", Drawable: 1}
	if err := c.Frame(key, 0); err != nil {
		t.Fatalf("Frame: %v", err)
	}

	if err := c.TryPBO(false); !errors.Is(err, ErrAgain) {
		t.Errorf("TryPBO(false) while pending = %v, want ErrAgain", err)
	}
}

func TestSetBufferFailsWhenAlreadyBound(t *testing.T) {
	ctx := glbackend.NewFakeContext(2, 2)
	c, err := New(ctx, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.SetBuffer(stream.NewBuffer(1)); err != nil {
		t.Fatalf("first SetBuffer: %v", err)
	}
	if err := c.SetBuffer(stream.NewBuffer(1)); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("second SetBuffer = %v, want ErrAlreadyBound", err)
	}
}

func TestFrameWithoutBoundBufferErrors(t *testing.T) {
	ctx := glbackend.NewFakeContext(2, 2)
	c, err := New(ctx, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Frame(Key{Display: ":0", Drawable: 1}, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Frame without SetBuffer = %v, want ErrInvalidArgument", err)
	}
}

func TestSetPackAlignmentValidatesValue(t *testing.T) {
	c, _, _ := newTestCapture(t, 2, 2)
	if err := c.SetPackAlignment(1); err != nil {
		t.Errorf("SetPackAlignment(1) = %v, want nil", err)
	}
	if err := c.SetPackAlignment(8); err != nil {
		t.Errorf("SetPackAlignment(8) = %v, want nil", err)
	}
	if err := c.SetPackAlignment(2); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetPackAlignment(2) = %v, want ErrInvalidArgument", err)
	}
}

func TestSetReadBufferValidatesValue(t *testing.T) {
	c, _, _ := newTestCapture(t, 2, 2)
	if err := c.SetReadBuffer(ReadBack); err != nil {
		t.Errorf("SetReadBuffer(ReadBack) = %v, want nil", err)
	}
	if err := c.SetReadBuffer(ReadBuffer(99)); !errors.Is(err, ErrUnsupported) {
		t.Errorf("SetReadBuffer(99) = %v, want ErrUnsupported", err)
	}
}

func TestSetPixelFormatValidatesValue(t *testing.T) {
	c, _, _ := newTestCapture(t, 2, 2)
	if err := c.SetPixelFormat(glcmsg.BGRA); err != nil {
		t.Errorf("SetPixelFormat(BGRA) = %v, want nil", err)
	}
	if err := c.SetPixelFormat(glcmsg.YCbCr420JPEG); !errors.Is(err, ErrUnsupported) {
		t.Errorf("SetPixelFormat(YCbCr420JPEG) = %v, want ErrUnsupported", err)
	}
}

func TestBGRACaptureReachesExpectedPayloadSize(t *testing.T) {
	c, _, buf := newTestCapture(t, 2, 2)
	if err := c.SetPixelFormat(glcmsg.BGRA); err != nil {
		t.Fatalf("SetPixelFormat: %v", err)
	}
	key := Key{Display: ":0", Drawable: 1}

	if err := c.Frame(key, 0); err != nil {
		t.Fatalf("Frame: %v", err)
	}

	if _, err := buf.Read(); err != nil { // format
		t.Fatalf("Read format: %v", err)
	}
	p, err := buf.Read()
	if err != nil {
		t.Fatalf("Read frame: %v", err)
	}
	wantLen := glcmsg.VideoFrameHeaderSize + 2*2*4
	if len(p.Data) != wantLen {
		t.Errorf("len(payload) = %d, want %d (BGRA, 4 bytes/pixel)", len(p.Data), wantLen)
	}
}

func TestPacingDropsEarlyCalls(t *testing.T) {
	c, _, buf := newTestCapture(t, 2, 2)
	key := Key{Display: ":0", Drawable: 1}

	if err := c.Frame(key, 0); err != nil {
		t.Fatalf("Frame 1: %v", err)
	}
	// Called again immediately, well before the next period: should be
	// a no-op (no new messages queued).
	if err := c.Frame(key, 1); err != nil {
		t.Fatalf("Frame 2: %v", err)
	}

	if _, err := buf.Read(); err != nil { // format
		t.Fatalf("Read format: %v", err)
	}
	if _, err := buf.Read(); err != nil { // frame from call 1
		t.Fatalf("Read frame: %v", err)
	}

	stats := c.Stats()
	if len(stats) != 1 || stats[0].NumFrames != 1 {
		t.Errorf("stats = %+v, want NumFrames=1 (second call paced out)", stats)
	}
}

func TestBusyOutputDropsFrameNotFatal(t *testing.T) {
	ctx := glbackend.NewFakeContext(2, 2)
	buf := stream.NewBuffer(1)
	c, err := New(ctx, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.SetBuffer(buf); err != nil {
		t.Fatalf("SetBuffer: %v", err)
	}
	c.SetFPS(30)
	key := Key{Display: ":0", Drawable: 1}

	// First call fills the only buffer slot with VIDEO_FORMAT; the
	// VIDEO_FRAME it also tries to publish this call is dropped.
	if err := c.Frame(key, 0); err != nil {
		t.Fatalf("Frame 1: %v", err)
	}

	stats := c.Stats()
	if len(stats) != 1 {
		t.Fatalf("len(stats) = %d, want 1", len(stats))
	}
	if stats[0].NumDroppedFrames != 1 {
		t.Errorf("NumDroppedFrames = %d, want 1", stats[0].NumDroppedFrames)
	}
}

func TestAttributeWindowOverridesGeometry(t *testing.T) {
	c, _, buf := newTestCapture(t, 10, 10)
	key := Key{Display: ":0", Drawable: 1}
	c.SetAttributeWindow(key, 1, 1, 3, 3)

	if err := c.Frame(key, 0); err != nil {
		t.Fatalf("Frame: %v", err)
	}
	p, err := buf.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	msg, err := glcmsg.DecodeVideoFormatMessage(p.Data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Width != 3 || msg.Height != 3 {
		t.Errorf("format size = %dx%d, want 3x3 (attribute window)", msg.Width, msg.Height)
	}
}

func TestCloseCancelsOutput(t *testing.T) {
	c, _, buf := newTestCapture(t, 2, 2)
	c.Close()
	if _, err := buf.Read(); !errors.Is(err, stream.ErrCancelled) {
		t.Errorf("Read after Close = %v, want ErrCancelled", err)
	}
}

func TestFrameIsNoOpAfterStopUntilStart(t *testing.T) {
	c, _, buf := newTestCapture(t, 2, 2)
	key := Key{Display: ":0", Drawable: 1}

	c.Stop()
	if err := c.Frame(key, 0); err != nil {
		t.Fatalf("Frame: %v", err)
	}

	stats := c.Stats()
	if len(stats) != 0 {
		t.Errorf("stats after Frame while stopped = %+v, want no streams created", stats)
	}

	c.Start()
	if err := c.Frame(key, 0); err != nil {
		t.Fatalf("Frame after Start: %v", err)
	}
	if _, err := buf.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
}

func TestStopDrainsInFlightCaptureAndResetsPacing(t *testing.T) {
	c, _, _ := newTestCapture(t, 2, 2)
	key := Key{Display: ":0", Drawable: 1}

	// Open the stream so it has pacing state to reset.
	if err := c.Frame(key, 5000); err != nil {
		t.Fatalf("Frame: %v", err)
	}

	s := c.streamFor(key)
	s.capturing.Store(true) // simulate a capture still in flight

	released := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(released)
		s.capturing.Store(false)
	}()

	c.Stop()

	select {
	case <-released:
	default:
		t.Fatal("Stop returned before the in-flight capture released its bit")
	}

	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last != 0 {
		t.Errorf("last_publish_time after Stop = %d, want 0", last)
	}
}
