package glbackend

import "errors"

// FakeContext is an in-memory Context double: ReadPixelsAsync copies
// from a caller-supplied framebuffer immediately (there is no real
// asynchrony to simulate), so the one-frame lag in DoubleBuffer comes
// entirely from DoubleBuffer's own bookkeeping, not from this fake.
// It exists so capture's geometry, pacing and PBO-harvest logic can
// be exercised without a live GL context.
type FakeContext struct {
	Width, Height int
	Align         int
	ReadFront     bool   // which buffer SetReadBuffer last selected
	Framebuffer   []byte // the "scene" ReadPixelsAsync samples from, BGRA8 laid out row-major

	buffers map[uint32]*fakeBuffer
	nextID  uint32
}

type fakeBuffer struct {
	data   []byte
	mapped bool
}

// NewFakeContext creates a fake sized w x h with a black framebuffer.
func NewFakeContext(w, h int) *FakeContext {
	return &FakeContext{
		Width: w, Height: h, Align: 4, ReadFront: true,
		Framebuffer: make([]byte, w*h*4),
		buffers:     make(map[uint32]*fakeBuffer),
	}
}

func (f *FakeContext) FramebufferSize() (int, int) { return f.Width, f.Height }
func (f *FakeContext) PackAlignment() int           { return f.Align }

func (f *FakeContext) SetPackAlignment(align int) { f.Align = align }
func (f *FakeContext) SetReadBuffer(front bool)   { f.ReadFront = front }

// sampleRegion copies the x,y,w,h region of Framebuffer into a freshly
// laid out bpp-per-pixel buffer, used by both the synchronous and the
// PBO-backed async read paths so they sample identically.
func (f *FakeContext) sampleRegion(x, y, w, h int, format PixelFormat) []byte {
	bpp := 4
	if format == FormatBGR {
		bpp = 3
	}
	out := make([]byte, w*h*bpp)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			srcX, srcY := x+col, y+row
			srcOff := (srcY*f.Width + srcX) * 4
			dstOff := (row*w + col) * bpp
			if srcOff+4 > len(f.Framebuffer) {
				continue
			}
			copy(out[dstOff:dstOff+bpp], f.Framebuffer[srcOff:srcOff+bpp])
		}
	}
	return out
}

func (f *FakeContext) ReadPixels(dst []byte, x, y, w, h int, format PixelFormat) {
	copy(dst, f.sampleRegion(x, y, w, h, format))
}

func (f *FakeContext) GenBuffer() uint32 {
	f.nextID++
	f.buffers[f.nextID] = &fakeBuffer{}
	return f.nextID
}

func (f *FakeContext) DeleteBuffer(buf uint32) {
	delete(f.buffers, buf)
}

func (f *FakeContext) ReadPixelsAsync(buf uint32, x, y, w, h int, format PixelFormat) {
	b, ok := f.buffers[buf]
	if !ok {
		return
	}
	b.data = f.sampleRegion(x, y, w, h, format)
}

func (f *FakeContext) MapRead(buf uint32, size int) ([]byte, error) {
	b, ok := f.buffers[buf]
	if !ok {
		return nil, errors.New("glbackend: fake: unknown buffer")
	}
	b.mapped = true
	if len(b.data) < size {
		padded := make([]byte, size)
		copy(padded, b.data)
		b.data = padded
	}
	return b.data, nil
}

func (f *FakeContext) Unmap(buf uint32) {
	if b, ok := f.buffers[buf]; ok {
		b.mapped = false
	}
}
