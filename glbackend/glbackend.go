// Package glbackend isolates the small slice of OpenGL entry points
// GL Capture needs — pixel-pack buffer objects and glReadPixels —
// behind an interface, the way graphics.Context in this codebase's
// ancestry isolates window/context management from the renderer.
// Capture drives a Context; it never imports a GL binding directly.
package glbackend

import "errors"

// PixelFormat is the wire pixel layout a ReadPixels call fills.
type PixelFormat int

const (
	FormatBGR PixelFormat = iota
	FormatBGRA
)

// ErrNotMapped is returned by RealContext.MapRead when the buffer
// cannot be mapped for reading.
var ErrNotMapped = errors.New("glbackend: no pixel buffer object mapped")

// Context is the GL surface capture drives: pixel-pack buffer object
// lifecycle, asynchronous readback into the current one, and the
// handful of queries capture needs to size and align its output.
type Context interface {
	// FramebufferSize reports the current drawable's pixel dimensions.
	FramebufferSize() (width, height int)
	// PackAlignment reports GL_PACK_ALIGNMENT (4 or 8, typically).
	PackAlignment() int

	// GenBuffer allocates one pixel-pack buffer object.
	GenBuffer() uint32
	// DeleteBuffer releases a buffer object created by GenBuffer.
	DeleteBuffer(buf uint32)

	// ReadPixelsAsync binds buf as GL_PIXEL_PACK_BUFFER and issues an
	// asynchronous glReadPixels of the given region into it; the
	// transfer completes at some later point, not before return.
	ReadPixelsAsync(buf uint32, x, y, w, h int, format PixelFormat)

	// MapRead maps buf (previously targeted by ReadPixelsAsync) for
	// reading and returns a slice over its contents. The returned
	// slice is only valid until the matching Unmap call.
	MapRead(buf uint32, size int) ([]byte, error)
	// Unmap releases the mapping obtained from MapRead.
	Unmap(buf uint32)

	// ReadPixels performs a synchronous readback of the given region
	// directly into dst, with no pixel-pack buffer involved. This is
	// the default capture path; PBO readback is opt-in.
	ReadPixels(dst []byte, x, y, w, h int, format PixelFormat)
	// SetPackAlignment sets GL_PACK_ALIGNMENT for every subsequent
	// read on this context.
	SetPackAlignment(align int)
	// SetReadBuffer selects the front or back buffer as the source
	// for subsequent reads.
	SetReadBuffer(front bool)
}

// DoubleBuffer drives the one-frame-lagged double-PBO pattern: start
// a readback into whichever PBO is idle, then harvest the PBO that
// was started on the previous call. The first call therefore always
// returns ok=false (there is no previous frame yet).
type DoubleBuffer struct {
	ctx      Context
	pbos     [2]uint32
	active   int
	started  [2]bool
	capacity int
}

// NewDoubleBuffer allocates both pixel-pack buffer objects sized for
// one frame of capacity bytes.
func NewDoubleBuffer(ctx Context, capacity int) *DoubleBuffer {
	d := &DoubleBuffer{ctx: ctx, capacity: capacity}
	d.pbos[0] = ctx.GenBuffer()
	d.pbos[1] = ctx.GenBuffer()
	return d
}

// HasPending reports whether either PBO has an outstanding transfer
// started by Advance, used to refuse turning PBO readback off
// mid-flight.
func (d *DoubleBuffer) HasPending() bool {
	return d.started[0] || d.started[1]
}

// Close releases both buffer objects.
func (d *DoubleBuffer) Close() {
	d.ctx.DeleteBuffer(d.pbos[0])
	d.ctx.DeleteBuffer(d.pbos[1])
}

// Advance starts a readback of the given region into the idle PBO and,
// if the other PBO already has a transfer in flight from a prior
// Advance call, maps and returns its contents. ok is false only on the
// very first call for a given stream, when there is nothing to harvest
// yet.
func (d *DoubleBuffer) Advance(x, y, w, h int, format PixelFormat) (data []byte, ok bool, err error) {
	cur := d.active
	prev := (d.active + 1) % 2

	d.ctx.ReadPixelsAsync(d.pbos[cur], x, y, w, h, format)
	d.started[cur] = true

	d.active = prev

	if !d.started[prev] {
		return nil, false, nil
	}

	mapped, err := d.ctx.MapRead(d.pbos[prev], d.capacity)
	if err != nil {
		return nil, false, err
	}
	out := make([]byte, len(mapped))
	copy(out, mapped)
	d.ctx.Unmap(d.pbos[prev])

	return out, true, nil
}
