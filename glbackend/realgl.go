package glbackend

import (
	"fmt"
	"reflect"
	"unsafe"

	gl "github.com/go-gl/gl/v4.1-core/gl"

	"github.com/lano1100/glcapture/graphics"
)

// RealContext is the go-gl-backed Context implementation: an actual
// window plus the PBO async-readback sequence from offscreen.go,
// generalized to arbitrary capture geometry and both BGR/BGRA
// formats.
type RealContext struct {
	window graphics.Context
}

// NewRealContext wraps an already-current GL window/context.
func NewRealContext(window graphics.Context) *RealContext {
	return &RealContext{window: window}
}

func (c *RealContext) FramebufferSize() (int, int) {
	return c.window.GetFramebufferSize()
}

func (c *RealContext) PackAlignment() int {
	var v int32
	gl.GetIntegerv(gl.PACK_ALIGNMENT, &v)
	if v == 0 {
		return 4
	}
	return int(v)
}

func (c *RealContext) GenBuffer() uint32 {
	var buf uint32
	gl.GenBuffers(1, &buf)
	return buf
}

func (c *RealContext) DeleteBuffer(buf uint32) {
	gl.DeleteBuffers(1, &buf)
}

func glFormat(format PixelFormat) uint32 {
	if format == FormatBGRA {
		return gl.BGRA
	}
	return gl.BGR
}

func (c *RealContext) ReadPixelsAsync(buf uint32, x, y, w, h int, format PixelFormat) {
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, buf)
	gl.ReadPixels(int32(x), int32(y), int32(w), int32(h), glFormat(format), gl.UNSIGNED_BYTE, nil)
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, 0)
}

func (c *RealContext) MapRead(buf uint32, size int) ([]byte, error) {
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, buf)
	ptr := gl.MapBufferRange(gl.PIXEL_PACK_BUFFER, 0, size, gl.MAP_READ_BIT)
	if ptr == nil {
		gl.BindBuffer(gl.PIXEL_PACK_BUFFER, 0)
		return nil, fmt.Errorf("glbackend: MapBufferRange failed: %w", ErrNotMapped)
	}

	var data []byte
	header := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	header.Data = uintptr(ptr)
	header.Len = size
	header.Cap = size
	return data, nil
}

func (c *RealContext) Unmap(buf uint32) {
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, buf)
	gl.UnmapBuffer(gl.PIXEL_PACK_BUFFER)
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, 0)
}

func (c *RealContext) ReadPixels(dst []byte, x, y, w, h int, format PixelFormat) {
	gl.ReadPixels(int32(x), int32(y), int32(w), int32(h), glFormat(format), gl.UNSIGNED_BYTE, unsafe.Pointer(&dst[0]))
}

func (c *RealContext) SetPackAlignment(align int) {
	gl.PixelStorei(gl.PACK_ALIGNMENT, int32(align))
}

func (c *RealContext) SetReadBuffer(front bool) {
	if front {
		gl.ReadBuffer(gl.FRONT)
	} else {
		gl.ReadBuffer(gl.BACK)
	}
}
