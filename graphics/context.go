package graphics

// Context is the window/GL-context surface glbackend.RealContext sits
// on top of. It says nothing about capture, pixel buffers, or readback;
// those live one layer up, in glbackend. This interface only has to get
// a frame onto the screen and report enough about it (size, timing,
// input) for the capture and rendering loops to drive themselves.
type Context interface {
	MakeCurrent()
	Shutdown()
	ShouldClose() bool
	EndFrame()
	// GetFramebufferSize reports the drawable's current pixel
	// dimensions, which capture polls every frame to detect resizes.
	GetFramebufferSize() (int, int)
	Time() float64
	// GetMouseInput returns the current mouse state: x, y, then 1 or 0
	// for whether the left and the right button are down.
	GetMouseInput() [4]float32
}
