// Package scale is the software rescaler stage: it holds a global
// target scale factor and, per video stream, a processing mode chosen
// from the incoming pixel format and that factor — direct passthrough,
// BGRA-to-BGR channel drop, a 2x2 box-filter fast path at exactly
// half scale, or general bilinear resampling via precomputed
// coefficient maps for every other factor.
package scale

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/lano1100/glcapture/glcmsg"
	"github.com/lano1100/glcapture/stream"
)

// ErrUnsupportedFormat is returned by HandleFormat for any pixel
// format other than BGR/BGRA; the scaler's non-goal is resampling
// anything but those two layouts.
var ErrUnsupportedFormat = errors.New("scale: unsupported pixel format")

// Mode selects which per-frame transform a stream uses, decided once
// per format change from the stream's pixel format and the scaler's
// global factor.
type Mode int

const (
	// ModePassthrough means the frame is forwarded unmodified: input
	// is already BGR and the scale factor is 1.
	ModePassthrough Mode = iota
	// ModeDropAlpha converts BGRA to BGR with no resampling (factor 1).
	ModeDropAlpha
	// ModeBox is the 2x2-average fast path used only at factor 0.5.
	ModeBox
	// ModeBilinear is the general 4-tap weighted resample.
	ModeBilinear
)

func (m Mode) String() string {
	switch m {
	case ModePassthrough:
		return "passthrough"
	case ModeDropAlpha:
		return "drop-alpha"
	case ModeBox:
		return "box"
	case ModeBilinear:
		return "bilinear"
	default:
		return "unknown"
	}
}

// streamState is one video stream's current scaling configuration.
// mu guards every field below it against concurrent ScaleFrame calls
// racing a format change; a read-holder may run frame math in
// parallel with other read-holders, but a format change takes the
// write lock and blocks until in-flight frames finish.
type streamState struct {
	mu sync.RWMutex

	w, h, sw, sh uint32
	bpp          uint32
	row          uint32
	mode         Mode
	process      bool

	pos    []uint32
	factor []float32
}

// Scaler holds per-stream scaling state plus the single global scale
// factor every stream resizes toward (0 < factor <= 1).
type Scaler struct {
	factor float64

	mu      sync.Mutex
	streams map[uint32]*streamState
}

// New creates a Scaler targeting factor (e.g. 0.5 halves both
// dimensions, 1.0 performs no resizing).
func New(factor float64) (*Scaler, error) {
	if factor <= 0 || factor > 1 {
		return nil, fmt.Errorf("scale: factor must be in (0, 1], got %v", factor)
	}
	return &Scaler{factor: factor, streams: make(map[uint32]*streamState)}, nil
}

func (s *Scaler) streamFor(id uint32) *streamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		st = &streamState{}
		s.streams[id] = st
	}
	return st
}

// HandleFormat applies a VIDEO_FORMAT change to the named stream and
// returns the rewritten message to forward downstream: its Width and
// Height reflect the stream's new scaled output size, and its Format
// is always BGR (the scaler's output pixel layout is never anything
// else).
func (s *Scaler) HandleFormat(msg glcmsg.VideoFormatMessage) (glcmsg.VideoFormatMessage, error) {
	if msg.Format != glcmsg.BGR && msg.Format != glcmsg.BGRA {
		return msg, ErrUnsupportedFormat
	}

	st := s.streamFor(msg.StreamID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.w, st.h = msg.Width, msg.Height

	if msg.Format == glcmsg.BGRA {
		st.bpp = 4
	} else if s.factor == 1 {
		// Already BGR and no resize: skip all processing.
		st.sw, st.sh = st.w, st.h
		st.mode = ModePassthrough
		st.process = false
		out := msg
		out.Format = glcmsg.BGR
		return out, nil
	} else {
		st.bpp = 3
	}

	st.process = true
	st.sw = uint32(s.factor * float64(st.w))
	st.sh = uint32(s.factor * float64(st.h))
	st.row = st.w * st.bpp
	if msg.Flags&glcmsg.DwordAligned != 0 && st.row%8 != 0 {
		st.row += 8 - st.row%8
	}

	switch {
	case s.factor == 1:
		st.mode = ModeDropAlpha
		st.pos, st.factor = nil, nil
	case s.factor == 0.5:
		st.mode = ModeBox
		st.pos, st.factor = nil, nil
	default:
		st.mode = ModeBilinear
		st.pos, st.factor = buildCoefficientMaps(st.w, st.h, st.sw, st.sh, st.bpp, st.row)
	}

	out := msg
	out.Format = glcmsg.BGR
	out.Width = st.sw
	out.Height = st.sh
	out.Flags &^= glcmsg.DwordAligned
	return out, nil
}

// buildCoefficientMaps finds the smallest shrink step r for which a
// uniform sample grid of size sw x sh fits entirely inside the w x h
// source, then fills, for every output pixel, the four source byte
// offsets (pos) and bilinear weights (factor) that contribute to it.
// Grounded on scale_ctx_msg's r-search loop and the four-corner
// weight derivation in scale.c.
func buildCoefficientMaps(w, h, sw, sh, bpp, row uint32) ([]uint32, []float32) {
	var d float64
	for r := uint32(0); ; r++ {
		d = float64(w-r) / float64(sw)
		if d*float64(sh-1)+1 <= float64(h) && d*float64(sw-1)+1 <= float64(w) {
			break
		}
	}

	pos := make([]uint32, sw*sh*4)
	factor := make([]float32, sw*sh*4)

	ofy := 0.0
	for y := uint32(0); y < sh; y++ {
		ofx := 0.0
		for x := uint32(0); x < sw; x++ {
			tp := (x + y*sw) * 4

			fx := uint32(ofx)
			fy := uint32(ofy)

			pos[tp+0] = fx*bpp + fy*row
			pos[tp+1] = (fx+1)*bpp + fy*row
			pos[tp+2] = fx*bpp + (fy+1)*row
			pos[tp+3] = (fx+1)*bpp + (fy+1)*row

			fx1 := float32(float64(x)*d - float64(fx))
			fx0 := 1 - fx1
			fy1 := float32(float64(y)*d - float64(fy))
			fy0 := 1 - fy1

			factor[tp+0] = fx0 * fy0
			factor[tp+1] = fx1 * fy0
			factor[tp+2] = fx0 * fy1
			factor[tp+3] = fx1 * fy1

			ofx += d
		}
		ofy += d
	}

	return pos, factor
}

// ScaleFrame applies streamID's current mode to src (one frame's raw
// pixel bytes, stride st.row) and returns a freshly allocated
// destination buffer of size sw*sh*3. If the stream has never seen a
// VIDEO_FORMAT (or is in passthrough mode), src is returned unchanged.
func (s *Scaler) ScaleFrame(streamID uint32, src []byte) ([]byte, error) {
	st := s.streamFor(streamID)
	st.mu.RLock()
	defer st.mu.RUnlock()

	if !st.process {
		return src, nil
	}

	dst := make([]byte, st.sw*st.sh*3)
	switch st.mode {
	case ModeDropAlpha:
		dropAlpha(src, dst, st.sw, st.sh, st.bpp, st.row)
	case ModeBox:
		boxFilter(src, dst, st.sw, st.sh, st.bpp, st.row)
	case ModeBilinear:
		bilinear(src, dst, st.sw, st.sh, st.pos, st.factor)
	default:
		return nil, fmt.Errorf("scale: stream %d has no recognized mode", streamID)
	}
	return dst, nil
}

// dropAlpha strips the alpha channel with no resampling: scale.c's
// "just BGRA -> BGR" path, taken only when the global factor is 1.
func dropAlpha(src, dst []byte, sw, sh, bpp, row uint32) {
	oy := uint32(0)
	for y := uint32(0); y < sh; y++ {
		ox := uint32(0)
		for x := uint32(0); x < sw; x++ {
			tp := (x + y*sw) * 3
			op := ox + oy*row
			dst[tp+0] = src[op+0]
			dst[tp+1] = src[op+1]
			dst[tp+2] = src[op+2]
			ox += bpp
		}
		oy++
	}
}

// boxFilter is the exact-half-scale fast path: each output pixel is
// the integer average of the 2x2 source block beneath it.
func boxFilter(src, dst []byte, sw, sh, bpp, row uint32) {
	oy := uint32(0)
	for y := uint32(0); y < sh; y++ {
		ox := uint32(0)
		for x := uint32(0); x < sw; x++ {
			tp := (x + y*sw) * 3
			op1 := ox + oy*row
			op2 := ox + bpp + oy*row
			op3 := ox + (oy+1)*row
			op4 := ox + bpp + (oy+1)*row

			dst[tp+0] = byte((uint32(src[op1+0]) + uint32(src[op2+0]) + uint32(src[op3+0]) + uint32(src[op4+0])) >> 2)
			dst[tp+1] = byte((uint32(src[op1+1]) + uint32(src[op2+1]) + uint32(src[op3+1]) + uint32(src[op4+1])) >> 2)
			dst[tp+2] = byte((uint32(src[op1+2]) + uint32(src[op2+2]) + uint32(src[op3+2]) + uint32(src[op4+2])) >> 2)

			ox += 2 * bpp
		}
		oy += 2
	}
}

// bilinear is the general resampler: each output pixel is a weighted
// sum of the four source texels named in pos, weighted by factor.
func bilinear(src, dst []byte, sw, sh uint32, pos []uint32, factor []float32) {
	for y := uint32(0); y < sh; y++ {
		for x := uint32(0); x < sw; x++ {
			sp := (x + y*sw) * 4
			tp := (x + y*sw) * 3

			for ch := uint32(0); ch < 3; ch++ {
				v := float32(src[pos[sp+0]+ch])*factor[sp+0] +
					float32(src[pos[sp+1]+ch])*factor[sp+1] +
					float32(src[pos[sp+2]+ch])*factor[sp+2] +
					float32(src[pos[sp+3]+ch])*factor[sp+3]
				dst[tp+ch] = byte(v)
			}
		}
	}
}

// Workers returns the default worker pool size: one goroutine per
// logical CPU.
func Workers() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

// job carries one packet through the worker pool; resultCh receives
// exactly one result once processing (or a pass-through copy)
// finishes.
type job struct {
	header   glcmsg.Header
	data     []byte
	resultCh chan jobResult
}

type jobResult struct {
	header glcmsg.Header
	data   []byte
	err    error
}

// Run drains in, rewrites VIDEO_FORMAT messages and rescales
// VIDEO_FRAME payloads (frame header + pixels) across a pool of
// workers goroutines, and republishes everything to out in the
// original arrival order. Every other message type is forwarded
// unchanged. Run returns when in is cancelled (after draining
// in-flight work and cancelling out) or on the first write error.
func (s *Scaler) Run(in, out *stream.Buffer, workers int) error {
	if workers < 1 {
		workers = Workers()
	}

	jobs := make(chan *job, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				data, err := s.processFrame(j.data)
				j.resultCh <- jobResult{header: j.header, data: data, err: err}
			}
		}()
	}

	order := make(chan chan jobResult, workers*2)
	writerErr := make(chan error, 1)
	go func() {
		// On the first error, cancel in so the read loop below stops,
		// and keep draining order so that loop never blocks on it.
		fail := func(err error) {
			writerErr <- err
			in.Cancel()
			for range order {
			}
		}
		for rc := range order {
			r := <-rc
			if r.err != nil {
				fail(r.err)
				return
			}
			if err := out.Write(r.header, r.data, false); err != nil {
				fail(err)
				return
			}
		}
		writerErr <- nil
	}()

	finish := func(err error) error {
		close(jobs)
		close(order)
		wg.Wait()
		werr := <-writerErr
		out.Cancel()
		if werr != nil && err == nil {
			err = werr
		}
		return err
	}

	for {
		p, err := in.Read()
		if errors.Is(err, stream.ErrCancelled) {
			return finish(nil)
		}
		if err != nil {
			return finish(err)
		}

		rc := make(chan jobResult, 1)
		switch p.Header.Type {
		case glcmsg.VideoFormat:
			msg, decErr := glcmsg.DecodeVideoFormatMessage(p.Data)
			if decErr != nil {
				rc <- jobResult{header: p.Header, data: p.Data}
				order <- rc
				continue
			}
			rewritten, hErr := s.HandleFormat(msg)
			if hErr != nil {
				rc <- jobResult{header: p.Header, data: p.Data}
			} else {
				rc <- jobResult{header: p.Header, data: rewritten.Encode()}
			}
			order <- rc
		case glcmsg.VideoFrame:
			order <- rc
			jobs <- &job{header: p.Header, data: p.Data, resultCh: rc}
		default:
			rc <- jobResult{header: p.Header, data: p.Data}
			order <- rc
		}
	}
}

// frameHeaderAndPixels splits a VIDEO_FRAME payload into its fixed
// header and trailing pixel bytes.
func frameHeaderAndPixels(data []byte) (glcmsg.VideoFrameHeader, []byte, error) {
	hdr, err := glcmsg.DecodeVideoFrameHeader(data)
	if err != nil {
		return glcmsg.VideoFrameHeader{}, nil, err
	}
	return hdr, data[glcmsg.VideoFrameHeaderSize:], nil
}

func (s *Scaler) processFrame(data []byte) ([]byte, error) {
	hdr, pixels, err := frameHeaderAndPixels(data)
	if err != nil {
		return nil, err
	}
	scaled, err := s.ScaleFrame(hdr.StreamID, pixels)
	if err != nil {
		return nil, err
	}
	out := make([]byte, glcmsg.VideoFrameHeaderSize+len(scaled))
	copy(out, hdr.Encode())
	copy(out[glcmsg.VideoFrameHeaderSize:], scaled)
	return out, nil
}
