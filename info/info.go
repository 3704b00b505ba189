// Package info is the diagnostic, single-thread, read-only pipeline
// stage: it tallies per-stream frame/byte/packet counts, derives a
// rolling fps estimate from VIDEO_FRAME timestamps, and emits a
// human-readable summary once the upstream buffer is cancelled or a
// CLOSE message arrives.
package info

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/lano1100/glcapture/glcmsg"
	"github.com/lano1100/glcapture/stream"
)

// Verbosity thresholds, from least to most detailed.
const (
	LevelVideo     = 1
	LevelDetailed  = 2
	LevelFPS       = 3
	LevelAudio     = 4
	LevelAudioData = 5
	LevelPicture   = 5
	LevelAllDetail = 6
)

// ErrUnknownMessage is the protocol-violation error: a message type
// info does not recognize. It is logged at Error and does not abort
// the read loop — a protocol violation is reported, not fatal.
var ErrUnknownMessage = errors.New("info: unknown message type")

var errInvalidLevel = errors.New("info: level must be >= 1")

type videoStream struct {
	id     uint32
	format glcmsg.PixelFormat
	flags  glcmsg.VideoFlags
	w, h   uint32

	frames uint64
	bytes  uint64

	fpsCount      uint64
	fpsWindowFrom uint64
	lastFPSTime   uint64
}

type audioStream struct {
	id      uint32
	packets uint64
	bytes   uint64
}

// Sink is the info stage's accumulated state.
type Sink struct {
	logger *zap.Logger
	level  int
	out    io.Writer

	time  uint64
	video map[uint32]*videoStream
	audio map[uint32]*audioStream
}

// New creates a Sink at the given verbosity level (>=1). Output for
// the final human-readable summary goes to w.
func New(logger *zap.Logger, level int, w io.Writer) (*Sink, error) {
	if level < 1 {
		return nil, errInvalidLevel
	}
	return &Sink{
		logger: logger,
		level:  level,
		out:    w,
		video:  make(map[uint32]*videoStream),
		audio:  make(map[uint32]*audioStream),
	}, nil
}

func (s *Sink) videoFor(id uint32) *videoStream {
	v, ok := s.video[id]
	if !ok {
		v = &videoStream{id: id}
		s.video[id] = v
	}
	return v
}

func (s *Sink) audioFor(id uint32) *audioStream {
	a, ok := s.audio[id]
	if !ok {
		a = &audioStream{id: id}
		s.audio[id] = a
	}
	return a
}

// Run drains buf until it is cancelled or a CLOSE message arrives,
// processing every packet and printing the final summary on exit.
func (s *Sink) Run(buf *stream.Buffer) error {
	for {
		p, err := buf.Read()
		if errors.Is(err, stream.ErrCancelled) {
			s.Summary()
			return nil
		}
		if err != nil {
			return err
		}

		if perr := s.Process(p); perr != nil {
			s.logger.Error("info: protocol violation",
				zap.String("type", p.Header.Type.String()), zap.Error(perr))
		}

		if p.Header.Type == glcmsg.Close {
			s.Summary()
			return nil
		}
	}
}

// Process updates tallies for a single packet. It never returns an
// error for known message kinds; unknown kinds return
// ErrUnknownMessage without altering state, matching the "protocol
// violation: log, don't abort" policy.
func (s *Sink) Process(p *stream.Packet) error {
	switch p.Header.Type {
	case glcmsg.VideoFormat:
		msg, err := glcmsg.DecodeVideoFormatMessage(p.Data)
		if err != nil {
			return err
		}
		s.videoFormat(msg)
	case glcmsg.VideoFrame:
		hdr, err := glcmsg.DecodeVideoFrameHeader(p.Data)
		if err != nil {
			return err
		}
		s.videoFrame(hdr)
	case glcmsg.AudioFormat:
		msg, err := glcmsg.DecodeAudioFormatMessage(p.Data)
		if err != nil {
			return err
		}
		s.audioFormat(msg)
	case glcmsg.AudioData:
		hdr, err := glcmsg.DecodeAudioDataHeader(p.Data)
		if err != nil {
			return err
		}
		s.audioData(hdr)
	case glcmsg.Color:
		msg, err := glcmsg.DecodeColorMessage(p.Data)
		if err != nil {
			return err
		}
		s.color(msg)
	case glcmsg.Close:
		// handled by Run; nothing to tally.
	default:
		return ErrUnknownMessage
	}
	return nil
}

func (s *Sink) videoFormat(msg glcmsg.VideoFormatMessage) {
	v := s.videoFor(msg.StreamID)
	v.format = msg.Format
	v.flags = msg.Flags
	v.w = msg.Width
	v.h = msg.Height

	if s.level >= LevelDetailed {
		s.logger.Info("video stream format",
			zap.Uint32("stream_id", msg.StreamID),
			zap.String("format", msg.Format.String()),
			zap.Uint32("width", msg.Width),
			zap.Uint32("height", msg.Height))
	}
}

// videoFrameBytes tallies the payload bytes a frame of the given
// format/geometry contributes, including the per-row dword-alignment
// padding term when the stream's DwordAligned flag is set.
func videoFrameBytes(format glcmsg.PixelFormat, flags glcmsg.VideoFlags, w, h uint32) uint64 {
	switch format {
	case glcmsg.BGR:
		b := uint64(w) * uint64(h) * 3
		if flags&glcmsg.DwordAligned != 0 {
			b += uint64(h) * (8 - (uint64(w)*3)%8)
		}
		return b
	case glcmsg.BGRA:
		b := uint64(w) * uint64(h) * 4
		if flags&glcmsg.DwordAligned != 0 {
			b += uint64(h) * (8 - (uint64(w)*4)%8)
		}
		return b
	case glcmsg.YCbCr420JPEG:
		return uint64(w) * uint64(h) * 3 / 2
	default:
		return 0
	}
}

func (s *Sink) videoFrame(hdr glcmsg.VideoFrameHeader) {
	s.time = hdr.Time
	v := s.videoFor(hdr.StreamID)

	v.frames++
	v.fpsCount++
	v.bytes += videoFrameBytes(v.format, v.flags, v.w, v.h)

	if s.level >= LevelFPS && hdr.Time-v.fpsWindowFrom >= 1_000_000_000 {
		elapsed := hdr.Time - v.lastFPSTime
		fps := 0.0
		if elapsed > 0 {
			fps = float64(v.fpsCount*1_000_000) / float64(elapsed) * 1000
		}
		s.logger.Info("video stream fps", zap.Uint32("stream_id", v.id), zap.Float64("fps", fps))
		v.lastFPSTime = hdr.Time
		v.fpsWindowFrom += 1_000_000_000
		v.fpsCount = 0
	}
}

func (s *Sink) audioFormat(msg glcmsg.AudioFormatMessage) {
	if s.level >= LevelDetailed {
		s.logger.Info("audio stream format",
			zap.Uint32("stream_id", msg.StreamID),
			zap.Uint32("rate", msg.Rate),
			zap.Uint32("channels", msg.Channels))
	}
}

func (s *Sink) audioData(hdr glcmsg.AudioDataHeader) {
	s.time = hdr.Time
	a := s.audioFor(hdr.StreamID)
	a.packets++
	a.bytes += hdr.Size

	if s.level >= LevelAudio {
		s.logger.Debug("audio packet", zap.Uint32("stream_id", hdr.StreamID), zap.Uint64("size", hdr.Size))
	}
}

func (s *Sink) color(msg glcmsg.ColorMessage) {
	if s.level >= LevelDetailed {
		s.logger.Info("color correction",
			zap.Uint32("stream_id", msg.StreamID),
			zap.Float32("red", msg.Red), zap.Float32("green", msg.Green), zap.Float32("blue", msg.Blue))
	}
}

// VideoSummary is one stream's final tally, as reported by Summary.
type VideoSummary struct {
	StreamID uint32
	Frames   uint64
	Bytes    uint64
	FPS      float64
	BPS      float64
}

// AudioSummary is one audio stream's final tally.
type AudioSummary struct {
	StreamID uint32
	Packets  uint64
	Bytes    uint64
	PPS      float64
	BPS      float64
}

// Stats returns the accumulated per-stream tallies without printing
// anything, for callers (tests, higher-level summaries) that want the
// numbers rather than formatted text.
func (s *Sink) Stats() ([]VideoSummary, []AudioSummary) {
	seconds := float64(s.time) / 1_000_000_000.0
	var videos []VideoSummary
	for _, v := range s.video {
		vs := VideoSummary{StreamID: v.id, Frames: v.frames, Bytes: v.bytes}
		if seconds > 0 {
			vs.FPS = float64(v.frames) / seconds
			vs.BPS = float64(v.bytes) / seconds
		}
		videos = append(videos, vs)
	}
	var audios []AudioSummary
	for _, a := range s.audio {
		as := AudioSummary{StreamID: a.id, Packets: a.packets, Bytes: a.bytes}
		if seconds > 0 {
			as.PPS = float64(a.packets) / seconds
			as.BPS = float64(a.bytes) / seconds
		}
		audios = append(audios, as)
	}
	return videos, audios
}

// Summary writes the human-readable end-of-stream report.
func (s *Sink) Summary() {
	videos, audios := s.Stats()
	for _, v := range videos {
		fmt.Fprintf(s.out, "video stream %d\n", v.StreamID)
		fmt.Fprintf(s.out, "  frames      = %d\n", v.Frames)
		fmt.Fprintf(s.out, "  fps         = %04.2f\n", v.FPS)
		fmt.Fprintf(s.out, "  bytes       = %s\n", formatBytes(v.Bytes))
		fmt.Fprintf(s.out, "  bps         = %s\n", formatBytes(uint64(v.BPS)))
	}
	for _, a := range audios {
		fmt.Fprintf(s.out, "audio stream %d\n", a.StreamID)
		fmt.Fprintf(s.out, "  packets     = %d\n", a.Packets)
		fmt.Fprintf(s.out, "  pps         = %04.2f\n", a.PPS)
		fmt.Fprintf(s.out, "  bytes       = %s\n", formatBytes(a.Bytes))
		fmt.Fprintf(s.out, "  bps         = %s\n", formatBytes(uint64(a.BPS)))
	}
	fmt.Fprintf(s.out, "end of stream\n")
}

func formatBytes(b uint64) string {
	switch {
	case b >= 1024*1024*1024:
		return fmt.Sprintf("%.2f GiB", float64(b)/(1024*1024*1024))
	case b >= 1024*1024:
		return fmt.Sprintf("%.2f MiB", float64(b)/(1024*1024))
	case b >= 1024:
		return fmt.Sprintf("%.2f KiB", float64(b)/1024)
	default:
		return fmt.Sprintf("%d B", b)
	}
}
