// Package demo wires the downstream side of the message bus: a
// Session that reads one Buffer, keeps a tracker for late-join replay
// and fans packets out to sink Buffers, and a Muxer that pipes
// VIDEO_FRAME pixels into ffmpeg for an actual playable file. It is
// not a library other packages import, and it does not construct
// capture, scale or info stages itself.
package demo

import (
	"fmt"
	"io"
	"sync"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/lano1100/glcapture/glcmsg"
	"github.com/lano1100/glcapture/stream"
	"github.com/lano1100/glcapture/tracker"
)

// Session fans packets read from one producer Buffer out to any
// number of sink Buffers, keeping a Tracker of the latest
// VIDEO_FORMAT/COLOR/AUDIO_FORMAT so a sink attached mid-stream can be
// handed a replay prefix instead of waiting for the next format
// change — a freshly attached consumer needs the most recent format
// message, not the very first one ever sent.
type Session struct {
	src     *stream.Buffer
	tracker *tracker.Tracker

	mu    sync.Mutex
	sinks []*stream.Buffer
}

// NewSession creates a Session fanning src out to its sinks.
func NewSession(src *stream.Buffer) *Session {
	return &Session{src: src, tracker: tracker.New()}
}

// Attach replays the tracker's current state into sink and then
// registers it to receive every subsequently read packet. The replay
// and the registration happen under the same lock Run's fan-out step
// takes, so no live packet can be interleaved into the middle of the
// replay prefix.
func (s *Session) Attach(sink *stream.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.tracker.Iterate(func(header glcmsg.Header, payload []byte) error {
		return sink.Write(header, payload, false)
	})
	if err != nil {
		return fmt.Errorf("demo: replay to new sink: %w", err)
	}
	s.sinks = append(s.sinks, sink)
	return nil
}

// Run drains src until it is cancelled, submitting every packet to
// the tracker and then fanning it out (best-effort: a busy sink drops
// the packet rather than stalling the others, same as any other
// try-open on this bus).
func (s *Session) Run() error {
	for {
		p, err := s.src.Read()
		if err != nil {
			if err == stream.ErrCancelled {
				return nil
			}
			return err
		}
		if err := s.tracker.Submit(p.Header, p.Data); err != nil {
			return fmt.Errorf("demo: tracker submit: %w", err)
		}
		s.broadcast(p)
	}
}

func (s *Session) broadcast(p *stream.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sink := range s.sinks {
		sink.Write(p.Header, p.Data, true)
	}
}

// Muxer is an optional consumer that decodes VIDEO_FRAME packets off
// its own sink Buffer and pipes the raw pixel bytes into ffmpeg,
// turning a per-packet bus feed into a pipe-fed ffmpeg mux.
type Muxer struct {
	sink       *stream.Buffer
	outputPath string
	ffmpegPath string

	format  glcmsg.VideoFormatMessage
	haveFmt bool
}

// NewMuxer creates a Muxer reading from sink and writing outputPath.
// ffmpegPath overrides the binary lookup; pass "" to use ffmpeg-go's
// default PATH lookup.
func NewMuxer(sink *stream.Buffer, outputPath, ffmpegPath string) *Muxer {
	return &Muxer{sink: sink, outputPath: outputPath, ffmpegPath: ffmpegPath}
}

// Run blocks until the VIDEO_FORMAT message arrives (normally the
// first packet, courtesy of Session.Attach's replay), starts the
// ffmpeg process, and streams every subsequent VIDEO_FRAME's pixel
// payload into it until the sink is cancelled or a CLOSE message
// arrives.
func (m *Muxer) Run() error {
	for !m.haveFmt {
		p, err := m.sink.Read()
		if err != nil {
			if err == stream.ErrCancelled {
				return nil
			}
			return err
		}
		if p.Header.Type != glcmsg.VideoFormat {
			continue
		}
		msg, err := glcmsg.DecodeVideoFormatMessage(p.Data)
		if err != nil {
			return fmt.Errorf("demo: decode VIDEO_FORMAT: %w", err)
		}
		m.format = msg
		m.haveFmt = true
	}

	pixFmt := "bgr24"
	if m.format.Format == glcmsg.BGRA {
		pixFmt = "bgra"
	}

	pipeReader, pipeWriter := io.Pipe()
	cmd := buildMuxCommand(int(m.format.Width), int(m.format.Height), pixFmt, m.outputPath, m.ffmpegPath, pipeReader)

	errc := make(chan error, 1)
	go func() { errc <- cmd.Run() }()

	for {
		p, err := m.sink.Read()
		if err != nil {
			pipeWriter.Close()
			if err == stream.ErrCancelled {
				return <-errc
			}
			return err
		}
		switch p.Header.Type {
		case glcmsg.VideoFrame:
			if len(p.Data) < glcmsg.VideoFrameHeaderSize {
				continue
			}
			if _, werr := pipeWriter.Write(p.Data[glcmsg.VideoFrameHeaderSize:]); werr != nil {
				pipeWriter.Close()
				return fmt.Errorf("demo: write frame to mux pipe: %w", werr)
			}
		case glcmsg.Close:
			pipeWriter.Close()
			return <-errc
		}
	}
}

// buildMuxCommand is split out from Run so the command construction
// (which Run's tests never invoke, since it shells out to a real
// ffmpeg binary) can be read and reasoned about independently of the
// packet loop driving it.
func buildMuxCommand(width, height int, pixFmt, outputPath, ffmpegPath string, in io.Reader) *ffmpeg.Stream {
	cmd := ffmpeg.Input("pipe:",
		ffmpeg.KwArgs{
			"format":  "rawvideo",
			"pix_fmt": pixFmt,
			"s":       fmt.Sprintf("%dx%d", width, height),
		},
	).Output(outputPath,
		ffmpeg.KwArgs{
			"c:v":     "libx264",
			"pix_fmt": "yuv420p",
		},
	).OverWriteOutput().WithInput(in).ErrorToStdOut()

	if ffmpegPath != "" {
		cmd = cmd.SetFfmpegPath(ffmpegPath)
	}
	return cmd
}
