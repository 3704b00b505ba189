// Package glcmsg defines the message-bus wire format shared by every
// pipeline stage: a one-byte tagged header followed by a kind-specific
// payload, little-endian on the wire. Capture writes messages, Scale
// rewrites and forwards some of them, Tracker and Info only read them.
package glcmsg

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Type tags the payload that follows a Header on the wire.
type Type uint8

const (
	VideoFormat Type = iota + 1
	VideoFrame
	AudioFormat
	AudioData
	Color
	Close
)

func (t Type) String() string {
	switch t {
	case VideoFormat:
		return "VIDEO_FORMAT"
	case VideoFrame:
		return "VIDEO_FRAME"
	case AudioFormat:
		return "AUDIO_FORMAT"
	case AudioData:
		return "AUDIO_DATA"
	case Color:
		return "COLOR"
	case Close:
		return "CLOSE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// HeaderSize is the on-wire size of Header.
const HeaderSize = 1

// Header is the single tagged header type every message on the bus
// starts with.
type Header struct {
	Type Type
}

func (h Header) Encode() []byte {
	return []byte{byte(h.Type)}
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("glcmsg: short header: %d bytes", len(b))
	}
	return Header{Type: Type(b[0])}, nil
}

// PixelFormat identifies the pixel layout of a video stream.
type PixelFormat uint32

const (
	BGR PixelFormat = iota + 1
	BGRA
	YCbCr420JPEG
)

func (f PixelFormat) String() string {
	switch f {
	case BGR:
		return "BGR"
	case BGRA:
		return "BGRA"
	case YCbCr420JPEG:
		return "YCBCR_420JPEG"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint32(f))
	}
}

// BytesPerPixel reports the storage width of one sample; 0 for
// sub-sampled formats such as YCbCr 4:2:0 where no single integer
// bytes-per-pixel value applies (size such frames from width and
// height, as info's videoFrameBytes does).
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case BGR:
		return 3
	case BGRA:
		return 4
	default:
		return 0
	}
}

// Stream flags, a bitset carried on VideoFormat. Capture sets only
// DwordAligned; NeedsColorUpdate and Capturing are defined for the
// wire but no package in this module sets them.
type VideoFlags uint32

const (
	DwordAligned VideoFlags = 1 << iota
	NeedsColorUpdate
	Capturing
)

// VideoFormatMessage announces (or re-announces, on geometry or
// pixel-format change) a video stream's output shape.
type VideoFormatMessage struct {
	StreamID uint32
	Flags    VideoFlags
	Format   PixelFormat
	Width    uint32
	Height   uint32
}

const VideoFormatMessageSize = 4 + 4 + 4 + 4 + 4

func (m VideoFormatMessage) Encode() []byte {
	b := make([]byte, VideoFormatMessageSize)
	binary.LittleEndian.PutUint32(b[0:4], m.StreamID)
	binary.LittleEndian.PutUint32(b[4:8], uint32(m.Flags))
	binary.LittleEndian.PutUint32(b[8:12], uint32(m.Format))
	binary.LittleEndian.PutUint32(b[12:16], m.Width)
	binary.LittleEndian.PutUint32(b[16:20], m.Height)
	return b
}

func DecodeVideoFormatMessage(b []byte) (VideoFormatMessage, error) {
	if len(b) < VideoFormatMessageSize {
		return VideoFormatMessage{}, fmt.Errorf("glcmsg: short VIDEO_FORMAT: %d bytes", len(b))
	}
	return VideoFormatMessage{
		StreamID: binary.LittleEndian.Uint32(b[0:4]),
		Flags:    VideoFlags(binary.LittleEndian.Uint32(b[4:8])),
		Format:   PixelFormat(binary.LittleEndian.Uint32(b[8:12])),
		Width:    binary.LittleEndian.Uint32(b[12:16]),
		Height:   binary.LittleEndian.Uint32(b[16:20]),
	}, nil
}

// VideoFrameHeader precedes the raw pixel payload of a VideoFrame
// message. Time is nanoseconds since an arbitrary epoch shared by a
// single recording run.
type VideoFrameHeader struct {
	StreamID uint32
	Time     uint64
}

const VideoFrameHeaderSize = 4 + 8

func (h VideoFrameHeader) Encode() []byte {
	b := make([]byte, VideoFrameHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.StreamID)
	binary.LittleEndian.PutUint64(b[4:12], h.Time)
	return b
}

func DecodeVideoFrameHeader(b []byte) (VideoFrameHeader, error) {
	if len(b) < VideoFrameHeaderSize {
		return VideoFrameHeader{}, fmt.Errorf("glcmsg: short VIDEO_FRAME header: %d bytes", len(b))
	}
	return VideoFrameHeader{
		StreamID: binary.LittleEndian.Uint32(b[0:4]),
		Time:     binary.LittleEndian.Uint64(b[4:12]),
	}, nil
}

// ColorMessage carries gamma/brightness/contrast correction for a
// stream. Brightness and contrast are reserved at zero in this design
// (see spec's data model) but are still on the wire for parity with
// downstream consumers that expect the full tuple.
type ColorMessage struct {
	StreamID   uint32
	Brightness float32
	Contrast   float32
	Red        float32
	Green      float32
	Blue       float32
}

const ColorMessageSize = 4 + 4*5

func (m ColorMessage) Encode() []byte {
	b := make([]byte, ColorMessageSize)
	binary.LittleEndian.PutUint32(b[0:4], m.StreamID)
	putFloat32(b[4:8], m.Brightness)
	putFloat32(b[8:12], m.Contrast)
	putFloat32(b[12:16], m.Red)
	putFloat32(b[16:20], m.Green)
	putFloat32(b[20:24], m.Blue)
	return b
}

func DecodeColorMessage(b []byte) (ColorMessage, error) {
	if len(b) < ColorMessageSize {
		return ColorMessage{}, fmt.Errorf("glcmsg: short COLOR: %d bytes", len(b))
	}
	return ColorMessage{
		StreamID:   binary.LittleEndian.Uint32(b[0:4]),
		Brightness: getFloat32(b[4:8]),
		Contrast:   getFloat32(b[8:12]),
		Red:        getFloat32(b[12:16]),
		Green:      getFloat32(b[16:20]),
		Blue:       getFloat32(b[20:24]),
	}, nil
}

// AudioSampleFormat identifies the sample encoding of an audio stream.
type AudioSampleFormat uint32

const (
	S16LE AudioSampleFormat = iota + 1
	S24LE
	S32LE
)

type AudioFlags uint32

const (
	Interleaved AudioFlags = 1 << iota
)

// AudioFormatMessage announces an audio stream's sample layout.
type AudioFormatMessage struct {
	StreamID uint32
	Flags    AudioFlags
	Format   AudioSampleFormat
	Rate     uint32
	Channels uint32
}

const AudioFormatMessageSize = 4 + 4 + 4 + 4 + 4

func (m AudioFormatMessage) Encode() []byte {
	b := make([]byte, AudioFormatMessageSize)
	binary.LittleEndian.PutUint32(b[0:4], m.StreamID)
	binary.LittleEndian.PutUint32(b[4:8], uint32(m.Flags))
	binary.LittleEndian.PutUint32(b[8:12], uint32(m.Format))
	binary.LittleEndian.PutUint32(b[12:16], m.Rate)
	binary.LittleEndian.PutUint32(b[16:20], m.Channels)
	return b
}

func DecodeAudioFormatMessage(b []byte) (AudioFormatMessage, error) {
	if len(b) < AudioFormatMessageSize {
		return AudioFormatMessage{}, fmt.Errorf("glcmsg: short AUDIO_FORMAT: %d bytes", len(b))
	}
	return AudioFormatMessage{
		StreamID: binary.LittleEndian.Uint32(b[0:4]),
		Flags:    AudioFlags(binary.LittleEndian.Uint32(b[4:8])),
		Format:   AudioSampleFormat(binary.LittleEndian.Uint32(b[8:12])),
		Rate:     binary.LittleEndian.Uint32(b[12:16]),
		Channels: binary.LittleEndian.Uint32(b[16:20]),
	}, nil
}

// AudioDataHeader precedes raw audio sample bytes in an AudioData
// message.
type AudioDataHeader struct {
	StreamID uint32
	Time     uint64
	Size     uint64
}

const AudioDataHeaderSize = 4 + 8 + 8

func (h AudioDataHeader) Encode() []byte {
	b := make([]byte, AudioDataHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.StreamID)
	binary.LittleEndian.PutUint64(b[4:12], h.Time)
	binary.LittleEndian.PutUint64(b[12:20], h.Size)
	return b
}

func DecodeAudioDataHeader(b []byte) (AudioDataHeader, error) {
	if len(b) < AudioDataHeaderSize {
		return AudioDataHeader{}, fmt.Errorf("glcmsg: short AUDIO_DATA header: %d bytes", len(b))
	}
	return AudioDataHeader{
		StreamID: binary.LittleEndian.Uint32(b[0:4]),
		Time:     binary.LittleEndian.Uint64(b[4:12]),
		Size:     binary.LittleEndian.Uint64(b[12:20]),
	}, nil
}

func putFloat32(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
}

func getFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
