// Package tracker caches the latest format/color message seen for
// every stream so a consumer that attaches mid-recording can be
// replayed a consistent configuration prefix before it sees any live
// traffic.
package tracker

import (
	"sync"

	"github.com/lano1100/glcapture/glcmsg"
)

type videoState struct {
	hasFormat bool
	format    glcmsg.VideoFormatMessage
	hasColor  bool
	color     glcmsg.ColorMessage
}

type audioState struct {
	hasFormat bool
	format    glcmsg.AudioFormatMessage
}

// Tracker is an out-of-band cache of the most recent VIDEO_FORMAT,
// COLOR and AUDIO_FORMAT message per stream id.
type Tracker struct {
	mu    sync.Mutex
	video map[uint32]*videoState
	audio map[uint32]*audioState
}

func New() *Tracker {
	return &Tracker{
		video: make(map[uint32]*videoState),
		audio: make(map[uint32]*audioState),
	}
}

func (t *Tracker) videoFor(id uint32) *videoState {
	v, ok := t.video[id]
	if !ok {
		v = &videoState{}
		t.video[id] = v
	}
	return v
}

func (t *Tracker) audioFor(id uint32) *audioState {
	a, ok := t.audio[id]
	if !ok {
		a = &audioState{}
		t.audio[id] = a
	}
	return a
}

// Submit records header/payload if it is one of the three cacheable
// kinds; every other message kind is ignored (tracker has no use for
// VIDEO_FRAME, AUDIO_DATA or CLOSE). Unrecognized payloads are
// dropped silently rather than treated as an error: tracker is a
// best-effort cache, not a protocol validator (that is info's job).
func (t *Tracker) Submit(header glcmsg.Header, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch header.Type {
	case glcmsg.VideoFormat:
		msg, err := glcmsg.DecodeVideoFormatMessage(payload)
		if err != nil {
			return nil
		}
		v := t.videoFor(msg.StreamID)
		v.format = msg
		v.hasFormat = true

	case glcmsg.Color:
		msg, err := glcmsg.DecodeColorMessage(payload)
		if err != nil {
			return nil
		}
		v := t.videoFor(msg.StreamID)
		v.color = msg
		v.hasColor = true

	case glcmsg.AudioFormat:
		msg, err := glcmsg.DecodeAudioFormatMessage(payload)
		if err != nil {
			return nil
		}
		a := t.audioFor(msg.StreamID)
		a.format = msg
		a.hasFormat = true
	}

	return nil
}

// Callback is invoked once per remembered message during Iterate.
// Returning a non-nil error aborts iteration; Iterate returns that
// error unchanged.
type Callback func(header glcmsg.Header, payload []byte) error

// Iterate replays every remembered message through callback. Streams
// are visited in no particular order, but within a single video
// stream VIDEO_FORMAT always precedes COLOR, matching the message
// order a freshly attached consumer needs to reconstruct that
// stream's current configuration.
func (t *Tracker) Iterate(callback Callback) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, v := range t.video {
		if v.hasFormat {
			if err := callback(glcmsg.Header{Type: glcmsg.VideoFormat}, v.format.Encode()); err != nil {
				return err
			}
		}
		if v.hasColor {
			if err := callback(glcmsg.Header{Type: glcmsg.Color}, v.color.Encode()); err != nil {
				return err
			}
		}
	}

	for _, a := range t.audio {
		if a.hasFormat {
			if err := callback(glcmsg.Header{Type: glcmsg.AudioFormat}, a.format.Encode()); err != nil {
				return err
			}
		}
	}

	return nil
}
