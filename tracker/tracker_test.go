package tracker

import (
	"errors"
	"testing"

	"github.com/lano1100/glcapture/glcmsg"
)

func TestSubmitAndIterateOrder(t *testing.T) {
	tr := New()

	format := glcmsg.VideoFormatMessage{StreamID: 1, Format: glcmsg.BGR, Width: 640, Height: 480}
	color := glcmsg.ColorMessage{StreamID: 1, Red: 1, Green: 1, Blue: 1}

	if err := tr.Submit(glcmsg.Header{Type: glcmsg.VideoFormat}, format.Encode()); err != nil {
		t.Fatalf("Submit format: %v", err)
	}
	if err := tr.Submit(glcmsg.Header{Type: glcmsg.Color}, color.Encode()); err != nil {
		t.Fatalf("Submit color: %v", err)
	}

	var kinds []glcmsg.Type
	err := tr.Iterate(func(h glcmsg.Header, payload []byte) error {
		kinds = append(kinds, h.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}

	if len(kinds) != 2 || kinds[0] != glcmsg.VideoFormat || kinds[1] != glcmsg.Color {
		t.Errorf("iteration order = %v, want [VIDEO_FORMAT COLOR]", kinds)
	}
}

func TestIterateIsIdempotent(t *testing.T) {
	tr := New()
	format := glcmsg.VideoFormatMessage{StreamID: 2, Format: glcmsg.BGRA, Width: 320, Height: 240}
	tr.Submit(glcmsg.Header{Type: glcmsg.VideoFormat}, format.Encode())

	collect := func() []glcmsg.Type {
		var kinds []glcmsg.Type
		tr.Iterate(func(h glcmsg.Header, payload []byte) error {
			kinds = append(kinds, h.Type)
			return nil
		})
		return kinds
	}

	first := collect()
	second := collect()
	if len(first) != len(second) {
		t.Fatalf("iterate call counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("iterate[%d] = %v then %v", i, first[i], second[i])
		}
	}
}

func TestIterateAbortsOnCallbackError(t *testing.T) {
	tr := New()
	f1 := glcmsg.VideoFormatMessage{StreamID: 1}
	f2 := glcmsg.VideoFormatMessage{StreamID: 2}
	tr.Submit(glcmsg.Header{Type: glcmsg.VideoFormat}, f1.Encode())
	tr.Submit(glcmsg.Header{Type: glcmsg.VideoFormat}, f2.Encode())

	boom := errors.New("boom")
	calls := 0
	err := tr.Iterate(func(h glcmsg.Header, payload []byte) error {
		calls++
		return boom
	})

	if err != boom {
		t.Errorf("Iterate error = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("callback invoked %d times, want 1 (abort on first error)", calls)
	}
}

func TestAudioFormatTracked(t *testing.T) {
	tr := New()
	af := glcmsg.AudioFormatMessage{StreamID: 5, Format: glcmsg.S16LE, Rate: 44100, Channels: 2}
	tr.Submit(glcmsg.Header{Type: glcmsg.AudioFormat}, af.Encode())

	var got glcmsg.Type
	tr.Iterate(func(h glcmsg.Header, payload []byte) error {
		got = h.Type
		return nil
	})
	if got != glcmsg.AudioFormat {
		t.Errorf("iterated type = %v, want AUDIO_FORMAT", got)
	}
}

func TestUnrelatedMessageIgnored(t *testing.T) {
	tr := New()
	if err := tr.Submit(glcmsg.Header{Type: glcmsg.Close}, nil); err != nil {
		t.Fatalf("Submit(CLOSE) = %v, want nil", err)
	}
	calls := 0
	tr.Iterate(func(h glcmsg.Header, payload []byte) error {
		calls++
		return nil
	})
	if calls != 0 {
		t.Errorf("iterate invoked %d times for empty tracker, want 0", calls)
	}
}
