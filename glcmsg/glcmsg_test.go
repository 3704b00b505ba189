package glcmsg

import "testing"

func TestVideoFormatMessageRoundTrip(t *testing.T) {
	want := VideoFormatMessage{
		StreamID: 7,
		Flags:    DwordAligned | NeedsColorUpdate,
		Format:   BGRA,
		Width:    1920,
		Height:   1080,
	}

	got, err := DecodeVideoFormatMessage(want.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestVideoFrameHeaderRoundTrip(t *testing.T) {
	want := VideoFrameHeader{StreamID: 3, Time: 1234567890123}
	got, err := DecodeVideoFrameHeader(want.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestColorMessageRoundTrip(t *testing.T) {
	want := ColorMessage{StreamID: 1, Brightness: 0, Contrast: 0, Red: 1.1, Green: 0.9, Blue: 1.0}
	got, err := DecodeColorMessage(want.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestAudioFormatMessageRoundTrip(t *testing.T) {
	want := AudioFormatMessage{StreamID: 2, Flags: Interleaved, Format: S16LE, Rate: 48000, Channels: 2}
	got, err := DecodeAudioFormatMessage(want.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestAudioDataHeaderRoundTrip(t *testing.T) {
	want := AudioDataHeader{StreamID: 2, Time: 99, Size: 4096}
	got, err := DecodeAudioDataHeader(want.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestHeaderDecodeShort(t *testing.T) {
	if _, err := DecodeHeader(nil); err == nil {
		t.Error("expected error decoding empty header")
	}
}

func TestTypeString(t *testing.T) {
	cases := map[Type]string{
		VideoFormat: "VIDEO_FORMAT",
		VideoFrame:  "VIDEO_FRAME",
		AudioFormat: "AUDIO_FORMAT",
		AudioData:   "AUDIO_DATA",
		Color:       "COLOR",
		Close:       "CLOSE",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", typ, got, want)
		}
	}
	if got := Type(0xEE).String(); got != "UNKNOWN(0xee)" {
		t.Errorf("unknown type string = %q", got)
	}
}
