package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/voicebridge/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 2, 3, 4, 5, 6}
	wav := audio.EncodeWAV(pcm, audio.Telephony)

	if len(wav) != audio.WAVHeaderSize+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), audio.WAVHeaderSize+len(pcm))
	}

	le := binary.LittleEndian
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"riff size", le.Uint32(wav[4:8]), uint32(36 + len(pcm))},
		{"fmt size", le.Uint32(wav[16:20]), 16},
		{"format tag", uint32(le.Uint16(wav[20:22])), 1},
		{"channels", uint32(le.Uint16(wav[22:24])), 1},
		{"sample rate", le.Uint32(wav[24:28]), 8000},
		{"byte rate", le.Uint32(wav[28:32]), 16000},
		{"block align", uint32(le.Uint16(wav[32:34])), 2},
		{"bits per sample", uint32(le.Uint16(wav[34:36])), 16},
		{"data size", le.Uint32(wav[40:44]), uint32(len(pcm))},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}

	for off, tag := range map[int]string{0: "RIFF", 8: "WAVE", 12: "fmt ", 36: "data"} {
		if got := string(wav[off : off+4]); got != tag {
			t.Errorf("tag at %d = %q, want %q", off, got, tag)
		}
	}
}

func TestEncodeWAV_CopiesPayload(t *testing.T) {
	t.Parallel()

	pcm := []byte{9, 9}
	wav := audio.EncodeWAV(pcm, audio.Telephony)
	pcm[0] = 0
	if wav[audio.WAVHeaderSize] != 9 {
		t.Error("EncodeWAV aliases the caller's buffer")
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	for _, n := range []int{0, 1, 2, 3, 320, 1280, 3201, 16000} {
		pcm := make([]byte, n)
		for i := range pcm {
			pcm[i] = byte(r.UintN(256))
		}
		got, err := audio.DecodeWAV(audio.EncodeWAV(pcm, audio.Telephony))
		if err != nil {
			t.Fatalf("n=%d: DecodeWAV: %v", n, err)
		}
		if !bytes.Equal(got, pcm) {
			t.Errorf("n=%d: round trip mismatch", n)
		}
	}
}

func TestDecodeWAV_Short(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodeWAV(make([]byte, audio.WAVHeaderSize-1))
	if !errors.Is(err, audio.ErrShortWAV) {
		t.Errorf("err = %v, want ErrShortWAV", err)
	}
}

func TestFormat_Telephony(t *testing.T) {
	t.Parallel()

	f := audio.Telephony
	if got := f.BlockAlign(); got != 2 {
		t.Errorf("BlockAlign = %d, want 2", got)
	}
	if got := f.ByteRate(); got != 16000 {
		t.Errorf("ByteRate = %d, want 16000", got)
	}
	if got := f.Duration(1600).Milliseconds(); got != 100 {
		t.Errorf("Duration(1600) = %dms, want 100ms", got)
	}
	if got := (audio.Format{}).Duration(100); got != 0 {
		t.Errorf("zero format Duration = %v, want 0", got)
	}
}
