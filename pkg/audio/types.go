// Package audio holds the fixed telephony audio format together with the
// WAV container codec and the real-time frame pacer used to play replies
// back over a media stream.
//
// Everything here works on raw 16-bit signed little-endian PCM. The wire
// format is never negotiated: [Telephony] is the only format the bridge
// speaks.
package audio

import "time"

// Format describes a PCM stream.
type Format struct {
	// SampleRate in Hz (8000 for narrowband telephony).
	SampleRate int

	// Channels: 1 for mono.
	Channels int

	// BitsPerSample is the sample width. Only 16 is used in practice.
	BitsPerSample int
}

// Telephony is the narrowband format carried by the media stream:
// 8 kHz, mono, 16-bit PCM.
var Telephony = Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}

// BlockAlign returns the number of bytes in one multi-channel sample.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate returns the number of bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Duration returns the playback duration of n bytes of PCM in this format.
// It returns 0 for an invalid format.
func (f Format) Duration(n int) time.Duration {
	br := f.ByteRate()
	if br <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(br)
}
