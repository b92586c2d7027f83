package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE header written by
// [EncodeWAV] and stripped by [DecodeWAV].
const WAVHeaderSize = 44

// ErrShortWAV is returned by [DecodeWAV] when the input cannot hold a header.
var ErrShortWAV = errors.New("audio: wav data shorter than header")

// EncodeWAV wraps raw PCM in a canonical 44-byte RIFF/WAVE header describing
// f. The payload is copied, so pcm may be reused by the caller.
func EncodeWAV(pcm []byte, f Format) []byte {
	dataSize := len(pcm)
	buf := make([]byte, WAVHeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size - 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                      // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                       // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))      // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))    // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.ByteRate()))    // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(f.BlockAlign()))  // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(f.BitsPerSample)) // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[WAVHeaderSize:], pcm)

	return buf
}

// DecodeWAV strips the 44-byte header from a WAV buffer and returns the PCM
// payload. Only the length is checked; the header is assumed to have the
// canonical layout produced by [EncodeWAV]. The returned slice aliases data.
func DecodeWAV(data []byte) ([]byte, error) {
	if len(data) < WAVHeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrShortWAV, len(data))
	}
	return data[WAVHeaderSize:], nil
}
