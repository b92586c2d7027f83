package audio

import (
	"context"
	"errors"
	"time"
)

// Pacer splits PCM into fixed-size frames and hands them to a sink at a
// fixed cadence so the far end receives audio at roughly playback speed.
//
// FrameBytes and Interval should describe the same amount of audio in the
// stream's [Format]; see [Format.Duration].
type Pacer struct {
	// FrameBytes is the size of every frame except possibly the last.
	FrameBytes int

	// Interval is the delay between two consecutive sink calls.
	Interval time.Duration
}

// Frames returns the number of frames Stream would emit for n bytes.
func (p Pacer) Frames(n int) int {
	if p.FrameBytes <= 0 || n <= 0 {
		return 0
	}
	return (n + p.FrameBytes - 1) / p.FrameBytes
}

// Stream sends samples to sink in order, one frame per call, waiting
// Interval between calls. There is no wait after the final frame.
//
// Stream stops at the first sink error or when ctx is cancelled, and returns
// the number of frames that were accepted by sink together with that error.
// Frames passed to sink alias samples and must not be retained.
func (p Pacer) Stream(ctx context.Context, samples []byte, sink func(frame []byte) error) (int, error) {
	if p.FrameBytes <= 0 {
		return 0, errors.New("audio: pacer frame size must be positive")
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	sent := 0
	for off := 0; off < len(samples); off += p.FrameBytes {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		end := min(off+p.FrameBytes, len(samples))
		if err := sink(samples[off:end]); err != nil {
			return sent, err
		}
		sent++

		if end == len(samples) || p.Interval <= 0 {
			continue
		}
		if timer == nil {
			timer = time.NewTimer(p.Interval)
		} else {
			timer.Reset(p.Interval)
		}
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-timer.C:
		}
	}
	return sent, nil
}
