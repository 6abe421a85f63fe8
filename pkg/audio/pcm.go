// Package audio holds helpers for raw 16-bit little-endian PCM streams, the
// format exchanged between the microphone, the STT and TTS providers and the
// speaker.
package audio

import (
	"fmt"
	"time"
)

// bytesPerSample is the width of one int16 sample.
const bytesPerSample = 2

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono16k is the format most STT providers expect.
var Mono16k = Format{SampleRate: 16000, Channels: 1}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// Valid reports whether both fields are positive.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// FrameBytes is the size of one interleaved sample frame.
func (f Format) FrameBytes() int {
	return f.Channels * bytesPerSample
}

// BytesFor returns the number of bytes covering d, rounded down to whole
// sample frames.
func (f Format) BytesFor(d time.Duration) int {
	frames := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return frames * f.FrameBytes()
}

// DurationOf returns the playback length of n bytes.
func (f Format) DurationOf(n int) time.Duration {
	if !f.Valid() {
		return 0
	}
	frames := n / f.FrameBytes()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Convert resamples pcm from one format to another and maps channels.
// Trailing bytes that do not form a whole frame are dropped. When the
// formats match, pcm is returned unchanged.
func Convert(pcm []byte, from, to Format) []byte {
	if from == to || !from.Valid() || !to.Valid() {
		return pcm
	}
	samples := decode(pcm[:len(pcm)-len(pcm)%from.FrameBytes()])
	if from.SampleRate != to.SampleRate {
		samples = resample(samples, from.Channels, from.SampleRate, to.SampleRate)
	}
	if from.Channels != to.Channels {
		samples = remap(samples, from.Channels, to.Channels)
	}
	return encode(samples)
}

func decode(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/bytesPerSample)
	for i := range out {
		out[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}
	return out
}

func encode(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

// resample converts interleaved samples between rates by linear
// interpolation, channel by channel.
func resample(samples []int16, channels, src, dst int) []int16 {
	inFrames := len(samples) / channels
	outFrames := int(int64(inFrames) * int64(dst) / int64(src))
	out := make([]int16, outFrames*channels)
	step := float64(src) / float64(dst)
	for i := range outFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, inFrames-1)
		for c := range channels {
			a := float64(samples[idx*channels+c])
			b := float64(samples[next*channels+c])
			out[i*channels+c] = int16(a + (b-a)*frac)
		}
	}
	return out
}

// remap converts between channel counts. Downmixing averages all input
// channels; upmixing repeats the mono mix on every output channel.
func remap(samples []int16, from, to int) []int16 {
	frames := len(samples) / from
	out := make([]int16, frames*to)
	for i := range frames {
		var sum int32
		for c := range from {
			sum += int32(samples[i*from+c])
		}
		mix := int16(sum / int32(from))
		for c := range to {
			if from == to {
				out[i*to+c] = samples[i*from+c]
				continue
			}
			out[i*to+c] = mix
		}
	}
	return out
}

// Drain reads from ch until it is closed, discarding all values. Use it to
// release a producer whose output is no longer wanted.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
