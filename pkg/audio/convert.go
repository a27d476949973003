package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Int16s decodes little-endian PCM into samples. A trailing odd byte is
// ignored.
func Int16s(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// PCM encodes samples as little-endian bytes.
func PCM(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Float32s decodes PCM into samples normalised to [-1, 1].
func Float32s(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// RMS returns the root-mean-square amplitude of the PCM in raw int16 units.
// Empty input yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Convert returns pcm converted from one format to another. Downmixing runs
// before resampling, so a stereo-to-mono conversion resamples a single
// channel. Matching formats return pcm unchanged.
func Convert(pcm []byte, from, to Format) []byte {
	if from == to || len(pcm) == 0 {
		return pcm
	}
	if from.Channels <= 0 || to.Channels <= 0 {
		return pcm
	}
	out := pcm
	ch := from.Channels
	if from.Channels > to.Channels {
		out = Downmix(out, from.Channels)
		ch = 1
	}
	out = Resample(out, ch, from.SampleRate, to.SampleRate)
	if ch != to.Channels {
		if ch != 1 {
			out = Downmix(out, ch)
		}
		out = Upmix(out, to.Channels)
	}
	return out
}

// Downmix averages interleaved channels into mono, clamping to the int16
// range.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frame := channels * BytesPerSample
	n := len(pcm) / frame
	out := make([]byte, n*BytesPerSample)
	for i := range n {
		var sum int32
		for c := range channels {
			off := i*frame + c*BytesPerSample
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(sum/int32(channels))))
	}
	return out
}

// Upmix copies each mono sample into every output channel.
func Upmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	n := len(pcm) / BytesPerSample
	out := make([]byte, n*channels*BytesPerSample)
	for i := range n {
		lo, hi := pcm[i*2], pcm[i*2+1]
		for c := range channels {
			j := (i*channels + c) * BytesPerSample
			out[j] = lo
			out[j+1] = hi
		}
	}
	return out
}

// Resample converts interleaved PCM between sample rates with linear
// interpolation. Non-positive rates or equal rates return pcm unchanged.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || channels <= 0 {
		return pcm
	}
	frame := channels * BytesPerSample
	srcFrames := len(pcm) / frame
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	sample := func(idx, c int) float64 {
		if idx >= srcFrames {
			idx = srcFrames - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[idx*frame+c*BytesPerSample:])))
	}

	out := make([]byte, dstFrames*frame)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		for c := range channels {
			v := sample(idx, c)*(1-frac) + sample(idx+1, c)*frac
			binary.LittleEndian.PutUint16(out[i*frame+c*BytesPerSample:], uint16(int16(v)))
		}
	}
	return out
}

func clamp16(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

func formatString(rate, channels int) string {
	switch channels {
	case 1:
		return fmt.Sprintf("%dHz mono", rate)
	case 2:
		return fmt.Sprintf("%dHz stereo", rate)
	}
	return fmt.Sprintf("%dHz %dch", rate, channels)
}
