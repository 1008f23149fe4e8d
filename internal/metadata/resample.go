package metadata

import (
	"github.com/gopxl/beep/v2"
)

// resampleQuality is the interpolation window handed to beep. Higher
// values cost more per sample; 4 is transparent for preview playback.
const resampleQuality = 4

// Resample converts pcm to rate through beep's resampler. It returns pcm
// unchanged when the rates already match. Output keeps at most two
// channels, as beep streams stereo frames.
func Resample(pcm *PCM, rate int) *PCM {
	if pcm == nil || rate <= 0 || pcm.SampleRate == rate || pcm.SampleRate <= 0 || pcm.Frames() == 0 {
		return pcm
	}

	src := &pcmStreamer{pcm: pcm}
	rs := beep.Resample(resampleQuality, beep.SampleRate(pcm.SampleRate), beep.SampleRate(rate), src)

	channels := len(pcm.Channels)
	if channels > 2 {
		channels = 2
	}
	estimate := int(float64(pcm.Frames())*float64(rate)/float64(pcm.SampleRate)) + 1
	out := &PCM{SampleRate: rate, Channels: make([][]float32, channels)}
	for ch := range out.Channels {
		out.Channels[ch] = make([]float32, 0, estimate)
	}

	buf := make([][2]float64, 4096)
	for {
		n, ok := rs.Stream(buf)
		for _, frame := range buf[:n] {
			for ch := range out.Channels {
				out.Channels[ch] = append(out.Channels[ch], float32(frame[ch]))
			}
		}
		if !ok || n == 0 {
			break
		}
	}
	return out
}

// pcmStreamer feeds decoded channels to beep as stereo frames. Mono is
// sent on both sides.
type pcmStreamer struct {
	pcm *PCM
	pos int
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	left, right := s.pcm.Stereo()
	if s.pos >= len(left) {
		return 0, false
	}
	n := copyFrames(samples, left[s.pos:], right[s.pos:])
	s.pos += n
	return n, true
}

func (s *pcmStreamer) Err() error { return nil }

func copyFrames(dst [][2]float64, left, right []float32) int {
	n := len(dst)
	if len(left) < n {
		n = len(left)
	}
	for i := 0; i < n; i++ {
		dst[i] = [2]float64{float64(left[i]), float64(right[i])}
	}
	return n
}
