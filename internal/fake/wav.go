package fake

import (
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV writes 16-bit PCM with one slice per channel.
func WriteWAV(path string, rate int, channels ...[]float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, len(channels), 1)
	frames := 0
	if len(channels) > 0 {
		frames = len(channels[0])
	}
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: len(channels),
			SampleRate:  rate,
		},
		Data:           make([]int, frames*len(channels)),
		SourceBitDepth: 16,
	}
	for i := 0; i < frames; i++ {
		for ch, samples := range channels {
			buf.Data[i*len(channels)+ch] = int(samples[i] * 32767)
		}
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// Sine returns n samples of a sine wave at freq Hz.
func Sine(n, rate int, freq, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}
