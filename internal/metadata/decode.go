package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// PCM is decoded audio, one slice of samples in [-1, 1] per channel.
type PCM struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of sample frames.
func (p *PCM) Frames() int {
	if len(p.Channels) == 0 {
		return 0
	}
	return len(p.Channels[0])
}

// Seconds returns the duration of the audio.
func (p *PCM) Seconds() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(p.Frames()) / float64(p.SampleRate)
}

// Channel returns channel ch, or an error if it does not exist.
func (p *PCM) Channel(ch int) ([]float32, error) {
	if ch < 0 || ch >= len(p.Channels) {
		return nil, fmt.Errorf("channel %d out of range (have %d)", ch, len(p.Channels))
	}
	return p.Channels[ch], nil
}

// Stereo returns left and right channels. Mono audio is duplicated and
// anything beyond two channels is dropped.
func (p *PCM) Stereo() (left, right []float32) {
	switch len(p.Channels) {
	case 0:
		return nil, nil
	case 1:
		return p.Channels[0], p.Channels[0]
	default:
		return p.Channels[0], p.Channels[1]
	}
}

// DecodeFile decodes a WAV, FLAC or MP3 file by extension.
func DecodeFile(path string) (*PCM, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav", ".mp3":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if ext == ".wav" {
			return DecodeWAV(f)
		}
		return DecodeMP3(f)
	case ".flac":
		return decodeFLACFile(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// DecodeWAV decodes integer PCM WAV data.
func DecodeWAV(r io.ReadSeeker) (*PCM, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a wav file", ErrUnsupportedFormat)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read wav samples: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("wav has no channels")
	}

	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(dec.BitDepth)
	}
	if depth <= 0 {
		return nil, fmt.Errorf("wav has no bit depth")
	}
	scale := float32(int64(1) << (depth - 1))
	return deinterleave(buf.Data, buf.Format.NumChannels, buf.Format.SampleRate, func(v int) float32 {
		return float32(v) / scale
	}), nil
}

func deinterleave(data []int, channels, rate int, conv func(int) float32) *PCM {
	frames := len(data) / channels
	pcm := &PCM{SampleRate: rate, Channels: make([][]float32, channels)}
	for ch := range pcm.Channels {
		pcm.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			pcm.Channels[ch][i] = conv(data[i*channels+ch])
		}
	}
	return pcm
}

func decodeFLACFile(path string) (*PCM, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open flac stream: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	channels := int(info.NChannels)
	if channels == 0 || info.BitsPerSample == 0 {
		return nil, fmt.Errorf("flac stream missing format info")
	}
	scale := float32(int64(1) << (info.BitsPerSample - 1))
	pcm := &PCM{SampleRate: int(info.SampleRate), Channels: make([][]float32, channels)}
	for ch := range pcm.Channels {
		pcm.Channels[ch] = make([]float32, 0, info.NSamples)
	}

	for {
		frame, err := stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode flac frame: %w", err)
		}
		for ch, sub := range frame.Subframes {
			if ch >= channels {
				break
			}
			for _, s := range sub.Samples {
				pcm.Channels[ch] = append(pcm.Channels[ch], float32(s)/scale)
			}
		}
	}
	return pcm, nil
}

// DecodeMP3 decodes an MP3 stream. The decoder always yields 16-bit
// little-endian stereo.
func DecodeMP3(r io.Reader) (*PCM, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open mp3 stream: %w", err)
	}

	pcm := &PCM{SampleRate: dec.SampleRate(), Channels: make([][]float32, 2)}
	if n := dec.Length(); n > 0 {
		frames := int(n / 4)
		pcm.Channels[0] = make([]float32, 0, frames)
		pcm.Channels[1] = make([]float32, 0, frames)
	}

	buf := make([]byte, 16*1024)
	for {
		n, err := io.ReadFull(dec, buf)
		for i := 0; i+4 <= n; i += 4 {
			left := int16(binary.LittleEndian.Uint16(buf[i:]))
			right := int16(binary.LittleEndian.Uint16(buf[i+2:]))
			pcm.Channels[0] = append(pcm.Channels[0], float32(left)/32768)
			pcm.Channels[1] = append(pcm.Channels[1], float32(right)/32768)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode mp3 frame: %w", err)
		}
	}
	return pcm, nil
}
