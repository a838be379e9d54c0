package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// ErrEmptyAudio is returned when there is nothing to decode.
var ErrEmptyAudio = errors.New("audio data is empty")

// Decode converts mp3 or wav bytes into PCM in the output format and
// returns the PCM and its duration.
func Decode(data []byte) ([]byte, time.Duration, error) {
	if len(data) == 0 {
		return nil, 0, ErrEmptyAudio
	}

	streamer, format, err := decodeStreamer(data)
	if err != nil {
		return nil, 0, err
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if format.SampleRate != SampleRate {
		s = beep.Resample(3, format.SampleRate, beep.SampleRate(SampleRate), streamer)
	}

	pcm, err := readPCM(s)
	if err != nil {
		return nil, 0, err
	}
	if err := streamer.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to decode audio: %w", err)
	}
	return pcm, PCMDuration(len(pcm)), nil
}

func decodeStreamer(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	if bytes.HasPrefix(data, []byte("RIFF")) {
		streamer, format, err := wav.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("failed to decode wav: %w", err)
		}
		return streamer, format, nil
	}

	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("failed to decode mp3: %w", err)
	}
	return streamer, format, nil
}

// readPCM drains s into interleaved signed 16-bit little-endian stereo.
func readPCM(s beep.Streamer) ([]byte, error) {
	var out bytes.Buffer
	buf := make([][2]float64, 4096)
	frame := make([]byte, BytesPerFrame)

	for {
		n, ok := s.Stream(buf)
		for _, sample := range buf[:n] {
			binary.LittleEndian.PutUint16(frame[0:], uint16(toInt16(sample[0])))
			binary.LittleEndian.PutUint16(frame[2:], uint16(toInt16(sample[1])))
			out.Write(frame)
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func toInt16(v float64) int16 {
	v = math.Max(-1, math.Min(1, v))
	return int16(v * math.MaxInt16)
}

// PCMDuration is the playing time of n bytes of output-format PCM.
func PCMDuration(n int) time.Duration {
	frames := n / BytesPerFrame
	return time.Duration(frames) * time.Second / SampleRate
}

// Tone generates a sine wave in the output format.
func Tone(freq float64, amplitude float64, d time.Duration) []byte {
	frames := int(d * SampleRate / time.Second)
	pcm := make([]byte, frames*BytesPerFrame)
	for i := 0; i < frames; i++ {
		v := uint16(toInt16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/SampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*BytesPerFrame:], v)
		binary.LittleEndian.PutUint16(pcm[i*BytesPerFrame+2:], v)
	}
	return pcm
}
