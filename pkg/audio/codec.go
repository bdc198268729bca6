package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
)

// pcmScale maps a normalised amplitude to the int16 range and back.
const pcmScale = 32768

// ErrOddLength is returned by [Decode] and [FloatFromPCM16] when the PCM
// payload does not hold a whole number of 16-bit samples.
var ErrOddLength = errors.New("audio: odd byte count in PCM16 data")

// MIMEType returns the raw PCM descriptor for the given sample rate.
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// Encode converts a frame to its wire form. Samples are scaled by 32768,
// rounded, and saturated to the int16 range; out-of-range input clips
// instead of wrapping around.
func Encode(frame Frame) EncodedChunk {
	rate := frame.SampleRate
	if rate == 0 {
		rate = CaptureSampleRate
	}
	return EncodedChunk{
		Data:     base64.StdEncoding.EncodeToString(PCM16FromFloat(frame.Samples)),
		MIMEType: MIMEType(rate),
	}
}

// Decode interprets chunk as base64 little-endian PCM16 and renormalises it
// to floating-point amplitudes at the given rate and channel count.
func Decode(chunk EncodedChunk, sampleRate, channels int) (Frame, error) {
	raw, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return Frame{}, fmt.Errorf("audio: decode base64: %w", err)
	}
	samples, err := FloatFromPCM16(raw)
	if err != nil {
		return Frame{}, err
	}
	if channels <= 0 {
		channels = 1
	}
	return Frame{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// PCM16FromFloat converts normalised samples to little-endian int16 bytes.
func PCM16FromFloat(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * pcmScale)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		n := int16(v)
		out[i*2] = byte(n)
		out[i*2+1] = byte(n >> 8)
	}
	return out
}

// FloatFromPCM16 converts little-endian int16 bytes to normalised samples.
func FloatFromPCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w (%d bytes)", ErrOddLength, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		n := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(n) / pcmScale
	}
	return out, nil
}
