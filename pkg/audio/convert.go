package audio

// Downmix averages interleaved multi-channel samples into mono. A single
// channel input is returned unchanged.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	n := len(samples) / channels
	out := make([]float32, n)
	for i := range n {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. Returns the input unchanged when the rates match.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}
	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// Normalize returns frame as mono at the target rate. Frames that already
// match are returned as-is.
func Normalize(frame Frame, sampleRate int) Frame {
	channels := frame.Channels
	if channels <= 0 {
		channels = 1
	}
	if channels == 1 && frame.SampleRate == sampleRate {
		return frame
	}
	mono := Downmix(frame.Samples, channels)
	return Frame{
		Samples:    Resample(mono, frame.SampleRate, sampleRate),
		SampleRate: sampleRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}
}
