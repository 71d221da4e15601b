package audio

import "math"

// RMS returns the root-mean-square energy of the samples, normalised to
// [0, 1] where 1 is a full-scale square wave. An empty slice has zero energy.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / FullScale
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// ClippedRatio returns the fraction of samples whose magnitude is at or above
// threshold, where threshold is a fraction of full scale (e.g. 0.98).
func ClippedRatio(samples []int16, threshold float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	limit := threshold * FullScale
	clipped := 0
	for _, s := range samples {
		if math.Abs(float64(s)) >= limit {
			clipped++
		}
	}
	return float64(clipped) / float64(len(samples))
}

// ZeroCrossingRate returns the fraction of adjacent sample pairs that change
// sign. Broadband noise crosses zero far more often than voiced speech, so
// the rate serves as a cheap spectral-flatness indicator for the noise
// profile: high values (≳0.3) suggest noise-like content, low values suggest
// tonal or voiced content.
func ZeroCrossingRate(samples []int16) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// BytesToInt16s converts little-endian 16-bit PCM bytes to samples. A
// trailing odd byte is ignored.
func BytesToInt16s(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return samples
}

// Int16sToBytes converts samples to little-endian 16-bit PCM bytes.
func Int16sToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[2*i] = byte(s)
		b[2*i+1] = byte(s >> 8)
	}
	return b
}
