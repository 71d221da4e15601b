package audio

import (
	"math"
	"testing"
	"time"
)

func TestRMS_Silence(t *testing.T) {
	if got := RMS(make([]int16, 320)); got != 0 {
		t.Errorf("RMS of all-zero frame = %v, want 0", got)
	}
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS of empty slice = %v, want 0", got)
	}
}

func TestRMS_FullScaleSquareWave(t *testing.T) {
	samples := make([]int16, 320)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = FullScale
		} else {
			samples[i] = -FullScale
		}
	}
	if got := RMS(samples); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("RMS of full-scale square wave = %v, want 1.0", got)
	}
}

func TestRMS_Sine(t *testing.T) {
	// A full-scale sine has RMS 1/sqrt(2).
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(FullScale * math.Sin(2*math.Pi*float64(i)/100))
	}
	want := 1 / math.Sqrt2
	if got := RMS(samples); math.Abs(got-want) > 0.01 {
		t.Errorf("RMS of full-scale sine = %v, want ~%v", got, want)
	}
}

func TestClippedRatio(t *testing.T) {
	samples := make([]int16, 100)
	for i := 0; i < 6; i++ {
		nearFull := 0.99 * FullScale
		samples[i] = int16(nearFull)
	}
	for i := 6; i < 100; i++ {
		samples[i] = 1000
	}
	if got := ClippedRatio(samples, 0.98); math.Abs(got-0.06) > 1e-9 {
		t.Errorf("ClippedRatio = %v, want 0.06", got)
	}
	if got := ClippedRatio(samples, 1.0); got != 0 {
		t.Errorf("ClippedRatio with threshold 1.0 = %v, want 0", got)
	}
}

func TestClippedRatio_NegativeSamples(t *testing.T) {
	samples := []int16{-32700, 32700, 0, 0}
	if got := ClippedRatio(samples, 0.98); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("ClippedRatio = %v, want 0.5 (both polarities count)", got)
	}
}

func TestZeroCrossingRate(t *testing.T) {
	alternating := []int16{100, -100, 100, -100, 100}
	if got := ZeroCrossingRate(alternating); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("ZCR of alternating signal = %v, want 1.0", got)
	}
	dc := []int16{500, 500, 500, 500}
	if got := ZeroCrossingRate(dc); got != 0 {
		t.Errorf("ZCR of DC signal = %v, want 0", got)
	}
}

func TestBytesInt16Conversion(t *testing.T) {
	samples := []int16{0, 1, -1, FullScale, -FullScale - 1, 12345}
	got := BytesToInt16s(Int16sToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("length = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestBytesToInt16s_OddTrailingByte(t *testing.T) {
	got := BytesToInt16s([]byte{0x34, 0x12, 0xff})
	if len(got) != 1 || got[0] != 0x1234 {
		t.Errorf("got %v, want [0x1234] with trailing byte ignored", got)
	}
}

func TestFrameDuration(t *testing.T) {
	f := Frame{Samples: make([]int16, 320), SampleRate: 16000}
	if got := f.Duration(); got != 20*time.Millisecond {
		t.Errorf("Duration = %v, want 20ms", got)
	}
	zero := Frame{Samples: make([]int16, 320)}
	if got := zero.Duration(); got != 0 {
		t.Errorf("Duration with zero sample rate = %v, want 0", got)
	}
}
