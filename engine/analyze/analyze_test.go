package analyze

import (
	"math"
	"testing"
)

func constant(n int, v float32) []float32 {
	b := make([]float32, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestPeak(t *testing.T) {
	tests := []struct {
		name string
		buf  []float32
		want float32
	}{
		{"empty", nil, 0},
		{"positive", []float32{0.1, 0.4, 0.2}, 0.4},
		{"negative wins", []float32{0.3, -0.7, 0.2}, 0.7},
		{"clamped", []float32{0.1, 3.5}, 1},
		{"clamped negative", []float32{-2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Peak(tt.buf); got != tt.want {
				t.Fatalf("want %v got %v", tt.want, got)
			}
		})
	}
}

func TestAddAndScale(t *testing.T) {
	dst := constant(4, 1)
	Add(dst, constant(8, 0.5))
	Scale(dst, 2)
	for i, v := range dst {
		if v != 3 {
			t.Fatalf("index %d: want 3 got %v", i, v)
		}
	}
}

func TestRMSAndGain(t *testing.T) {
	if got := RMS(constant(16, -0.5)); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("rms: want 0.5 got %v", got)
	}
	if got := GainDB(1, 0.5); math.Abs(got-(-6.0206)) > 1e-3 {
		t.Fatalf("gain: want -6.02 got %v", got)
	}
	if GainDB(0, 1) != 0 {
		t.Fatalf("gain from silence should be 0")
	}
}

func TestVerifySignalPath(t *testing.T) {
	cfg := DefaultAnalysisConfig()

	a, err := VerifySignalPath(constant(64, 1), constant(64, 0.5), cfg)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := ValidatePathAnalysis(a, true, cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := ValidateGain(a, -6.0206, cfg); err != nil {
		t.Fatalf("gain: %v", err)
	}

	silent, err := VerifySignalPath(constant(64, 1), constant(64, 0), cfg)
	if err != nil {
		t.Fatalf("verify silent: %v", err)
	}
	if err := ValidatePathAnalysis(silent, false, cfg); err != nil {
		t.Fatalf("silent output should validate as no signal: %v", err)
	}
	if err := ValidatePathAnalysis(silent, true, cfg); err == nil {
		t.Fatalf("silent output should fail expectSignal")
	}

	if _, err := VerifySignalPath(constant(4, 1), constant(8, 1), cfg); err == nil {
		t.Fatalf("length mismatch should error")
	}
}

func TestAnalyzeChain(t *testing.T) {
	cfg := DefaultAnalysisConfig()
	same, _ := AnalyzeChain(constant(8, 0.3), constant(8, 0.3), cfg)
	if err := ValidateChainAnalysis(same, false, cfg); err != nil {
		t.Fatalf("identity chain: %v", err)
	}
	changed, _ := AnalyzeChain(constant(8, 0.3), constant(8, 0.6), cfg)
	if err := ValidateChainAnalysis(changed, true, cfg); err != nil {
		t.Fatalf("gain chain: %v", err)
	}
}
