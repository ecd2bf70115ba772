// Package analyze provides block level primitives used for peak metering on
// the audio path, and path analysis helpers for verifying routing in tests
// and tools.
package analyze

import (
	"fmt"
	"math"
)

// Add accumulates src into dst over the shorter of the two lengths.
func Add(dst, src []float32) {
	n := min(len(dst), len(src))
	dst = dst[:n]
	src = src[:n]
	for i := range dst {
		dst[i] += src[i]
	}
}

// Scale multiplies buf by gain in place.
func Scale(buf []float32, gain float32) {
	for i := range buf {
		buf[i] *= gain
	}
}

// MinMax returns the smallest and largest sample of buf, or zeros when buf
// is empty.
func MinMax(buf []float32) (lo, hi float32) {
	if len(buf) == 0 {
		return 0, 0
	}
	lo, hi = buf[0], buf[0]
	for _, v := range buf[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Peak returns the largest magnitude in buf, clamped to 1.
func Peak(buf []float32) float32 {
	lo, hi := MinMax(buf)
	if lo < 0 {
		lo = -lo
	}
	if hi < 0 {
		hi = -hi
	}
	p := max(lo, hi)
	if p > 1 || p != p {
		return 1
	}
	return p
}

// RMS returns the root mean square level of buf.
func RMS(buf []float32) float64 {
	if len(buf) == 0 {
		return 0
	}
	var sum float64
	for _, v := range buf {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(buf)))
}

// GainDB returns the level change in dB from in to out, or 0 when either is
// silent.
func GainDB(in, out float64) float64 {
	if in <= 0 || out <= 0 {
		return 0
	}
	return 20 * math.Log10(out/in)
}

// PathAnalysis contains the result of comparing a routed block's input and
// output channels.
type PathAnalysis struct {
	InputDetected   bool    // signal present at input
	OutputDetected  bool    // signal present at output
	SignalIntegrity bool    // output is a scaled copy of the input
	InputRMS        float64 // input level
	OutputRMS       float64 // output level
	GainChange      float64 // dB change from input to output
}

// ChainAnalysis contains the result of analysing a processed block.
type ChainAnalysis struct {
	InputRMS     float64
	OutputRMS    float64
	GainChange   float64
	IsProcessing bool // output differs from input
	Frames       int
}

// AnalysisConfig tunes the detection thresholds.
type AnalysisConfig struct {
	MinSignalLevel float64 // minimum RMS considered signal
	ToleranceDB    float64 // tolerance for level comparisons
}

// DefaultAnalysisConfig returns thresholds suitable for unit level checks.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		MinSignalLevel: 0.001, // -60dB
		ToleranceDB:    0.1,
	}
}

// VerifySignalPath compares one input and one output channel of a block.
func VerifySignalPath(in, out []float32, config AnalysisConfig) (*PathAnalysis, error) {
	if len(in) == 0 || len(out) == 0 {
		return nil, fmt.Errorf("invalid parameters: input and output blocks cannot be empty")
	}
	if len(in) != len(out) {
		return nil, fmt.Errorf("block length mismatch: input %d, output %d", len(in), len(out))
	}

	a := &PathAnalysis{
		InputRMS:  RMS(in),
		OutputRMS: RMS(out),
	}
	a.InputDetected = a.InputRMS >= config.MinSignalLevel
	a.OutputDetected = a.OutputRMS >= config.MinSignalLevel
	a.GainChange = GainDB(a.InputRMS, a.OutputRMS)

	if a.InputDetected && a.OutputDetected {
		ratio := float32(a.OutputRMS / a.InputRMS)
		if dot(in, out) < 0 {
			ratio = -ratio
		}
		tol := float32(config.MinSignalLevel)
		a.SignalIntegrity = true
		for i := range in {
			if d := out[i] - in[i]*ratio; d > tol || d < -tol {
				a.SignalIntegrity = false
				break
			}
		}
	}
	return a, nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// AnalyzeChain compares a block before and after processing.
func AnalyzeChain(in, out []float32, config AnalysisConfig) (*ChainAnalysis, error) {
	if len(in) != len(out) {
		return nil, fmt.Errorf("block length mismatch: input %d, output %d", len(in), len(out))
	}
	a := &ChainAnalysis{
		InputRMS:  RMS(in),
		OutputRMS: RMS(out),
		Frames:    len(out),
	}
	a.GainChange = GainDB(a.InputRMS, a.OutputRMS)
	tol := float32(config.MinSignalLevel)
	for i := range in {
		if d := out[i] - in[i]; d > tol || d < -tol {
			a.IsProcessing = true
			break
		}
	}
	return a, nil
}

// ValidatePathAnalysis checks a path analysis against expectations.
func ValidatePathAnalysis(analysis *PathAnalysis, expectSignal bool, config AnalysisConfig) error {
	if expectSignal {
		if !analysis.InputDetected {
			return fmt.Errorf("expected signal at input but none detected (RMS: %.6f)", analysis.InputRMS)
		}
		if !analysis.OutputDetected {
			return fmt.Errorf("expected signal at output but none detected (RMS: %.6f)", analysis.OutputRMS)
		}
		if !analysis.SignalIntegrity {
			return fmt.Errorf("signal integrity check failed")
		}
	} else if analysis.OutputDetected {
		return fmt.Errorf("expected no signal at output but detected (RMS: %.6f)", analysis.OutputRMS)
	}
	return nil
}

// ValidateGain checks that a path changed level by wantDB within the
// configured tolerance.
func ValidateGain(analysis *PathAnalysis, wantDB float64, config AnalysisConfig) error {
	if d := math.Abs(analysis.GainChange - wantDB); d > config.ToleranceDB {
		return fmt.Errorf("gain mismatch: expected %.2f dB, got %.2f dB", wantDB, analysis.GainChange)
	}
	return nil
}

// ValidateChainAnalysis checks whether a chain altered its input.
func ValidateChainAnalysis(analysis *ChainAnalysis, expectProcessing bool, config AnalysisConfig) error {
	if expectProcessing {
		if !analysis.IsProcessing {
			return fmt.Errorf("expected plugin chain to be processing but it's not")
		}
		if analysis.Frames == 0 {
			return fmt.Errorf("expected output frames but got none")
		}
	} else if analysis.IsProcessing && analysis.OutputRMS >= config.MinSignalLevel {
		return fmt.Errorf("expected no processing but chain is active")
	}
	return nil
}
