// Package fingerprint computes a behavioral summary over inter-key
// timing intervals and classifies a sample as plausibly human or
// suspiciously regular/mechanical. The result is
// advisory: it never fails verification on its own, only attaches
// caveats.
package fingerprint

import "math"

// Flag names one non-exclusive forgery indicator.
type Flag string

const (
	TooRegular          Flag = "too_regular"
	WrongSkewness       Flag = "wrong_skewness"
	MissingMicroPauses  Flag = "missing_micro_pauses"
	SuperhumanSpeed     Flag = "superhuman_speed"
)

// Thresholds holds the forgery-detector calibration constants, exposed
// as configuration rather than baked-in numbers.
type Thresholds struct {
	// CoefficientOfVariation below this is TooRegular.
	CoefficientOfVariation float64
	// Skewness below this is WrongSkewness.
	Skewness float64
	// MicroPauseFraction below this is MissingMicroPauses.
	MicroPauseFraction float64
	// SuperhumanFraction of intervals under SuperhumanThreshold triggers SuperhumanSpeed.
	SuperhumanFraction float64

	MicroPauseMin    float64 // ms
	MicroPauseMax    float64 // ms
	SuperhumanMaxMs  float64 // ms
	LongPauseMs      float64 // ms
	BurstGapMs       float64 // ms
	IntervalFloorMs  float64 // ms, exclusive lower bound for a usable interval
	IntervalCeilMs   float64 // ms, exclusive upper bound for a usable interval
}

// DefaultThresholds returns the standard calibration constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CoefficientOfVariation: 0.2,
		Skewness:               0.2,
		MicroPauseFraction:     0.05,
		SuperhumanFraction:     0.10,
		MicroPauseMin:          150,
		MicroPauseMax:          500,
		SuperhumanMaxMs:        20,
		LongPauseMs:            2000,
		BurstGapMs:             500,
		IntervalFloorMs:        0,
		IntervalCeilMs:         5000,
	}
}

// Fingerprint is the per-session summary of inter-key timing.
type Fingerprint struct {
	SampleCount       int      `json:"sample_count"`
	Mean              float64  `json:"mean_ms"`
	StdDev            float64  `json:"stddev_ms"`
	Skewness          float64  `json:"skewness"`
	ExcessKurtosis    float64  `json:"excess_kurtosis"`
	LongPauseFreq     float64  `json:"long_pause_freq"`

	// BurstMean is the average number of consecutive intervals between
	// pauses longer than the burst gap, a count, not a duration.
	BurstMean float64 `json:"burst_mean"`
	Flags             []Flag   `json:"flags,omitempty"`
	IsSuspicious      bool     `json:"is_suspicious"`
	Confidence        float64  `json:"confidence"`
}

// ErrInsufficientSamples is returned when fewer than 10 usable intervals
// are available; the statistics are meaningless below that.
var ErrInsufficientSamples = errInsufficient{}

type errInsufficient struct{}

func (errInsufficient) Error() string { return "fingerprint: fewer than 10 usable intervals" }

// Compute derives a Fingerprint from a sequence of raw inter-key
// intervals in milliseconds. Intervals outside (0, 5000) ms are
// filtered before any statistic is computed.
func Compute(intervalsMs []float64, th Thresholds) (*Fingerprint, error) {
	filtered := make([]float64, 0, len(intervalsMs))
	for _, d := range intervalsMs {
		if d > th.IntervalFloorMs && d < th.IntervalCeilMs {
			filtered = append(filtered, d)
		}
	}
	if len(filtered) < 10 {
		return nil, ErrInsufficientSamples
	}

	n := float64(len(filtered))
	mean := sum(filtered) / n

	var m2, m3, m4 float64
	for _, x := range filtered {
		d := x - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	m2 /= n
	m3 /= n
	m4 /= n

	stddev := math.Sqrt(m2)

	var skew, kurt float64
	if stddev > 0 {
		skew = m3 / (stddev * stddev * stddev)
		kurt = m4/(stddev*stddev*stddev*stddev) - 3
	}

	longPauses := 0
	microPauses := 0
	superhuman := 0
	for _, x := range filtered {
		if x > th.LongPauseMs {
			longPauses++
		}
		if x >= th.MicroPauseMin && x <= th.MicroPauseMax {
			microPauses++
		}
		if x < th.SuperhumanMaxMs {
			superhuman++
		}
	}
	longPauseFreq := float64(longPauses) / n
	microPauseFraction := float64(microPauses) / n
	superhumanFraction := float64(superhuman) / n

	burstMean := computeBurstMean(filtered, th.BurstGapMs)

	var cv float64
	if mean != 0 {
		cv = stddev / mean
	}

	fp := &Fingerprint{
		SampleCount:    len(filtered),
		Mean:           mean,
		StdDev:         stddev,
		Skewness:       skew,
		ExcessKurtosis: kurt,
		LongPauseFreq:  longPauseFreq,
		BurstMean:      burstMean,
	}

	if cv < th.CoefficientOfVariation {
		fp.Flags = append(fp.Flags, TooRegular)
	}
	if skew < th.Skewness {
		fp.Flags = append(fp.Flags, WrongSkewness)
	}
	if microPauseFraction < th.MicroPauseFraction {
		fp.Flags = append(fp.Flags, MissingMicroPauses)
	}
	if superhumanFraction > th.SuperhumanFraction {
		fp.Flags = append(fp.Flags, SuperhumanSpeed)
	}

	fp.IsSuspicious = len(fp.Flags) > 0
	fp.Confidence = math.Min(1.0, 0.3*float64(len(fp.Flags)))

	return fp, nil
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

// computeBurstMean returns the mean burst length: the average number of
// consecutive intervals no larger than burstGapMs between the pauses
// that break them. A gap interval is a pause, not typing, and belongs
// to no burst.
func computeBurstMean(intervals []float64, burstGapMs float64) float64 {
	var bursts []float64
	currentLen := 0

	for _, x := range intervals {
		if x > burstGapMs {
			if currentLen > 0 {
				bursts = append(bursts, float64(currentLen))
			}
			currentLen = 0
		} else {
			currentLen++
		}
	}
	if currentLen > 0 {
		bursts = append(bursts, float64(currentLen))
	}

	if len(bursts) == 0 {
		return 0
	}
	return sum(bursts) / float64(len(bursts))
}

// HasFlag reports whether a fingerprint carries the given flag.
func (fp *Fingerprint) HasFlag(f Flag) bool {
	for _, flag := range fp.Flags {
		if flag == f {
			return true
		}
	}
	return false
}
