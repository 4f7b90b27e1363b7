// Forensic analysis over an evidence packet: timing statistics,
// synthetic-pattern detection, keystroke plausibility, the advisory
// behavioral fingerprint, and chain-level oddities. Everything here is
// advisory; findings surface as indicators, never hard rejections.
package verify

import (
	"fmt"
	"math"
	"sort"
	"time"

	"witnessd/internal/evidence"
)

const (
	// MinHumanCheckpointInterval is the shortest checkpoint spacing a
	// human author plausibly produces.
	MinHumanCheckpointInterval = 100 * time.Millisecond

	// MaxHumanTypingSpeed bounds keystrokes per minute from above.
	MaxHumanTypingSpeed = 200.0

	// MinHumanTypingSpeed bounds keystrokes per minute from below.
	MinHumanTypingSpeed = 5.0

	// TooRegularVarianceThreshold is the coefficient of variation below
	// which checkpoint intervals read as machine-generated.
	TooRegularVarianceThreshold = 0.01

	// MinStatisticalSamples gates the statistical checks.
	MinStatisticalSamples = 5
)

// ForensicIndicator is one detected anomaly.
type ForensicIndicator struct {
	Type        ForensicIndicatorType `json:"type"`
	Severity    ForensicSeverity      `json:"severity"`
	Description string                `json:"description"`
	Details     map[string]any        `json:"details,omitempty"`
	Checkpoint  *int                  `json:"checkpoint,omitempty"`
	TimeRange   *TimeRange            `json:"time_range,omitempty"`
}

// ForensicIndicatorType categorizes indicators.
type ForensicIndicatorType string

const (
	IndicatorTimingAnomaly     ForensicIndicatorType = "timing_anomaly"
	IndicatorSyntheticPattern  ForensicIndicatorType = "synthetic_pattern"
	IndicatorBurstPattern      ForensicIndicatorType = "burst_pattern"
	IndicatorGapPattern        ForensicIndicatorType = "gap_pattern"
	IndicatorClockManipulation ForensicIndicatorType = "clock_manipulation"
	IndicatorKeystrokeAnomaly  ForensicIndicatorType = "keystroke_anomaly"
	IndicatorBehavioralAnomaly ForensicIndicatorType = "behavioral_anomaly"
	IndicatorChainAnomaly      ForensicIndicatorType = "chain_anomaly"
)

// ForensicSeverity ranks an indicator.
type ForensicSeverity string

const (
	SeverityInfo     ForensicSeverity = "info"
	SeverityWarning  ForensicSeverity = "warning"
	SeverityCritical ForensicSeverity = "critical"
)

// TimeRange is a closed time interval.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ForensicVerificationResult is the full analysis outcome.
type ForensicVerificationResult struct {
	Clean      bool                `json:"clean"`
	Indicators []ForensicIndicator `json:"indicators"`
	Statistics *ForensicStatistics `json:"statistics,omitempty"`
	// Score runs 0.0 (highly suspicious) to 1.0 (clean).
	Score      float64 `json:"score"`
	Assessment string  `json:"assessment"`
}

func (r *ForensicVerificationResult) add(ind ForensicIndicator) {
	r.Indicators = append(r.Indicators, ind)
}

// ForensicStatistics summarizes checkpoint timing.
type ForensicStatistics struct {
	TotalCheckpoints       int           `json:"total_checkpoints"`
	TotalDuration          time.Duration `json:"total_duration"`
	MeanInterval           time.Duration `json:"mean_interval"`
	MedianInterval         time.Duration `json:"median_interval"`
	StdDevInterval         time.Duration `json:"stddev_interval"`
	CoefficientOfVariation float64       `json:"coefficient_of_variation"`
	MinInterval            time.Duration `json:"min_interval"`
	MaxInterval            time.Duration `json:"max_interval"`
	EditRate               float64       `json:"edit_rate"` // checkpoints per minute
}

// ForensicVerifier runs the analysis with configurable thresholds.
type ForensicVerifier struct {
	minHumanInterval time.Duration
	maxTypingSpeed   float64
	minTypingSpeed   float64
}

// NewForensicVerifier uses the package default thresholds.
func NewForensicVerifier() *ForensicVerifier {
	return &ForensicVerifier{
		minHumanInterval: MinHumanCheckpointInterval,
		maxTypingSpeed:   MaxHumanTypingSpeed,
		minTypingSpeed:   MinHumanTypingSpeed,
	}
}

// WithMinInterval overrides the minimum human checkpoint interval.
func (v *ForensicVerifier) WithMinInterval(d time.Duration) *ForensicVerifier {
	v.minHumanInterval = d
	return v
}

// WithTypingSpeedRange overrides the plausible typing-speed band.
func (v *ForensicVerifier) WithTypingSpeedRange(min, max float64) *ForensicVerifier {
	v.minTypingSpeed = min
	v.maxTypingSpeed = max
	return v
}

// AnalyzeEvidence runs every analysis pass over the packet.
func (v *ForensicVerifier) AnalyzeEvidence(packet *evidence.Packet) (*ForensicVerificationResult, error) {
	result := &ForensicVerificationResult{
		Clean:      true,
		Indicators: make([]ForensicIndicator, 0),
		Score:      1.0,
	}

	v.analyzeCheckpointTiming(packet, result)
	if packet.Keystroke != nil {
		v.analyzeKeystrokePatterns(packet, result)
	}
	if packet.Behavioral != nil {
		v.analyzeBehavioralPatterns(packet, result)
	}
	v.analyzeChainConsistency(packet, result)

	result.Statistics = v.calculateStatistics(packet)
	result.Score = v.calculateScore(result)
	result.Clean = result.Score >= 0.7
	result.Assessment = v.generateAssessment(result)
	return result, nil
}

// analyzeCheckpointTiming walks consecutive timestamps looking for
// clock reversals, implausibly fast checkpoints, and day-scale gaps.
func (v *ForensicVerifier) analyzeCheckpointTiming(packet *evidence.Packet, result *ForensicVerificationResult) {
	if len(packet.Checkpoints) < 2 {
		return
	}

	var intervals []time.Duration
	lastTimestamp := packet.Checkpoints[0].Timestamp

	for i := 1; i < len(packet.Checkpoints); i++ {
		cp := packet.Checkpoints[i]
		interval := cp.Timestamp.Sub(lastTimestamp)
		intervals = append(intervals, interval)
		cpIdx := i

		if interval < 0 {
			result.add(ForensicIndicator{
				Type:        IndicatorClockManipulation,
				Severity:    SeverityCritical,
				Description: fmt.Sprintf("checkpoint %d timestamp before previous checkpoint", i),
				Checkpoint:  &cpIdx,
				Details: map[string]any{
					"current_timestamp":  cp.Timestamp,
					"previous_timestamp": lastTimestamp,
					"difference":         interval.String(),
				},
			})
		}

		if interval >= 0 && interval < v.minHumanInterval {
			result.add(ForensicIndicator{
				Type:        IndicatorTimingAnomaly,
				Severity:    SeverityWarning,
				Description: fmt.Sprintf("checkpoint %d created only %v after previous", i, interval),
				Checkpoint:  &cpIdx,
				Details: map[string]any{
					"interval":     interval.String(),
					"min_expected": v.minHumanInterval.String(),
				},
			})
		}

		if interval > 24*time.Hour {
			result.add(ForensicIndicator{
				Type:        IndicatorGapPattern,
				Severity:    SeverityInfo,
				Description: fmt.Sprintf("large gap (%v) before checkpoint %d", interval.Round(time.Hour), i),
				Checkpoint:  &cpIdx,
				TimeRange:   &TimeRange{Start: lastTimestamp, End: cp.Timestamp},
			})
		}

		lastTimestamp = cp.Timestamp
	}

	if len(intervals) >= MinStatisticalSamples {
		v.checkSyntheticRegularity(intervals, result)
	}
	v.checkBurstPatterns(intervals, result)
}

// checkSyntheticRegularity flags interval sequences whose coefficient
// of variation is too low for a human to have produced.
func (v *ForensicVerifier) checkSyntheticRegularity(intervals []time.Duration, result *ForensicVerificationResult) {
	if len(intervals) < MinStatisticalSamples {
		return
	}

	mean, variance := intervalMoments(intervals)
	stdDev := math.Sqrt(variance)
	cv := stdDev / mean

	if cv < TooRegularVarianceThreshold && len(intervals) > 5 {
		result.add(ForensicIndicator{
			Type:        IndicatorSyntheticPattern,
			Severity:    SeverityCritical,
			Description: "checkpoint intervals are suspiciously uniform (possible synthetic data)",
			Details: map[string]any{
				"mean_interval":            time.Duration(mean).String(),
				"stddev":                   time.Duration(stdDev).String(),
				"coefficient_of_variation": cv,
				"sample_size":              len(intervals),
			},
		})
	}
}

func intervalMoments(intervals []time.Duration) (mean, variance float64) {
	var sum int64
	for _, interval := range intervals {
		sum += int64(interval)
	}
	mean = float64(sum) / float64(len(intervals))

	for _, interval := range intervals {
		diff := float64(interval) - mean
		variance += diff * diff
	}
	variance /= float64(len(intervals))
	return mean, variance
}

// checkBurstPatterns flags runs of three or more sub-second intervals.
func (v *ForensicVerifier) checkBurstPatterns(intervals []time.Duration, result *ForensicVerificationResult) {
	if len(intervals) < 3 {
		return
	}

	burstCount := 0
	burstStart := -1
	for i, interval := range intervals {
		if interval < time.Second {
			if burstStart == -1 {
				burstStart = i
			}
			burstCount++
			continue
		}
		if burstCount >= 3 {
			result.add(ForensicIndicator{
				Type:        IndicatorBurstPattern,
				Severity:    SeverityWarning,
				Description: fmt.Sprintf("burst of %d checkpoints in rapid succession", burstCount),
				Details: map[string]any{
					"start_checkpoint": burstStart,
					"end_checkpoint":   i,
					"checkpoint_count": burstCount,
				},
			})
		}
		burstCount = 0
		burstStart = -1
	}
}

// analyzeKeystrokePatterns checks the keystroke section's claimed rates
// and chain validity.
func (v *ForensicVerifier) analyzeKeystrokePatterns(packet *evidence.Packet, result *ForensicVerificationResult) {
	ks := packet.Keystroke

	if ks.KeystrokesPerMin > v.maxTypingSpeed {
		result.add(ForensicIndicator{
			Type:        IndicatorKeystrokeAnomaly,
			Severity:    SeverityCritical,
			Description: "keystroke rate exceeds human capability",
			Details: map[string]any{
				"reported_rate": ks.KeystrokesPerMin,
				"max_expected":  v.maxTypingSpeed,
			},
		})
	}
	if ks.KeystrokesPerMin > 0 && ks.KeystrokesPerMin < v.minTypingSpeed {
		result.add(ForensicIndicator{
			Type:        IndicatorKeystrokeAnomaly,
			Severity:    SeverityInfo,
			Description: "keystroke rate is unusually low",
			Details: map[string]any{
				"reported_rate": ks.KeystrokesPerMin,
				"min_expected":  v.minTypingSpeed,
			},
		})
	}
	if !ks.ChainValid {
		result.add(ForensicIndicator{
			Type:        IndicatorKeystrokeAnomaly,
			Severity:    SeverityCritical,
			Description: "keystroke evidence chain is invalid",
		})
	}
	if !ks.PlausibleHumanRate {
		result.add(ForensicIndicator{
			Type:        IndicatorKeystrokeAnomaly,
			Severity:    SeverityWarning,
			Description: "keystroke pattern flagged as non-human",
		})
	}

	if ks.TotalSamples > 0 && ks.TotalKeystrokes > 0 {
		avgPerSample := float64(ks.TotalKeystrokes) / float64(ks.TotalSamples)
		if avgPerSample > 1000 {
			result.add(ForensicIndicator{
				Type:        IndicatorKeystrokeAnomaly,
				Severity:    SeverityWarning,
				Description: "unusually high keystrokes per sample",
				Details:     map[string]any{"avg_per_sample": avgPerSample},
			})
		}
	}
}

// analyzeBehavioralPatterns surfaces the advisory forgery-detector
// flags. These never fail verification.
func (v *ForensicVerifier) analyzeBehavioralPatterns(packet *evidence.Packet, result *ForensicVerificationResult) {
	beh := packet.Behavioral
	if beh == nil || beh.Fingerprint == nil || !beh.Fingerprint.IsSuspicious {
		return
	}

	fp := beh.Fingerprint
	for _, flag := range fp.Flags {
		result.add(ForensicIndicator{
			Type:        IndicatorBehavioralAnomaly,
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("behavioral fingerprint flagged: %s", flag),
			Details: map[string]any{
				"confidence": fp.Confidence,
				"mean_ms":    fp.Mean,
				"stddev_ms":  fp.StdDev,
			},
		})
	}
}

// analyzeChainConsistency flags checkpoints that fired with no observed
// change in document state.
func (v *ForensicVerifier) analyzeChainConsistency(packet *evidence.Packet, result *ForensicVerificationResult) {
	for i := 1; i < len(packet.Checkpoints); i++ {
		if packet.Checkpoints[i].DocumentHash == packet.Checkpoints[i-1].DocumentHash {
			cpIdx := i
			result.add(ForensicIndicator{
				Type:        IndicatorChainAnomaly,
				Severity:    SeverityInfo,
				Description: fmt.Sprintf("checkpoint %d has same document hash as previous", i),
				Checkpoint:  &cpIdx,
			})
		}
	}
}

// calculateStatistics computes the interval summary for the report.
func (v *ForensicVerifier) calculateStatistics(packet *evidence.Packet) *ForensicStatistics {
	stats := &ForensicStatistics{TotalCheckpoints: len(packet.Checkpoints)}
	if len(packet.Checkpoints) < 2 {
		return stats
	}

	var intervals []time.Duration
	for i := 1; i < len(packet.Checkpoints); i++ {
		intervals = append(intervals, packet.Checkpoints[i].Timestamp.Sub(packet.Checkpoints[i-1].Timestamp))
	}

	sorted := append([]time.Duration(nil), intervals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	stats.MinInterval = sorted[0]
	stats.MaxInterval = sorted[len(sorted)-1]
	stats.MedianInterval = sorted[len(sorted)/2]

	mean, variance := intervalMoments(intervals)
	stats.MeanInterval = time.Duration(mean)
	stats.StdDevInterval = time.Duration(math.Sqrt(variance))
	if mean > 0 {
		stats.CoefficientOfVariation = math.Sqrt(variance) / mean
	}

	stats.TotalDuration = packet.Checkpoints[len(packet.Checkpoints)-1].Timestamp.Sub(
		packet.Checkpoints[0].Timestamp)
	if stats.TotalDuration > 0 {
		stats.EditRate = float64(len(packet.Checkpoints)) / stats.TotalDuration.Minutes()
	}
	return stats
}

// calculateScore deducts per indicator by severity, floored at zero.
func (v *ForensicVerifier) calculateScore(result *ForensicVerificationResult) float64 {
	score := 1.0
	for _, indicator := range result.Indicators {
		switch indicator.Severity {
		case SeverityCritical:
			score -= 0.3
		case SeverityWarning:
			score -= 0.1
		case SeverityInfo:
			score -= 0.02
		}
	}
	return math.Max(score, 0)
}

func (v *ForensicVerifier) generateAssessment(result *ForensicVerificationResult) string {
	critical := 0
	warnings := 0
	for _, indicator := range result.Indicators {
		switch indicator.Severity {
		case SeverityCritical:
			critical++
		case SeverityWarning:
			warnings++
		}
	}

	switch {
	case critical > 0:
		return fmt.Sprintf("SUSPICIOUS: %d critical anomalies detected - manual review required", critical)
	case warnings > 2:
		return fmt.Sprintf("CAUTION: %d warning indicators - review recommended", warnings)
	case warnings > 0:
		return "ACCEPTABLE: minor anomalies detected but within normal range"
	default:
		return "CLEAN: no forensic anomalies detected"
	}
}
