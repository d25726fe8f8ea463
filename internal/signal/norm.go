package signal

import "github.com/harunnryd/mihari/internal/config"

// Status fallback values for signals with no explicit threshold entry.
const (
	normOK       = 0.15
	normWarn     = 0.6
	normCritical = 0.9
)

// Normalize maps a signal onto a direction-aware 0-1 risk scale: 0 is calm,
// 1 is at or beyond the critical threshold. Inverted signals (sentiment) are
// negated first so higher normalized value always means riskier. Signals
// without a threshold entry fall back to their status classification.
//
// The transform is piecewise linear and monotone: warn maps to 0.5, critical
// to 1.0.
func Normalize(s Signal, thresholds map[string]config.Threshold) float64 {
	th, ok := thresholds[s.Key]
	if !ok {
		switch s.Status {
		case StatusCritical:
			return normCritical
		case StatusWarn:
			return normWarn
		}
		return normOK
	}

	value, warn, critical := s.Value, th.Warn, th.Critical
	if th.Inverted {
		value, warn, critical = -value, -warn, -critical
	}

	switch {
	case critical <= warn || warn <= 0:
		// Degenerate threshold rows reduce to a step function.
		if value >= critical {
			return 1
		}
		if value >= warn {
			return 0.5
		}
		return 0
	case value <= 0:
		return 0
	case value < warn:
		return 0.5 * value / warn
	case value < critical:
		return 0.5 + 0.5*(value-warn)/(critical-warn)
	}
	return 1
}

// NormalizeAll returns the normalized value per signal key.
func NormalizeAll(signals []Signal, thresholds map[string]config.Threshold) map[string]float64 {
	out := make(map[string]float64, len(signals))
	for _, s := range signals {
		out[s.Key] = Normalize(s, thresholds)
	}
	return out
}
