package feedback

import (
	"encoding/json"
	"fmt"
)

// Aggregator reduces per-element fan-out scores to a single score.
type Aggregator func(scores []float64) float64

// Mean is the default aggregator: the arithmetic mean, 0 for no scores.
func Mean(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// Min returns the lowest score, 0 for no scores.
func Min(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	m := scores[0]
	for _, s := range scores[1:] {
		if s < m {
			m = s
		}
	}
	return m
}

// Max returns the highest score, 0 for no scores.
func Max(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	m := scores[0]
	for _, s := range scores[1:] {
		if s > m {
			m = s
		}
	}
	return m
}

// toFloat converts the numeric types implementations return into float64.
func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected a numeric score, got %T", v)
	}
}
