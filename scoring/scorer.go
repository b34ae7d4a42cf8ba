package scoring

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/asiatensor/soulx-validator/core"
)

// Outcome bundles the score with the throughput figures that go into the
// reward record.
type Outcome struct {
	QualityScore float64
	Volume       float64
	Metric       float64
	StreamMetric float64
	ResponseTime float64
}

// Score grades one query result. Pure function: all inputs arrive parsed,
// nothing is fetched. claimed is non-nil in sus mode and triggers the fraud
// sentinel when observed throughput deviates more than half from the claim.
func Score(result *core.QueryResult, payload json.RawMessage, cfg *core.TaskConfig, claimed *core.ClaimedMetrics) Outcome {
	out := Outcome{ResponseTime: result.ResponseTime}

	if result.StatusCode != 200 || !result.Success {
		return out
	}

	inputChars := InputCharacterCount(payload)
	var volume, numTokens float64
	if cfg.TaskType == core.TaskTypeImage {
		volume, numTokens = ImageWork(payload)
	} else {
		volume, numTokens = TextWork(cfg.Task, result.Chunks, inputChars)
	}
	out.Volume = volume

	if result.ResponseTime > 0 {
		out.Metric = volume / result.ResponseTime
	}
	if result.StreamTime > 0 {
		out.StreamMetric = numTokens / result.StreamTime
	}

	if claimed != nil && isFraudulent(claimed, out.Metric, out.StreamMetric) {
		out.QualityScore = core.FraudSentinel
		out.ResponseTime = core.FraudResponseTime
		return out
	}

	if result.ResponseTime > core.SlowResponseCutoff {
		out.QualityScore = 0.1
		return out
	}

	score := baseScore(cfg.Task, result, out.Metric, out.StreamMetric)
	score *= statusFactor(result.StatusCode)
	score *= 0.8 + 0.2*math.Min(out.Metric/100, 1)
	score *= 0.9 + 0.1*math.Min(out.StreamMetric/50, 1)

	out.QualityScore = clamp01(score)
	return out
}

// isFraudulent compares observed throughput against the contender's claim.
func isFraudulent(claimed *core.ClaimedMetrics, metric, streamMetric float64) bool {
	return deviates(claimed.Metric, metric) || deviates(claimed.StreamMetric, streamMetric)
}

func deviates(claimed, observed float64) bool {
	if claimed <= 0 {
		return false
	}
	return math.Abs(claimed-observed)/claimed > 0.5
}

// baseScore applies the per-family heuristic table, starting from 0.5 and
// capped at 1.0.
func baseScore(task string, result *core.QueryResult, metric, streamMetric float64) float64 {
	score := 0.5
	rt := result.ResponseTime

	switch {
	case strings.Contains(task, "avatar"):
		switch {
		case rt < 30:
			score += 0.2
		case rt < 60:
			score += 0.1
		}
		switch {
		case metric > 30:
			score += 0.2
		case metric > 10:
			score += 0.1
		}
	case strings.Contains(task, "image"):
		switch {
		case rt < 10:
			score += 0.2
		case rt < 20:
			score += 0.1
		}
		switch {
		case metric > 50:
			score += 0.2
		case metric > 20:
			score += 0.1
		}
	case strings.Contains(task, "chat"):
		content := OutputText(task, result.Chunks)
		if len(content) > 10 {
			score += 0.2
		}
		lower := strings.ToLower(content)
		if strings.Contains(lower, "hello") || strings.Contains(lower, "hi") {
			score += 0.1
		}
		switch {
		case metric > 100:
			score += 0.2
		case metric > 50:
			score += 0.1
		}
		if streamMetric > 50 {
			score += 0.1
		}
	default:
		switch {
		case rt < 15:
			score += 0.2
		case rt < 30:
			score += 0.1
		}
		switch {
		case metric > 100:
			score += 0.2
		case metric > 50:
			score += 0.1
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func statusFactor(code int) float64 {
	switch {
	case code == 200:
		return 1.0
	case code == 400:
		return 0.3
	case code == 429:
		return 0.2
	case code >= 500:
		return 0.1
	default:
		return 0.5
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
