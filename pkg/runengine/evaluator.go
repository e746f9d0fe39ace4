package runengine

import (
	"context"
	"fmt"

	"github.com/ordino-dev/ordino/pkg/models"
)

// Evaluator decides whether an eval node passes. Implementations inspect the
// node's task data and the run context and return the verdict plus a snapshot
// recorded on the node run.
type Evaluator interface {
	Evaluate(ctx context.Context, node *models.Node, run *models.Run) (bool, map[string]any, error)
}

// ThresholdEvaluator passes an eval node when its score reaches min_score.
// Both values live in the node's task data; a node without min_score always
// passes.
type ThresholdEvaluator struct{}

func (ThresholdEvaluator) Evaluate(_ context.Context, node *models.Node, _ *models.Run) (bool, map[string]any, error) {
	minScore, ok := numericField(node.TaskData, "min_score")
	if !ok {
		return true, map[string]any{"eval": "passed", "reason": "no threshold"}, nil
	}

	score, ok := numericField(node.TaskData, "score")
	if !ok {
		return false, map[string]any{"eval": "failed", "reason": "missing score"}, nil
	}

	if score < minScore {
		return false, map[string]any{
			"eval":      "failed",
			"score":     score,
			"min_score": minScore,
		}, nil
	}

	return true, map[string]any{
		"eval":      "passed",
		"score":     score,
		"min_score": minScore,
	}, nil
}

func numericField(data map[string]any, key string) (float64, bool) {
	v, ok := data[key]
	if !ok {
		return 0, false
	}

	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

var _ Evaluator = ThresholdEvaluator{}

// evalSkippedSnapshot is recorded when no evaluator is configured.
func evalSkippedSnapshot() map[string]any {
	return map[string]any{"eval": "skipped"}
}

func evalError(node *models.Node, err error) error {
	return fmt.Errorf("evaluator failed for node %s: %w", node.NodeID, err)
}
