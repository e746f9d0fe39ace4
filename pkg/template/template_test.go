package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordino-dev/ordino/pkg/models"
)

func testRun() *models.Run {
	return &models.Run{
		RunID:      "run-1",
		TraceID:    "tr-abc",
		WorkflowID: "wf-1",
		ConfigSnapshot: map[string]any{
			"region":  "us-east-1",
			"retries": 3,
		},
	}
}

func TestRenderTaskDataSubstitutesConfig(t *testing.T) {
	rendered, err := RenderTaskData(map[string]any{
		"target":   "{{ .config.region }}",
		"priority": 5,
		"plain":    "no placeholders here",
	}, testRun())
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", rendered["target"])
	assert.Equal(t, 5, rendered["priority"])
	assert.Equal(t, "no placeholders here", rendered["plain"])
}

func TestRenderTaskDataExposesRunContext(t *testing.T) {
	rendered, err := RenderTaskData(map[string]any{
		"marker": "{{ .run.id }}:{{ .run.workflow_id }}",
	}, testRun())
	require.NoError(t, err)

	assert.Equal(t, "run-1:wf-1", rendered["marker"])
}

func TestRenderTaskDataBadTemplate(t *testing.T) {
	_, err := RenderTaskData(map[string]any{
		"broken": "{{ .config.region",
	}, testRun())
	require.Error(t, err)
}

func TestRenderCoercesTypes(t *testing.T) {
	num, err := Render("{{ .config.retries }}", map[string]any{
		"config": map[string]any{"retries": 3},
	})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, num, 0.001)

	b, err := Render("true", nil)
	require.NoError(t, err)
	assert.Equal(t, true, b)

	obj, err := Render(`{"a": 1}`, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, obj)
}
