// Package template provides templating for dynamic task configuration. Task
// data strings may reference the run's config snapshot so one workflow
// definition serves many parameterized runs.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/ordino-dev/ordino/pkg/models"
)

// RenderTaskData renders every string value of a task data bag against the
// run's context. Non-string values pass through untouched.
func RenderTaskData(taskData map[string]any, run *models.Run) (map[string]any, error) {
	if len(taskData) == 0 {
		return taskData, nil
	}

	data := map[string]any{
		"config": run.ConfigSnapshot,
		"run": map[string]any{
			"id":          run.RunID,
			"workflow_id": run.WorkflowID,
			"trace_id":    run.TraceID,
		},
		"env": getEnvVars(),
	}

	rendered := make(map[string]any, len(taskData))

	for key, value := range taskData {
		str, ok := value.(string)
		if !ok || !strings.Contains(str, "{{") {
			rendered[key] = value

			continue
		}

		out, err := Render(str, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render task data %q: %w", key, err)
		}

		rendered[key] = out
	}

	return rendered, nil
}

func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("task_data").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}
				num := make([]byte, 1)
				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	// Try to parse as JSON if it looks like JSON
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	// Try to parse as number
	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	// Try to parse as boolean
	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// getEnvVars returns environment variables as a map.
func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
