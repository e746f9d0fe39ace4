package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence/file"
	"github.com/ordino-dev/ordino/pkg/queue"
	"github.com/ordino-dev/ordino/pkg/services"
	"github.com/ordino-dev/ordino/pkg/web"
)

func setupTestApp(t *testing.T) (*fiber.App, *file.Persistence) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	logger := slog.Default()

	handlers := web.NewAPIHandlers(
		services.NewSchedule(persist),
		services.NewWorkflow(persist),
		services.NewRun(logger, persist, nil),
		services.NewApproval(logger, persist, nil),
		queue.NewQueue(logger, persist, nil),
		persist,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	handlers.Register(app)

	return app, persist
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body []byte

	if payload != nil {
		if str, ok := payload.(string); ok {
			body = []byte(str)
		} else {
			var err error

			body, err = json.Marshal(payload)
			require.NoError(t, err)
		}
	}

	req := httptest.NewRequest(method, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, raw
}

func publishTestWorkflow(t *testing.T, app *fiber.App) {
	t.Helper()

	resp, _ := doJSON(t, app, http.MethodPost, "/workflows", web.PublishWorkflowRequest{
		WorkflowID: "wf-1",
		DAG: models.DAG{
			Nodes: []models.Node{{NodeID: "a", Type: models.NodeTypeTask}},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]any
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "healthy", result["status"])
}

func TestPublishWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	publishTestWorkflow(t, app)

	// Same version again conflicts: definitions are immutable.
	resp, _ := doJSON(t, app, http.MethodPost, "/workflows", web.PublishWorkflowRequest{
		WorkflowID: "wf-1",
		Version:    1,
		DAG: models.DAG{
			Nodes: []models.Node{{NodeID: "a", Type: models.NodeTypeTask}},
		},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// A DAG with a dangling edge is rejected.
	resp, _ = doJSON(t, app, http.MethodPost, "/workflows", web.PublishWorkflowRequest{
		WorkflowID: "wf-2",
		DAG: models.DAG{
			Nodes: []models.Node{{NodeID: "a", Type: models.NodeTypeTask}},
			Edges: []models.Edge{{FromNode: "a", ToNode: "ghost"}},
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodGet, "/workflows/wf-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var workflow models.Workflow
	require.NoError(t, json.Unmarshal(body, &workflow))
	assert.Equal(t, 1, workflow.Version)

	resp, _ = doJSON(t, app, http.MethodGet, "/workflows/wf-ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name: "successful creation",
			requestBody: web.CreateScheduleRequest{
				WorkflowID: "wf-1",
				Enabled:    true,
				Policy:     models.Policy{Type: models.PolicyTypeInterval, EverySec: 60},
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "unrecognized policy type",
			requestBody: web.CreateScheduleRequest{
				WorkflowID: "wf-1",
				Policy:     models.Policy{Type: "lunar"},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "incomplete window policy",
			requestBody: web.CreateScheduleRequest{
				WorkflowID: "wf-1",
				Policy:     models.Policy{Type: models.PolicyTypeWindow, Start: "09:00"},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "window end before start",
			requestBody: web.CreateScheduleRequest{
				WorkflowID: "wf-1",
				Policy: models.Policy{
					Type:        models.PolicyTypeWindow,
					Start:       "17:00",
					End:         "09:00",
					IntervalSec: 300,
				},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unknown workflow",
			requestBody: web.CreateScheduleRequest{
				WorkflowID: "wf-ghost",
				Policy:     models.Policy{Type: models.PolicyTypeInterval, EverySec: 60},
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)
			publishTestWorkflow(t, app)

			resp, _ := doJSON(t, app, http.MethodPost, "/schedules", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

func TestUpdateSchedule(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	publishTestWorkflow(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/schedules", web.CreateScheduleRequest{
		WorkflowID: "wf-1",
		Enabled:    true,
		Policy:     models.Policy{Type: models.PolicyTypeInterval, EverySec: 60},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Schedule
	require.NoError(t, json.Unmarshal(body, &created))

	disabled := false
	resp, body = doJSON(t, app, http.MethodPatch, "/schedules/"+created.ID, web.UpdateScheduleRequest{
		Enabled: &disabled,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.Schedule
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.False(t, updated.Enabled)

	resp, _ = doJSON(t, app, http.MethodPatch, "/schedules/"+created.ID, web.UpdateScheduleRequest{
		Policy: &models.Policy{Type: models.PolicyTypeAt},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing at timestamp")

	resp, body = doJSON(t, app, http.MethodGet, "/schedules/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail web.ScheduleDetailResponse
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, created.ID, detail.Schedule.ID)
	assert.Empty(t, detail.Triggers)
}

func TestTriggerAndCancelRun(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)
	publishTestWorkflow(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/runs", web.TriggerRunRequest{WorkflowID: "wf-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var run models.Run
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, models.RunStatusQueued, run.Status)

	resp, body = doJSON(t, app, http.MethodGet, "/runs/"+run.RunID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail services.RunDetail
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, run.RunID, detail.Run.RunID)

	resp, _ = doJSON(t, app, http.MethodPost, "/runs/"+run.RunID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Canceling a terminal run conflicts.
	resp, _ = doJSON(t, app, http.MethodPost, "/runs/"+run.RunID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/runs", web.TriggerRunRequest{WorkflowID: "wf-ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorkItemLifecycle(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/work-items", web.EnqueueWorkItemRequest{
		TaskID:   "wi-1",
		Priority: 10,
		Payload:  map[string]any{"task_type": "echo"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Claiming from an agent hands out the item under a lease.
	resp, body := doJSON(t, app, http.MethodPost, "/work-items/claim", web.ClaimWorkItemRequest{
		AgentID:     "agent-1",
		MaxPriority: 100,
		LeaseTTLSec: 60,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var item models.WorkItem
	require.NoError(t, json.Unmarshal(body, &item))
	assert.Equal(t, "wi-1", item.TaskID)
	assert.Equal(t, models.WorkItemStatusClaimed, item.Status)

	// A second claim finds nothing.
	resp, _ = doJSON(t, app, http.MethodPost, "/work-items/claim", web.ClaimWorkItemRequest{
		AgentID:     "agent-2",
		MaxPriority: 100,
		LeaseTTLSec: 60,
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Acking from the wrong agent conflicts.
	resp, _ = doJSON(t, app, http.MethodPost, "/work-items/wi-1/ack", web.AckWorkItemRequest{
		AgentID: "agent-2",
		Outcome: "success",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodPost, "/work-items/wi-1/ack", web.AckWorkItemRequest{
		AgentID: "agent-1",
		Outcome: "success",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &item))
	assert.Equal(t, models.WorkItemStatusAcked, item.Status)
}

func TestDecideApproval(t *testing.T) {
	t.Parallel()

	app, persist := setupTestApp(t)

	require.NoError(t, persist.CreateApproval(t.Context(), &models.Approval{
		ApprovalID: "ap-1",
		TaskID:     "run-1:gate",
		Status:     models.ApprovalStatusPending,
	}))

	resp, _ := doJSON(t, app, http.MethodPost, "/approvals/ap-1/decide", web.DecideApprovalRequest{
		Decision: "escalate",
		Approver: "ops",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodPost, "/approvals/ap-1/decide", web.DecideApprovalRequest{
		Decision: "approve",
		Approver: "ops",
		Reason:   "reviewed",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var approval models.Approval
	require.NoError(t, json.Unmarshal(body, &approval))
	assert.Equal(t, models.ApprovalStatusApproved, approval.Status)

	// Deciding a resolved approval conflicts.
	resp, _ = doJSON(t, app, http.MethodPost, "/approvals/ap-1/decide", web.DecideApprovalRequest{
		Decision: "reject",
		Approver: "ops",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/approvals?status=approved", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list map[string][]*models.Approval
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list["approvals"], 1)
}
