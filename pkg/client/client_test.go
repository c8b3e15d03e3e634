package client_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/processflow/pkg/approval"
	"github.com/dukex/processflow/pkg/auth"
	"github.com/dukex/processflow/pkg/client"
	"github.com/dukex/processflow/pkg/collab"
	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/persistence"
	"github.com/dukex/processflow/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var editorToken = auth.Token(auth.RoleEditor, "alice")

func writeJSON(w http.ResponseWriter, status int, contentType string, body any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func problem(w http.ResponseWriter, status int, kind, detail string, defects models.Report) {
	writeJSON(w, status, "application/problem+json", map[string]any{
		"type": kind, "status": status, "detail": detail, "defects": defects,
	})
}

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()

	flow := persistencetest.SampleFlow()
	flow.ID = 1
	flow.Version = 1
	flow.ApprovalStatus = models.ApprovalStatusDraft

	mux := http.NewServeMux()

	mux.HandleFunc("GET /flows/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+editorToken {
			problem(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token", nil)

			return
		}

		if r.PathValue("id") != "1" {
			problem(w, http.StatusNotFound, "flow_not_found", "flow not found", nil)

			return
		}

		writeJSON(w, http.StatusOK, "application/json", flow)
	})

	mux.HandleFunc("PUT /flows/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ExpectedVersion int64  `json:"expected_version"`
			Origin          string `json:"origin"`
		}

		_ = json.NewDecoder(r.Body).Decode(&body)

		if body.ExpectedVersion != 1 {
			problem(w, http.StatusConflict, "version_conflict", "someone else changed this flow", nil)

			return
		}

		writeJSON(w, http.StatusOK, "application/json", map[string]any{"version": 2, "approval_status": "draft"})
	})

	mux.HandleFunc("PUT /flows/{id}/approval", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status models.ApprovalStatus `json:"status"`
			Origin string               `json:"origin"`
		}

		_ = json.NewDecoder(r.Body).Decode(&body)

		switch {
		case body.Origin != "tab-1":
			problem(w, http.StatusBadRequest, "validation_error", "origin missing", nil)
		case body.Status == models.ApprovalStatusReviewed:
			writeJSON(w, http.StatusOK, "application/json", map[string]any{"status": "reviewed", "version": 2})
		case body.Status == models.ApprovalStatusApproved:
			problem(w, http.StatusForbidden, "forbidden", "role editor cannot approve", nil)
		case body.Status == models.ApprovalStatusDraft:
			problem(w, http.StatusUnprocessableEntity, "validation_failed", "validation failed", models.Report{
				{NodeID: "2", Rule: "label_required", Message: "step has no label"},
			})
		default:
			problem(w, http.StatusConflict, "invalid_transition", "invalid approval transition", nil)
		}
	})

	mux.HandleFunc("GET /flows/{id}/validation", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, "application/json", map[string]any{
			"valid":   false,
			"defects": models.Report{{EdgeID: "e2-9", NodeID: "9", Rule: "dangling_edge", Message: "edge target 9 does not exist"}},
		})
	})

	mux.HandleFunc("POST /flows", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusCreated, "application/json", flow)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func TestClient_Get(t *testing.T) {
	server := newAPI(t)
	c := client.New(slog.Default(), server.URL, editorToken)

	defer func() { _ = c.Close() }()

	flow, err := c.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), flow.Version)
	assert.Equal(t, persistencetest.SampleFlow().Nodes, flow.Nodes)

	_, err = c.Get(context.Background(), 2)
	assert.ErrorIs(t, err, persistence.ErrFlowNotFound)

	anonymous := client.New(slog.Default(), server.URL, "")

	defer func() { _ = anonymous.Close() }()

	_, err = anonymous.Get(context.Background(), 1)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestClient_Save(t *testing.T) {
	server := newAPI(t)
	c := client.New(slog.Default(), server.URL, editorToken)

	defer func() { _ = c.Close() }()

	nodes := persistencetest.SampleFlow().Nodes

	result, err := c.Save(context.Background(), 1, nodes, nil, 1, "session-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Version)
	assert.Equal(t, models.ApprovalStatusDraft, result.ApprovalStatus)

	_, err = c.Save(context.Background(), 1, nodes, nil, 5, "session-a")
	require.ErrorIs(t, err, persistence.ErrVersionConflict)
	assert.False(t, persistence.IsFlowNotFound(err))
}

func TestClient_RequestApproval(t *testing.T) {
	server := newAPI(t)
	c := client.New(slog.Default(), server.URL, editorToken)

	defer func() { _ = c.Close() }()

	ctx := context.Background()

	result, err := c.RequestApproval(ctx, 1, models.ApprovalStatusReviewed, "tab-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusReviewed, result.Status)
	assert.Equal(t, int64(2), result.Version)

	_, err = c.RequestApproval(ctx, 1, models.ApprovalStatusApproved, "tab-1")
	require.ErrorIs(t, err, approval.ErrForbidden)

	_, err = c.RequestApproval(ctx, 1, models.ApprovalStatusDraft, "tab-1")

	var failed *approval.ValidationFailedError
	require.ErrorAs(t, err, &failed)
	require.Len(t, failed.Report, 1)
	assert.Equal(t, "2", failed.Report[0].NodeID)
	assert.ErrorIs(t, err, approval.ErrValidationFailed)

	_, err = c.RequestApproval(ctx, 1, "published", "tab-1")
	assert.ErrorIs(t, err, approval.ErrInvalidTransition)
}

func TestClient_ValidationAndCreate(t *testing.T) {
	server := newAPI(t)
	c := client.New(slog.Default(), server.URL, editorToken, client.WithTimeout(5*time.Second))

	defer func() { _ = c.Close() }()

	report, err := c.Validation(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, "e2-9", report[0].EdgeID)

	created, err := c.Create(context.Background(), persistencetest.SampleFlow())
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)
}

func newCollab(t *testing.T) (*httptest.Server, *collab.Hub) {
	t.Helper()

	hub := collab.NewHub(slog.Default())

	server, err := collab.NewServer(slog.Default(), hub, hub)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return ts, hub
}

func TestClient_Dial(t *testing.T) {
	ts, hub := newCollab(t)

	a := client.New(slog.Default(), "http://unused.invalid", editorToken, client.WithCollabURL(ts.URL))
	b := client.New(slog.Default(), "http://unused.invalid", auth.Token(auth.RoleViewer, "carol"), client.WithCollabURL(ts.URL))

	ctx := context.Background()

	connA, err := a.Dial(ctx, 7, "session-a")
	require.NoError(t, err)

	defer func() { _ = connA.Close() }()

	connB, err := b.Dial(ctx, 7, "session-b")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.Subscribers(7) == 2 }, time.Second, 10*time.Millisecond)

	err = connA.Publish(ctx, models.MutationEvent{
		Type:  models.MutationNodesChange,
		Nodes: []models.StepNode{{ID: "1", Label: "Login to SAP"}},
	})
	require.NoError(t, err)

	select {
	case event := <-connB.Events():
		assert.Equal(t, int64(7), event.FlowID)
		assert.Equal(t, "session-a", event.Origin)
		assert.Equal(t, "Login to SAP", event.Nodes[0].Label)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}

	require.NoError(t, connB.Close())
	require.NoError(t, connB.Close())

	require.Eventually(t, func() bool { return hub.Subscribers(7) == 1 }, time.Second, 10*time.Millisecond)
}

func TestClient_DialRejected(t *testing.T) {
	ts, _ := newCollab(t)

	c := client.New(slog.Default(), ts.URL, "")

	_, err := c.Dial(context.Background(), 7, "session-a")
	require.ErrorIs(t, err, collab.ErrChannelDisconnected)
	assert.Contains(t, err.Error(), "401")

	bad := client.New(slog.Default(), "ftp://example.com", editorToken)

	_, err = bad.Dial(context.Background(), 7, "session-a")
	assert.Error(t, err)
}

func TestClient_EventsCloseWhenServerEvicts(t *testing.T) {
	ts, hub := newCollab(t)

	c := client.New(slog.Default(), ts.URL, editorToken)

	conn, err := c.Dial(context.Background(), 3, "session-a")
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return hub.Subscribers(3) == 1 }, time.Second, 10*time.Millisecond)

	hub.Close()

	select {
	case _, ok := <-conn.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("event stream stayed open")
	}
}
