// Package client talks to the process flow API over REST and to the collaboration
// server over WebSocket. It implements the editor session's Store and Dialer.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/processflow/pkg/approval"
	"github.com/dukex/processflow/pkg/auth"
	"github.com/dukex/processflow/pkg/editor"
	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/persistence"
	"github.com/gorilla/websocket"
	"resty.dev/v3"
)

const defaultTimeout = 30 * time.Second

// ErrUnexpectedStatus is returned for responses the client has no mapping for.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// Client is a REST and WebSocket client for one API deployment.
type Client struct {
	rest      *resty.Client
	token     string
	collabURL string
	dialer    *websocket.Dialer
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCollabURL sets the base URL of the collaboration server when it listens apart
// from the REST API.
func WithCollabURL(url string) Option {
	return func(c *Client) { c.collabURL = url }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.rest.SetTimeout(timeout) }
}

// New creates a client for the API at baseURL, authenticating with token.
func New(logger *slog.Logger, baseURL, token string, opts ...Option) *Client {
	c := &Client{
		rest: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultTimeout).
			SetHeader("Accept", "application/json").
			SetAuthToken(token),
		token:     token,
		collabURL: baseURL,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:    logger.With("module", "client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.rest.Close()
}

// Problem is the RFC 7807 document the API returns on failure.
type Problem struct {
	Type    string        `json:"type"`
	Title   string        `json:"title"`
	Status  int           `json:"status"`
	Detail  string        `json:"detail"`
	Defects models.Report `json:"defects,omitempty"`
}

// decodeError turns an error response into the sentinel errors the rest of the module
// uses, so callers can match them with errors.Is and errors.As.
func decodeError(resp *resty.Response) error {
	var problem Problem

	_ = json.Unmarshal(resp.Bytes(), &problem)

	detail := problem.Detail
	if detail == "" {
		detail = http.StatusText(resp.StatusCode())
	}

	switch resp.StatusCode() {
	case http.StatusBadRequest:
		return fmt.Errorf("bad request: %s", detail)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", auth.ErrInvalidToken, detail)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", approval.ErrForbidden, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", persistence.ErrFlowNotFound, detail)
	case http.StatusConflict:
		if problem.Type == "version_conflict" {
			return fmt.Errorf("%w: %s", persistence.ErrVersionConflict, detail)
		}

		return fmt.Errorf("%w: %s", approval.ErrInvalidTransition, detail)
	case http.StatusUnprocessableEntity:
		return &approval.ValidationFailedError{Report: problem.Defects}
	default:
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode(), detail)
	}
}

func flowPath(id int64) string {
	return "/flows/" + strconv.FormatInt(id, 10)
}

// Get fetches the committed flow.
func (c *Client) Get(ctx context.Context, flowID int64) (*models.Flow, error) {
	var flow models.Flow

	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&flow).
		Get(flowPath(flowID))
	if err != nil {
		return nil, fmt.Errorf("failed to get flow %d: %w", flowID, err)
	}

	if resp.IsError() {
		return nil, decodeError(resp)
	}

	return &flow, nil
}

// Create performs the initial write of a flow.
func (c *Client) Create(ctx context.Context, flow *models.Flow) (*models.Flow, error) {
	var created models.Flow

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"name":              flow.Name,
			"nodes":             flow.Nodes,
			"edges":             flow.Edges,
			"summary_video_ref": flow.SummaryVideoRef,
			"acyclic":           flow.Acyclic,
		}).
		SetResult(&created).
		Post("/flows")
	if err != nil {
		return nil, fmt.Errorf("failed to create flow: %w", err)
	}

	if resp.IsError() {
		return nil, decodeError(resp)
	}

	return &created, nil
}

// Save replaces the flow's graph if the server still holds expectedVersion.
func (c *Client) Save(
	ctx context.Context,
	flowID int64,
	nodes []models.StepNode,
	edges []models.Transition,
	expectedVersion int64,
	origin string,
) (editor.SaveResult, error) {
	var result struct {
		Version        int64                 `json:"version"`
		ApprovalStatus models.ApprovalStatus `json:"approval_status"`
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"nodes":            nodes,
			"edges":            edges,
			"expected_version": expectedVersion,
			"origin":           origin,
		}).
		SetResult(&result).
		Put(flowPath(flowID))
	if err != nil {
		return editor.SaveResult{}, fmt.Errorf("failed to save flow %d: %w", flowID, err)
	}

	if resp.IsError() {
		return editor.SaveResult{}, decodeError(resp)
	}

	return editor.SaveResult{Version: result.Version, ApprovalStatus: result.ApprovalStatus}, nil
}

// RequestApproval asks the server to move the flow to status.
func (c *Client) RequestApproval(
	ctx context.Context,
	flowID int64,
	status models.ApprovalStatus,
	origin string,
) (editor.ApprovalResult, error) {
	var result struct {
		Status  models.ApprovalStatus `json:"status"`
		Version int64                 `json:"version"`
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]any{"status": status, "origin": origin}).
		SetResult(&result).
		Put(flowPath(flowID) + "/approval")
	if err != nil {
		return editor.ApprovalResult{}, fmt.Errorf("failed to request approval of flow %d: %w", flowID, err)
	}

	if resp.IsError() {
		return editor.ApprovalResult{}, decodeError(resp)
	}

	return editor.ApprovalResult{Status: result.Status, Version: result.Version}, nil
}

// Validation returns the server's defect report for the committed flow.
func (c *Client) Validation(ctx context.Context, flowID int64) (models.Report, error) {
	var result struct {
		Defects models.Report `json:"defects"`
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&result).
		Get(flowPath(flowID) + "/validation")
	if err != nil {
		return nil, fmt.Errorf("failed to validate flow %d: %w", flowID, err)
	}

	if resp.IsError() {
		return nil, decodeError(resp)
	}

	return result.Defects, nil
}
