package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/persistence"
)

const flowColumns = `id, name, approval_status, summary_video_ref, acyclic, version,
	created_at, updated_at, approved_at, approved_by`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// FlowRepository stores flows in the flows, flow_nodes and flow_edges tables.
// Writes are guarded by a compare-and-set on flows.version.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

func (r *FlowRepository) Create(ctx context.Context, flow *models.Flow) error {
	persistence.PrepareCreate(flow, time.Now().UTC())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO flows (name, approval_status, summary_video_ref, acyclic, version,
			created_at, updated_at, approved_at, approved_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		flow.Name,
		flow.ApprovalStatus,
		flow.SummaryVideoRef,
		flow.Acyclic,
		flow.Version,
		flow.CreatedAt,
		flow.UpdatedAt,
		flow.ApprovedAt,
		flow.ApprovedBy,
	).Scan(&flow.ID)
	if err != nil {
		return fmt.Errorf("failed to insert flow: %w", err)
	}

	err = r.saveGraph(ctx, tx, flow.ID, flow.Nodes, flow.Edges)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.DebugContext(ctx, "Flow created", "flow_id", flow.ID)

	return nil
}

func (r *FlowRepository) GetByID(ctx context.Context, id int64) (*models.Flow, error) {
	flow, err := r.load(ctx, r.db, id)
	if err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	return flow, nil
}

func (r *FlowRepository) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	opts = persistence.NormalizeListOptions(opts)

	query, args, err := r.buildListQuery(opts)
	if err != nil {
		return nil, err
	}

	var totalCount int64

	countQuery := "SELECT COUNT(*) FROM flows"
	countArgs := []any{}

	if opts.Status != nil {
		countQuery += " WHERE approval_status = $1"

		countArgs = append(countArgs, *opts.Status)
	}

	err = r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count flows: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	flows := make([]*models.Flow, 0, opts.Limit)

	for rows.Next() {
		flow, err := scanFlowBase(rows)
		if err != nil {
			return nil, err
		}

		flows = append(flows, flow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate flows: %w", err)
	}

	for _, flow := range flows {
		err = r.loadGraph(ctx, r.db, flow)
		if err != nil {
			return nil, err
		}
	}

	return &persistence.FlowListResult{
		Flows:       flows,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(flows)) < totalCount,
	}, nil
}

func (r *FlowRepository) buildListQuery(opts persistence.ListFlowsOptions) (string, []any, error) {
	allowedSorts := map[string]string{
		"id":         "id",
		"name":       "name",
		"created_at": "created_at",
		"updated_at": "updated_at",
	}

	column, ok := allowedSorts[opts.SortBy]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", persistence.ErrInvalidSortField, opts.SortBy)
	}

	direction := "ASC"
	if strings.EqualFold(opts.SortOrder, "desc") {
		direction = "DESC"
	}

	var (
		builder strings.Builder
		args    []any
	)

	builder.WriteString("SELECT " + flowColumns + " FROM flows")

	if opts.Status != nil {
		args = append(args, *opts.Status)
		fmt.Fprintf(&builder, " WHERE approval_status = $%d", len(args))
	}

	fmt.Fprintf(&builder, " ORDER BY %s %s, id %s", column, direction, direction)

	args = append(args, opts.Limit, opts.Offset)
	fmt.Fprintf(&builder, " LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return builder.String(), args, nil
}

func (r *FlowRepository) Put(
	ctx context.Context,
	id int64,
	nodes []models.StepNode,
	edges []models.Transition,
	expectedVersion int64,
) (*models.Flow, error) {
	return r.swap(ctx, "Put", id, expectedVersion, true, func(current *models.Flow) (*models.Flow, error) {
		return persistence.NextPut(current, nodes, edges, expectedVersion, time.Now().UTC())
	})
}

func (r *FlowRepository) SetApproval(
	ctx context.Context,
	id int64,
	change persistence.ApprovalChange,
	expectedVersion int64,
) (*models.Flow, error) {
	return r.swap(ctx, "SetApproval", id, expectedVersion, false, func(current *models.Flow) (*models.Flow, error) {
		return persistence.NextApproval(current, change, expectedVersion)
	})
}

func (r *FlowRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM flows WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	return nil
}

// swap reads the current row, computes the next state and writes it back only if
// flows.version still equals expectedVersion.
func (r *FlowRepository) swap(
	ctx context.Context,
	op string,
	id int64,
	expectedVersion int64,
	replaceGraph bool,
	next func(current *models.Flow) (*models.Flow, error),
) (*models.Flow, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := r.load(ctx, tx, id)
	if err != nil {
		return nil, persistence.NewFlowError(op, id, err)
	}

	updated, err := next(current)
	if err != nil {
		return nil, persistence.NewFlowError(op, id, err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE flows
		SET approval_status = $3, version = $4, updated_at = $5, approved_at = $6, approved_by = $7
		WHERE id = $1 AND version = $2`,
		id,
		expectedVersion,
		updated.ApprovalStatus,
		updated.Version,
		updated.UpdatedAt,
		updated.ApprovedAt,
		updated.ApprovedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update flow: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		err = r.conflict(ctx, id, expectedVersion)

		return nil, persistence.NewFlowError(op, id, err)
	}

	if replaceGraph {
		_, err = tx.ExecContext(ctx, "DELETE FROM flow_edges WHERE flow_id = $1", id)
		if err != nil {
			return nil, fmt.Errorf("failed to delete existing edges: %w", err)
		}

		_, err = tx.ExecContext(ctx, "DELETE FROM flow_nodes WHERE flow_id = $1", id)
		if err != nil {
			return nil, fmt.Errorf("failed to delete existing nodes: %w", err)
		}

		err = r.saveGraph(ctx, tx, id, updated.Nodes, updated.Edges)
		if err != nil {
			return nil, err
		}
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return updated, nil
}

// conflict explains a compare-and-set that matched no row: either the flow is gone
// or another writer bumped the version after our read.
func (r *FlowRepository) conflict(ctx context.Context, id int64, expectedVersion int64) error {
	var actual int64

	err := r.db.QueryRowContext(ctx, "SELECT version FROM flows WHERE id = $1", id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrFlowNotFound
	}

	if err != nil {
		return fmt.Errorf("failed to read flow version: %w", err)
	}

	return &persistence.VersionConflictError{FlowID: id, Expected: expectedVersion, Actual: actual}
}

func (r *FlowRepository) load(ctx context.Context, q queryer, id int64) (*models.Flow, error) {
	row := q.QueryRowContext(ctx, "SELECT "+flowColumns+" FROM flows WHERE id = $1", id)

	flow, err := scanFlowBase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrFlowNotFound
	}

	if err != nil {
		return nil, err
	}

	err = r.loadGraph(ctx, q, flow)
	if err != nil {
		return nil, err
	}

	return flow, nil
}

func (r *FlowRepository) loadGraph(ctx context.Context, q queryer, flow *models.Flow) error {
	nodeRows, err := q.QueryContext(ctx, `
		SELECT id, label, details, system, expected_result, prerequisites, notes,
			start_ts, duration, screenshot_ref, video_clip_ref, position_x, position_y
		FROM flow_nodes WHERE flow_id = $1 ORDER BY seq`, flow.ID)
	if err != nil {
		return fmt.Errorf("failed to query flow nodes: %w", err)
	}
	defer func() { _ = nodeRows.Close() }()

	flow.Nodes = []models.StepNode{}

	for nodeRows.Next() {
		var node models.StepNode

		err = nodeRows.Scan(
			&node.ID,
			&node.Label,
			&node.Details,
			&node.System,
			&node.ExpectedResult,
			&node.Prerequisites,
			&node.Notes,
			&node.StartTS,
			&node.Duration,
			&node.ScreenshotRef,
			&node.VideoClipRef,
			&node.Position.X,
			&node.Position.Y,
		)
		if err != nil {
			return fmt.Errorf("failed to scan flow node: %w", err)
		}

		flow.Nodes = append(flow.Nodes, node)
	}

	err = nodeRows.Err()
	if err != nil {
		return fmt.Errorf("failed to iterate flow nodes: %w", err)
	}

	edgeRows, err := q.QueryContext(ctx, `
		SELECT id, source_node_id, target_node_id, animated, label
		FROM flow_edges WHERE flow_id = $1 ORDER BY seq`, flow.ID)
	if err != nil {
		return fmt.Errorf("failed to query flow edges: %w", err)
	}
	defer func() { _ = edgeRows.Close() }()

	flow.Edges = []models.Transition{}

	for edgeRows.Next() {
		var edge models.Transition

		err = edgeRows.Scan(&edge.ID, &edge.Source, &edge.Target, &edge.Animated, &edge.Label)
		if err != nil {
			return fmt.Errorf("failed to scan flow edge: %w", err)
		}

		flow.Edges = append(flow.Edges, edge)
	}

	err = edgeRows.Err()
	if err != nil {
		return fmt.Errorf("failed to iterate flow edges: %w", err)
	}

	return nil
}

func (r *FlowRepository) saveGraph(
	ctx context.Context,
	tx *sql.Tx,
	flowID int64,
	nodes []models.StepNode,
	edges []models.Transition,
) error {
	for seq, node := range nodes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO flow_nodes (flow_id, seq, id, label, details, system, expected_result,
				prerequisites, notes, start_ts, duration, screenshot_ref, video_clip_ref, position_x, position_y)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			flowID,
			seq,
			node.ID,
			node.Label,
			node.Details,
			node.System,
			node.ExpectedResult,
			node.Prerequisites,
			node.Notes,
			node.StartTS,
			node.Duration,
			node.ScreenshotRef,
			node.VideoClipRef,
			node.Position.X,
			node.Position.Y,
		)
		if err != nil {
			return fmt.Errorf("failed to insert node %s: %w", node.ID, err)
		}
	}

	for seq, edge := range edges {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO flow_edges (flow_id, seq, id, source_node_id, target_node_id, animated, label)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			flowID,
			seq,
			edge.ID,
			edge.Source,
			edge.Target,
			edge.Animated,
			edge.Label,
		)
		if err != nil {
			return fmt.Errorf("failed to insert edge %s: %w", edge.ID, err)
		}
	}

	return nil
}

func scanFlowBase(scanner interface{ Scan(dest ...any) error }) (*models.Flow, error) {
	var (
		flow       models.Flow
		approvedAt sql.NullTime
	)

	err := scanner.Scan(
		&flow.ID,
		&flow.Name,
		&flow.ApprovalStatus,
		&flow.SummaryVideoRef,
		&flow.Acyclic,
		&flow.Version,
		&flow.CreatedAt,
		&flow.UpdatedAt,
		&approvedAt,
		&flow.ApprovedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan flow: %w", err)
	}

	if approvedAt.Valid {
		at := approvedAt.Time.UTC()
		flow.ApprovedAt = &at
	}

	flow.CreatedAt = flow.CreatedAt.UTC()
	flow.UpdatedAt = flow.UpdatedAt.UTC()

	return &flow, nil
}
