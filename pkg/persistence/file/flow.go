package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/persistence"
)

// FlowRepository stores one JSON document per flow under <root>/flows.
// Compare-and-swap is serialised by a process-local mutex, so a directory must not be
// shared by several processes.
type FlowRepository struct {
	root string
	mu   sync.Mutex
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(root string) *FlowRepository {
	return &FlowRepository{root: root}
}

func (fr *FlowRepository) dir() string {
	return path.Join(fr.root, "flows")
}

func (fr *FlowRepository) filePath(id int64) string {
	return filepath.Clean(path.Join(fr.dir(), strconv.FormatInt(id, 10)+".json"))
}

// Create assigns the next id and stores the flow at version 1. Ids of deleted flows are
// never handed out again.
func (fr *FlowRepository) Create(_ context.Context, flow *models.Flow) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	id, err := fr.nextID()
	if err != nil {
		return err
	}

	flow.ID = id
	persistence.PrepareCreate(flow, time.Now().UTC())

	return fr.write(flow)
}

// GetByID retrieves a flow by its ID from the file system.
func (fr *FlowRepository) GetByID(_ context.Context, id int64) (*models.Flow, error) {
	return fr.read(id)
}

// List returns paginated and filtered flows with in-memory operations.
func (fr *FlowRepository) List(_ context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	ids, err := fr.ids()
	if err != nil {
		return nil, err
	}

	flows := make([]*models.Flow, 0, len(ids))

	for _, id := range ids {
		flow, err := fr.read(id)
		if persistence.IsFlowNotFound(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		flows = append(flows, flow)
	}

	return persistence.Paginate(flows, opts)
}

// Put replaces nodes and edges when expectedVersion matches the stored version.
func (fr *FlowRepository) Put(
	_ context.Context,
	id int64,
	nodes []models.StepNode,
	edges []models.Transition,
	expectedVersion int64,
) (*models.Flow, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	current, err := fr.read(id)
	if err != nil {
		return nil, err
	}

	next, err := persistence.NextPut(current, nodes, edges, expectedVersion, time.Now().UTC())
	if err != nil {
		return nil, persistence.NewFlowError("Put", id, err)
	}

	err = fr.write(next)
	if err != nil {
		return nil, err
	}

	return next, nil
}

// SetApproval stores a new approval status when expectedVersion matches the stored version.
func (fr *FlowRepository) SetApproval(
	_ context.Context,
	id int64,
	change persistence.ApprovalChange,
	expectedVersion int64,
) (*models.Flow, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	current, err := fr.read(id)
	if err != nil {
		return nil, err
	}

	next, err := persistence.NextApproval(current, change, expectedVersion)
	if err != nil {
		return nil, persistence.NewFlowError("SetApproval", id, err)
	}

	err = fr.write(next)
	if err != nil {
		return nil, err
	}

	return next, nil
}

// Delete removes a flow by its ID.
func (fr *FlowRepository) Delete(_ context.Context, id int64) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	err := os.Remove(fr.filePath(id))
	if err != nil && os.IsNotExist(err) {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	if err != nil {
		return fmt.Errorf("failed to delete flow %d: %w", id, err)
	}

	return nil
}

// nextID advances the counter kept in <root>/flows/next_id. Directories written before
// the counter existed start after their highest stored id.
func (fr *FlowRepository) nextID() (int64, error) {
	var last int64

	body, err := os.ReadFile(fr.counterPath())
	switch {
	case err == nil:
		last, err = strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse flow id counter: %w", err)
		}
	case !os.IsNotExist(err):
		return 0, fmt.Errorf("failed to read flow id counter: %w", err)
	}

	ids, err := fr.ids()
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		last = max(last, id)
	}

	next := last + 1

	err = fr.commit(fr.counterPath(), []byte(strconv.FormatInt(next, 10)))
	if err != nil {
		return 0, fmt.Errorf("failed to store flow id counter: %w", err)
	}

	return next, nil
}

func (fr *FlowRepository) counterPath() string {
	return filepath.Clean(path.Join(fr.dir(), "next_id"))
}

func (fr *FlowRepository) ids() ([]int64, error) {
	root := os.DirFS(fr.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list flow files: %w", err)
	}

	ids := make([]int64, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		id, err := strconv.ParseInt(strings.TrimSuffix(file, ".json"), 10, 64)
		if err != nil {
			continue
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func (fr *FlowRepository) read(id int64) (*models.Flow, error) {
	body, err := os.ReadFile(fr.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch flow %d: %w", id, err)
	}

	var flow models.Flow

	err = json.Unmarshal(body, &flow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow %d: %w", id, err)
	}

	return &flow, nil
}

func (fr *FlowRepository) write(flow *models.Flow) error {
	data, err := json.MarshalIndent(flow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal flow %d: %w", flow.ID, err)
	}

	err = fr.commit(fr.filePath(flow.ID), data)
	if err != nil {
		return fmt.Errorf("failed to write flow %d: %w", flow.ID, err)
	}

	return nil
}

// commit writes through a temporary file and rename so readers never see a partial file.
func (fr *FlowRepository) commit(target string, data []byte) error {
	err := os.MkdirAll(fr.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create flows directory: %w", err)
	}

	tmp := target + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return err
	}

	return os.Rename(tmp, target)
}
