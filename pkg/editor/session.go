// Package editor implements the client-side editing session of a process flow: the
// working graph, remote merges, save, approval and export.
//
// All session state is guarded by one mutex that is never held across network I/O.
// Operations that talk to the store only change state after a successful response, so
// a cancelled or timed out call can be retried safely.
package editor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/processflow/pkg/approval"
	"github.com/dukex/processflow/pkg/collab"
	"github.com/dukex/processflow/pkg/export"
	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/persistence"
	"github.com/dukex/processflow/pkg/validation"
	"github.com/google/uuid"
)

// SaveResult is the store's answer to a successful save.
type SaveResult struct {
	Version        int64
	ApprovalStatus models.ApprovalStatus
}

// ApprovalResult is the store's answer to a successful approval request.
type ApprovalResult struct {
	Status  models.ApprovalStatus
	Version int64
}

// Store is the session's view of the graph store.
// Save fails with an error matching persistence.ErrVersionConflict on a stale version, and
// RequestApproval returns *approval.ValidationFailedError when defects block the move.
type Store interface {
	Get(ctx context.Context, flowID int64) (*models.Flow, error)
	Save(ctx context.Context, flowID int64, nodes []models.StepNode, edges []models.Transition, expectedVersion int64, origin string) (SaveResult, error)
	RequestApproval(ctx context.Context, flowID int64, status models.ApprovalStatus, origin string) (ApprovalResult, error)
}

// Conn is a live collaboration connection for one flow.
type Conn interface {
	// Events is closed when the connection ends.
	Events() <-chan models.MutationEvent
	Publish(ctx context.Context, event models.MutationEvent) error
	Close() error
}

// Dialer opens collaboration connections.
type Dialer interface {
	Dial(ctx context.Context, flowID int64, origin string) (Conn, error)
}

// ConnState is the state of the session's collaboration connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateError
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	defaultOutboxSize     = 256
	defaultPublishTimeout = 5 * time.Second
)

type link struct {
	conn   Conn
	outbox chan models.MutationEvent
	done   chan struct{}
}

// Session is one user's editing session.
type Session struct {
	store  Store
	dialer Dialer
	engine *validation.Engine
	media  export.Media
	logger *slog.Logger
	origin string

	outboxSize     int
	publishTimeout time.Duration

	mu       sync.Mutex
	flowID   int64
	working  *models.Flow
	version  int64
	status   models.ApprovalStatus
	selected string
	report   models.Report
	dirty    bool
	stale    bool
	state    ConnState
	link     *link
}

// Option configures a Session.
type Option func(*Session)

// WithDialer enables live collaboration. Without it the session only talks to the store.
func WithDialer(dialer Dialer) Option {
	return func(s *Session) { s.dialer = dialer }
}

// WithEngine sets the validation engine used for the local defect report.
func WithEngine(engine *validation.Engine) Option {
	return func(s *Session) { s.engine = engine }
}

// WithMedia sets the media store used to resolve references on export.
func WithMedia(media export.Media) Option {
	return func(s *Session) { s.media = media }
}

// WithOrigin overrides the generated session origin.
func WithOrigin(origin string) Option {
	return func(s *Session) { s.origin = origin }
}

// WithOutboxSize bounds the number of local events waiting to be published.
func WithOutboxSize(size int) Option {
	return func(s *Session) {
		if size > 0 {
			s.outboxSize = size
		}
	}
}

// NewSession creates a session with nothing loaded.
func NewSession(logger *slog.Logger, store Store, opts ...Option) *Session {
	s := &Session{
		store:          store,
		engine:         validation.NewEngine(),
		origin:         uuid.NewString(),
		outboxSize:     defaultOutboxSize,
		publishTimeout: defaultPublishTimeout,
		state:          StateDisconnected,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = logger.With("module", "editor_session", "origin", s.origin)

	return s
}

// Origin identifies this session's events on the collaboration channel.
func (s *Session) Origin() string { return s.origin }

// Load fetches the flow, seeds the working graph and joins the flow's room. Failing to
// join is advisory: the session stays usable and reports a disconnected channel.
func (s *Session) Load(ctx context.Context, flowID int64) error {
	flow, err := s.store.Get(ctx, flowID)
	if err != nil {
		return fmt.Errorf("failed to load flow %d: %w", flowID, err)
	}

	s.mu.Lock()
	old := s.detach(StateDisconnected)
	s.flowID = flowID
	s.selected = ""
	s.seed(flow)
	s.mu.Unlock()

	closeLink(old)

	if s.dialer == nil {
		return nil
	}

	err = s.Connect(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "Editing without live collaboration", "flow_id", flowID, "error", err)
	}

	return nil
}

// Connect (re)joins the room of the loaded flow. Entering the connected state always
// re-fetches the flow and discards whatever was merged before.
func (s *Session) Connect(ctx context.Context) error {
	if s.dialer == nil {
		return fmt.Errorf("%w: no dialer configured", collab.ErrChannelDisconnected)
	}

	s.mu.Lock()

	if s.working == nil {
		s.mu.Unlock()

		return ErrNotLoaded
	}

	old := s.detach(StateConnecting)
	flowID := s.flowID
	s.mu.Unlock()

	closeLink(old)

	conn, err := s.dialer.Dial(ctx, flowID, s.origin)
	if err != nil {
		s.mu.Lock()
		if s.state == StateConnecting {
			s.setState(StateError)
			s.setState(StateDisconnected)
		}
		s.mu.Unlock()

		return fmt.Errorf("%w: %w", collab.ErrChannelDisconnected, err)
	}

	l := &link{
		conn:   conn,
		outbox: make(chan models.MutationEvent, s.outboxSize),
		done:   make(chan struct{}),
	}

	s.mu.Lock()

	if s.flowID != flowID || s.state != StateConnecting {
		s.mu.Unlock()
		_ = conn.Close()

		return fmt.Errorf("%w: superseded while connecting", collab.ErrChannelDisconnected)
	}

	s.link = l
	s.setState(StateConnected)
	s.mu.Unlock()

	go s.consume(l)
	go s.forward(l)

	s.logger.InfoContext(ctx, "Joined flow", "flow_id", flowID)

	return s.Reload(ctx)
}

// Close leaves the room. The working graph stays readable.
func (s *Session) Close() error {
	s.mu.Lock()
	old := s.detach(StateClosed)
	s.mu.Unlock()

	closeLink(old)

	return nil
}

// detach drops the current link and moves to next. Callers hold the lock and must close
// the returned link after releasing it.
func (s *Session) detach(next ConnState) *link {
	old := s.link
	s.link = nil
	s.setState(next)

	return old
}

// setState records a connection state change. Callers hold the lock.
func (s *Session) setState(next ConnState) {
	if s.state == next {
		return
	}

	s.logger.Debug("Channel state changed", "flow_id", s.flowID, "from", s.state, "to", next)
	s.state = next
}

func closeLink(l *link) {
	if l != nil {
		_ = l.conn.Close()
	}
}

func (s *Session) consume(l *link) {
	for event := range l.conn.Events() {
		s.ApplyRemoteEvent(event)
	}

	close(l.done)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.link == l {
		s.link = nil
		s.logger.Warn("Collaboration connection lost", "flow_id", s.flowID)
		s.setState(StateError)
		s.setState(StateDisconnected)
	}
}

func (s *Session) forward(l *link) {
	for {
		select {
		case <-l.done:
			return
		case event := <-l.outbox:
			ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
			err := l.conn.Publish(ctx, event)
			cancel()

			if err != nil {
				s.logger.Debug("Failed to publish local edit", "type", event.Type, "error", err)
			}
		}
	}
}

// Reload discards the working copy and re-fetches the committed flow.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()

	if s.working == nil {
		s.mu.Unlock()

		return ErrNotLoaded
	}

	flowID := s.flowID
	s.mu.Unlock()

	flow, err := s.store.Get(ctx, flowID)
	if err != nil {
		return fmt.Errorf("failed to reload flow %d: %w", flowID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flowID == flowID {
		s.seed(flow)
	}

	return nil
}

// seed replaces the working copy with a committed flow. Callers hold the lock.
func (s *Session) seed(flow *models.Flow) {
	s.working = flow.Clone()
	s.version = flow.Version
	s.status = flow.ApprovalStatus
	s.dirty = false
	s.stale = false
	s.report = s.engine.Validate(s.working)
}

// ApplyLocalEdit mutates the working graph and queues the matching events for the room,
// in the order edits are applied.
func (s *Session) ApplyLocalEdit(change Change) error {
	if change == nil {
		return ErrEmptyChange
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.working == nil {
		return ErrNotLoaded
	}

	events, err := change.apply(s.working)
	if err != nil {
		return err
	}

	s.dirty = true

	if _, ok := s.working.NodeByID(s.selected); !ok {
		s.selected = ""
	}

	if s.link == nil {
		return nil
	}

	for _, event := range events {
		event.FlowID = s.flowID
		event.Origin = s.origin

		select {
		case s.link.outbox <- event:
		default:
			s.logger.Warn("Dropping local edit broadcast, outbox full", "flow_id", s.flowID, "type", event.Type)
		}
	}

	return nil
}

// ApplyRemoteEvent merges an event from another session. Events for other flows, from this
// session, or of unknown types are ignored. A flow_saved event for a newer version marks
// the session stale. It reports whether the event changed the session.
func (s *Session) ApplyRemoteEvent(event models.MutationEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.working == nil || event.FlowID != s.flowID || event.Origin == s.origin {
		return false
	}

	if event.Type == models.MutationFlowSaved {
		if event.Version > s.version {
			s.stale = true

			return true
		}

		return false
	}

	if !merge(s.working, event) {
		return false
	}

	if _, ok := s.working.NodeByID(s.selected); !ok {
		s.selected = ""
	}

	return true
}

// Save writes the working graph with the held version. A stale version yields a
// *ConflictError and leaves the session untouched.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()

	if s.working == nil {
		s.mu.Unlock()

		return ErrNotLoaded
	}

	flowID := s.flowID
	held := s.version
	snapshot := s.working.Clone()
	s.mu.Unlock()

	result, err := s.store.Save(ctx, flowID, snapshot.Nodes, snapshot.Edges, held, s.origin)
	if err != nil {
		if errors.Is(err, persistence.ErrVersionConflict) {
			return &ConflictError{FlowID: flowID, HeldVersion: held}
		}

		return fmt.Errorf("failed to save flow %d: %w", flowID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flowID != flowID || s.version != held {
		return nil
	}

	s.version = result.Version
	s.status = result.ApprovalStatus
	s.stale = false
	s.dirty = !s.working.SameGraph(snapshot.Nodes, snapshot.Edges)

	return nil
}

// RequestApproval asks the store to move the committed flow to target. When validation
// blocks it, the defects are kept for DefectsFor.
func (s *Session) RequestApproval(ctx context.Context, target models.ApprovalStatus) error {
	s.mu.Lock()

	if s.working == nil {
		s.mu.Unlock()

		return ErrNotLoaded
	}

	flowID := s.flowID
	held := s.version
	previous := s.status
	s.mu.Unlock()

	result, err := s.store.RequestApproval(ctx, flowID, target, s.origin)
	if err != nil {
		var failed *approval.ValidationFailedError
		if errors.As(err, &failed) {
			s.mu.Lock()
			if s.flowID == flowID {
				s.report = failed.Report
			}
			s.mu.Unlock()
		}

		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flowID != flowID {
		return nil
	}

	s.status = result.Status
	s.report = models.Report{}

	// The approval only wrote over our base graph if it moved exactly one version past it.
	switch {
	case result.Status != previous && result.Version == held+1 && s.version == held:
		s.version = result.Version
	case result.Version != s.version:
		s.stale = true
	}

	return nil
}

// Validate re-runs the local validation engine on the working graph.
func (s *Session) Validate() models.Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.working == nil {
		return models.Report{}
	}

	s.report = s.engine.Validate(s.working)

	return append(models.Report{}, s.report...)
}

// DefectsFor returns the last known defects attached to a node.
func (s *Session) DefectsFor(nodeID string) models.Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.report.ForNode(nodeID)
}

// Report returns the last known defect report.
func (s *Session) Report() models.Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append(models.Report{}, s.report...)
}

// Export renders the working graph. Failures wrap export.ErrExportFailed and never touch
// the session.
func (s *Session) Export(ctx context.Context, w io.Writer, kind export.Kind) error {
	err := ctx.Err()
	if err != nil {
		return fmt.Errorf("%w: %w", export.ErrExportFailed, err)
	}

	s.mu.Lock()

	if s.working == nil {
		s.mu.Unlock()

		return fmt.Errorf("%w: %w", export.ErrExportFailed, ErrNotLoaded)
	}

	snapshot := s.working.Clone()
	snapshot.Version = s.version
	snapshot.ApprovalStatus = s.status
	s.mu.Unlock()

	err = export.Render(w, kind, snapshot, s.media)
	if err != nil {
		s.logger.WarnContext(ctx, "Export failed", "flow_id", snapshot.ID, "kind", kind, "error", err)

		return err
	}

	return nil
}

// Select focuses a node by id. An empty id clears the selection.
func (s *Session) Select(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if nodeID == "" {
		s.selected = ""

		return nil
	}

	if s.working == nil {
		return ErrNotLoaded
	}

	if _, ok := s.working.NodeByID(nodeID); !ok {
		return unknownNode(nodeID)
	}

	s.selected = nodeID

	return nil
}

// SelectedNode looks up the focused node in the current working graph.
func (s *Session) SelectedNode() (models.StepNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.working == nil || s.selected == "" {
		return models.StepNode{}, false
	}

	return s.working.NodeByID(s.selected)
}

// Flow returns a copy of the working graph carrying the held version and status.
func (s *Session) Flow() *models.Flow {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.working == nil {
		return nil
	}

	flow := s.working.Clone()
	flow.Version = s.version
	flow.ApprovalStatus = s.status

	return flow
}

// Version returns the store version the working graph is based on.
func (s *Session) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.version
}

// ApprovalStatus returns the last known approval status.
func (s *Session) ApprovalStatus() models.ApprovalStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// Dirty reports unsaved local edits.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dirty
}

// Stale reports that another session saved a newer version.
func (s *Session) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stale
}

// ChannelState returns the collaboration connection state.
func (s *Session) ChannelState() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}
