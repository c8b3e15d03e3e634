package editor_test

import (
	"testing"

	"github.com/dukex/processflow/pkg/editor"
	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_ApplyLocalEdit(t *testing.T) {
	tests := []struct {
		name    string
		change  editor.Change
		wantErr error
		check   func(t *testing.T, flow *models.Flow)
	}{
		{
			name:   "update keeps recording provenance",
			change: editor.UpdateNode{Node: models.StepNode{ID: "2", Label: "Open ME21N", Details: "Enter vendor", StartTS: 99}},
			check: func(t *testing.T, flow *models.Flow) {
				t.Helper()

				node, _ := flow.NodeByID("2")
				assert.Equal(t, "Enter vendor", node.Details)
				assert.InDelta(t, 12.5, node.StartTS, 0.001)
				assert.InDelta(t, 4.0, node.Duration, 0.001)
			},
		},
		{
			name:    "update unknown node",
			change:  editor.UpdateNode{Node: models.StepNode{ID: "9"}},
			wantErr: editor.ErrUnknownNode,
		},
		{
			name:   "add node generates an id",
			change: editor.AddNode{Node: models.StepNode{Label: "Check status"}},
			check: func(t *testing.T, flow *models.Flow) {
				t.Helper()

				require.Len(t, flow.Nodes, 3)
				assert.NotEmpty(t, flow.Nodes[2].ID)
			},
		},
		{
			name:    "add duplicate node",
			change:  editor.AddNode{Node: models.StepNode{ID: "1"}},
			wantErr: editor.ErrDuplicateID,
		},
		{
			name:   "remove node drops incident edges",
			change: editor.RemoveNode{ID: "2"},
			check: func(t *testing.T, flow *models.Flow) {
				t.Helper()

				assert.Len(t, flow.Nodes, 1)
				assert.Empty(t, flow.Edges)
			},
		},
		{
			name:    "move unknown node",
			change:  editor.MoveNode{ID: "9"},
			wantErr: editor.ErrUnknownNode,
		},
		{
			name:   "add edge with dangling target",
			change: editor.AddEdge{Edge: models.Transition{Source: "2", Target: "9"}},
			check: func(t *testing.T, flow *models.Flow) {
				t.Helper()

				require.Len(t, flow.Edges, 2)
				assert.Equal(t, "e2-9", flow.Edges[1].ID)
			},
		},
		{
			name:    "add duplicate edge",
			change:  editor.AddEdge{Edge: models.Transition{Source: "1", Target: "2"}},
			wantErr: editor.ErrDuplicateID,
		},
		{
			name:    "add edge without endpoints",
			change:  editor.AddEdge{Edge: models.Transition{ID: "x"}},
			wantErr: editor.ErrEmptyChange,
		},
		{
			name:   "remove edge",
			change: editor.RemoveEdge{ID: "e1-2"},
			check: func(t *testing.T, flow *models.Flow) {
				t.Helper()

				assert.Empty(t, flow.Edges)
				assert.Len(t, flow.Nodes, 2)
			},
		},
		{
			name:    "remove unknown edge",
			change:  editor.RemoveEdge{ID: "e9-1"},
			wantErr: editor.ErrUnknownEdge,
		},
		{
			name:    "nil change",
			change:  nil,
			wantErr: editor.ErrEmptyChange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			flow := f.create(t, persistencetest.SampleFlow())
			s := f.session(t, flow.ID)

			before := s.Flow()

			err := s.ApplyLocalEdit(tt.change)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, s.Flow())
				assert.False(t, s.Dirty())

				return
			}

			require.NoError(t, err)
			assert.True(t, s.Dirty())
			tt.check(t, s.Flow())
		})
	}
}
