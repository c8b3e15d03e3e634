package postgresql

import (
	"log/slog"
	"testing"

	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowRepository_buildListQuery(t *testing.T) {
	repo := &FlowRepository{logger: slog.Default()}
	approved := models.ApprovalStatusApproved

	tests := []struct {
		name      string
		opts      persistence.ListFlowsOptions
		wantQuery string
		wantArgs  []any
		wantErr   error
	}{
		{
			name:    "invalid sort field",
			opts:    persistence.ListFlowsOptions{SortBy: "owner", Limit: 10},
			wantErr: persistence.ErrInvalidSortField,
		},
		{
			name:    "sql injection attempt",
			opts:    persistence.ListFlowsOptions{SortBy: "name; DROP TABLE flows; --", Limit: 10},
			wantErr: persistence.ErrInvalidSortField,
		},
		{
			name:      "sorted by name descending",
			opts:      persistence.ListFlowsOptions{SortBy: "name", SortOrder: "desc", Limit: 10, Offset: 20},
			wantQuery: "SELECT " + flowColumns + " FROM flows ORDER BY name DESC, id DESC LIMIT $1 OFFSET $2",
			wantArgs:  []any{10, 20},
		},
		{
			name:      "filtered by status",
			opts:      persistence.ListFlowsOptions{SortBy: "id", Status: &approved, Limit: 5},
			wantQuery: "SELECT " + flowColumns + " FROM flows WHERE approval_status = $1 ORDER BY id ASC, id ASC LIMIT $2 OFFSET $3",
			wantArgs:  []any{approved, 5, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := repo.buildListQuery(tt.opts)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, persistence.IsInvalidSortField(err))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantQuery, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}
