package auth_test

import (
	"testing"

	"github.com/dukex/processflow/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBearer(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    auth.Principal
		wantErr error
	}{
		{"editor", "Bearer editor.alice", auth.Principal{Subject: "alice", Role: auth.RoleEditor}, nil},
		{"approver lower-case scheme", "bearer approver.bob", auth.Principal{Subject: "bob", Role: auth.RoleApprover}, nil},
		{"bare token", "viewer.carol", auth.Principal{Subject: "carol", Role: auth.RoleViewer}, nil},
		{"empty", "", auth.Principal{}, auth.ErrMissingToken},
		{"scheme only", "Bearer ", auth.Principal{}, auth.ErrMissingToken},
		{"unknown role", "Bearer admin.root", auth.Principal{}, auth.ErrInvalidToken},
		{"no subject", "Bearer editor.", auth.Principal{}, auth.ErrInvalidToken},
		{"no separator", "Bearer opaque", auth.Principal{}, auth.ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal, err := auth.ParseBearer(tt.header)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, principal)
		})
	}
}

func TestRole_AtLeast(t *testing.T) {
	assert.True(t, auth.RoleApprover.AtLeast(auth.RoleEditor))
	assert.True(t, auth.RoleEditor.AtLeast(auth.RoleEditor))
	assert.False(t, auth.RoleViewer.AtLeast(auth.RoleEditor))
	assert.False(t, auth.RoleNone.AtLeast(auth.RoleNone))
	assert.Equal(t, "approver.bob", auth.Token(auth.RoleApprover, "bob"))
}
