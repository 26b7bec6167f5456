package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/immotrack/internal/actor"
	"github.com/MrJamesThe3rd/immotrack/internal/http/auth"
)

func TestAuthenticator_IssueAndParse(t *testing.T) {
	a := auth.New("secret", time.Hour)
	want := actor.Actor{ID: uuid.New(), Role: actor.RoleNotary}

	token, err := a.Issue(want)
	require.NoError(t, err)

	got, err := a.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = auth.New("other", time.Hour).Parse(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	expired, err := auth.New("secret", -time.Minute).Issue(want)
	require.NoError(t, err)

	_, err = a.Parse(expired)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = a.Issue(actor.Actor{ID: uuid.New(), Role: "janitor"})
	assert.Error(t, err)
}

func TestAuthenticator_Middleware(t *testing.T) {
	a := auth.New("secret", time.Hour)
	want := actor.Actor{ID: uuid.New(), Role: actor.RoleAgency}

	token, err := a.Issue(want)
	require.NoError(t, err)

	var seen actor.Actor

	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = actor.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "Valid", header: "Bearer " + token, wantStatus: http.StatusNoContent},
		{name: "Missing", header: "", wantStatus: http.StatusUnauthorized},
		{name: "WrongScheme", header: "Token " + token, wantStatus: http.StatusUnauthorized},
		{name: "Garbage", header: "Bearer abc.def.ghi", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	assert.Equal(t, want, seen)
}
