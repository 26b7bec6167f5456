package respond_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/immotrack/internal/apperr"
	"github.com/MrJamesThe3rd/immotrack/internal/http/respond"
)

func TestError(t *testing.T) {
	type testCase struct {
		name       string
		err        error
		wantStatus int
		wantCode   apperr.Code
		wantMsg    string
	}

	tests := []testCase{
		{
			name:       "Locked",
			err:        apperr.New(apperr.CodeLocked, "installment is paid"),
			wantStatus: http.StatusConflict,
			wantCode:   apperr.CodeLocked,
			wantMsg:    "installment is paid",
		},
		{
			name:       "WrappedNotFound",
			err:        fmt.Errorf("loading: %w", apperr.New(apperr.CodeNotFound, "sale x not found")),
			wantStatus: http.StatusNotFound,
			wantCode:   apperr.CodeNotFound,
			wantMsg:    "sale x not found",
		},
		{
			name:       "Internal",
			err:        errors.New("pq: connection reset"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   apperr.CodeInternal,
			wantMsg:    "internal error",
		},
		{
			name:       "Upstream",
			err:        apperr.Wrap(apperr.CodeUpstream, errors.New("timeout"), "refunding"),
			wantStatus: http.StatusBadGateway,
			wantCode:   apperr.CodeUpstream,
			wantMsg:    "refunding: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			respond.Error(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var body struct {
				Code    apperr.Code `json:"code"`
				Message string      `json:"message"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantMsg, body.Message)
		})
	}
}

func TestDecode(t *testing.T) {
	type request struct {
		UnitID uuid.UUID `json:"unit_id" validate:"uuid_required"`
		Price  int64     `json:"price" validate:"gt=0"`
	}

	t.Run("Valid", func(t *testing.T) {
		id := uuid.New()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"unit_id":"`+id.String()+`","price":10}`))

		var req request
		require.NoError(t, respond.Decode(r, &req))
		assert.Equal(t, id, req.UnitID)
	})

	t.Run("FailedValidation", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"price":0}`))

		var req request
		err := respond.Decode(r, &req)
		require.ErrorIs(t, err, apperr.ErrValidation)
		assert.Contains(t, err.Error(), "UnitID")
		assert.Contains(t, err.Error(), "Price")
	})

	t.Run("Malformed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))

		var req request
		assert.ErrorIs(t, respond.Decode(r, &req), apperr.ErrValidation)
	})
}

func TestDate(t *testing.T) {
	var body struct {
		Due respond.Date `json:"due"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"due":"2026-04-01"}`), &body))
	assert.Equal(t, "2026-04-01", body.Due.Format("2006-01-02"))

	require.NoError(t, json.Unmarshal([]byte(`{"due":"2026-04-01T23:30:00+02:00"}`), &body))
	assert.Equal(t, "2026-04-01", body.Due.Format("2006-01-02"))

	assert.Error(t, json.Unmarshal([]byte(`{"due":"01/04/2026"}`), &body))

	out, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"due":"2026-04-01"}`, string(out))
}
