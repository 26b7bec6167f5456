// Package respond writes JSON responses and maps domain error codes to HTTP
// statuses for every handler.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/apperr"
)

var validate = validator.New()

func init() {
	validate.RegisterValidation("uuid_required", func(fl validator.FieldLevel) bool {
		if id, ok := fl.Field().Interface().(uuid.UUID); ok {
			return id != uuid.Nil
		}

		return false
	})
}

type errorResponse struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

var statuses = map[apperr.Code]int{
	apperr.CodeValidation:        http.StatusBadRequest,
	apperr.CodeInvalidTransition: http.StatusConflict,
	apperr.CodeInvalidState:      http.StatusConflict,
	apperr.CodeAlreadySigned:     http.StatusConflict,
	apperr.CodeLocked:            http.StatusConflict,
	apperr.CodeNotFound:          http.StatusNotFound,
	apperr.CodePrecondition:      http.StatusUnprocessableEntity,
	apperr.CodeNothingToRefund:   http.StatusUnprocessableEntity,
	apperr.CodeNotInProgress:     http.StatusConflict,
	apperr.CodeAlreadyPaid:       http.StatusConflict,
	apperr.CodeConflict:          http.StatusPreconditionFailed,
	apperr.CodeForbidden:         http.StatusForbidden,
	apperr.CodeUpstream:          http.StatusBadGateway,
}

// Status returns the HTTP status for an error code.
func Status(code apperr.Code) int {
	if s, ok := statuses[code]; ok {
		return s
	}

	return http.StatusInternalServerError
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Error writes {"code","message"}. Internal errors are logged and their
// message is not exposed.
func Error(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := Status(code)

	msg := err.Error()
	if code == apperr.CodeInternal {
		slog.Error("request failed", "error", err)
		msg = "internal error"
	}

	var e *apperr.Error
	if errors.As(err, &e) && code != apperr.CodeUpstream && code != apperr.CodeInternal {
		msg = e.Message
	}

	JSON(w, status, errorResponse{Code: code, Message: msg})
}

// Decode reads a JSON body into v and runs its validate tags. An empty body
// leaves v at its zero value.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.New(apperr.CodeValidation, "invalid request body: %v", err)
	}

	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return apperr.Wrap(apperr.CodeValidation, err, "invalid request")
		}

		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}

		return apperr.New(apperr.CodeValidation, "invalid fields: %s", strings.Join(fields, ", "))
	}

	return nil
}

// ParseID reads a uuid path value.
func ParseID(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.CodeValidation, "invalid %s %q", name, raw)
	}

	return id, nil
}

// Date is a calendar date carried as "2006-01-02". Full RFC 3339 timestamps
// are accepted and truncated to their UTC date.
type Date struct {
	time.Time
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}

	return json.Marshal(d.UTC().Format(time.DateOnly))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	if s == "" {
		d.Time = time.Time{}
		return nil
	}

	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
			return nil
		}
	}

	return fmt.Errorf("invalid date %q", s)
}

// DatePtr converts an optional time for responses.
func DatePtr(t *time.Time) *Date {
	if t == nil {
		return nil
	}

	return &Date{Time: *t}
}

// Versioned writes v with its aggregate version as ETag.
func Versioned(w http.ResponseWriter, status int, version int64, v any) {
	w.Header().Set("ETag", strconv.FormatInt(version, 10))
	JSON(w, status, v)
}
