// Package api holds the JSON conventions shared by the HTTP handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var (
	ErrEmptyBody   = errors.New("request body is empty")
	ErrInvalidJSON = errors.New("invalid JSON")
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// report json field names instead of Go ones
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// ValidationError lists the invalid request fields and why.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		msgs = append(msgs, field+": "+msg)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Bind decodes a JSON body into dst and validates it.
func Bind(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	return Validate(dst)
}

// Validate checks the validate tags of s.
func Validate(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}

	return &ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters long", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters long", fe.Param())
	default:
		return fmt.Sprintf("failed on %q", fe.Tag())
	}
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, ErrorResponse{Error: msg})
}

// BadRequest writes a 400 for an error returned by Bind.
func BadRequest(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Details: verr.Fields})
		return
	}

	JSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: err.Error()})
}

// Internal writes a 500. The cause is only included when expose is set.
func Internal(w http.ResponseWriter, err error, expose bool) {
	resp := ErrorResponse{Error: "internal error"}
	if expose && err != nil {
		resp.Details = err.Error()
	}

	JSON(w, http.StatusInternalServerError, resp)
}
