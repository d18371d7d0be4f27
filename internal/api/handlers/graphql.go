package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eventboard/server/internal/api/problem"
	"github.com/eventboard/server/internal/mutation"
	"github.com/eventboard/server/internal/session"
	"github.com/rs/zerolog"
)

// Dispatcher runs a named operation. *mutation.Router implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, variables json.RawMessage) (any, error)
}

// OperationRequest is the body accepted by the operation endpoint.
// operationName is accepted as an alias so GraphQL style clients work
// unchanged.
type OperationRequest struct {
	Operation     string          `json:"operation"`
	OperationName string          `json:"operationName"`
	Query         string          `json:"query"`
	Variables     json.RawMessage `json:"variables"`
}

func (r OperationRequest) name() string {
	if r.Operation != "" {
		return strings.TrimSpace(r.Operation)
	}
	return strings.TrimSpace(r.OperationName)
}

type OperationResponse struct {
	Data   map[string]any   `json:"data"`
	Errors []OperationError `json:"errors,omitempty"`
}

type OperationError struct {
	Message    string         `json:"message"`
	Path       []string       `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions"`
}

// CookieOptions controls the session cookie set on login and register.
type CookieOptions struct {
	Secure bool
}

type OperationHandler struct {
	dispatcher Dispatcher
	env        string
	cookie     CookieOptions
}

func NewOperationHandler(dispatcher Dispatcher, env string, cookie CookieOptions) *OperationHandler {
	return &OperationHandler{dispatcher: dispatcher, env: env, cookie: cookie}
}

// ServeHTTP decodes the envelope, dispatches it and writes the result.
// Operation failures are reported in errors[] with status 200; only a body
// that cannot be read as an envelope gets a non 200 status.
func (h *OperationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := decodeEnvelope(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			problem.Write(w, r, http.StatusRequestEntityTooLarge, "request-too-large", "Request body too large", err, h.env)
			return
		}
		writeOperationResponse(w, r, http.StatusBadRequest, OperationResponse{
			Data: map[string]any{},
			Errors: []OperationError{{
				Message:    err.Error(),
				Extensions: map[string]any{"code": mutation.CodeBadUserInput},
			}},
		})
		return
	}

	name := req.name()
	result, err := h.dispatcher.Dispatch(r.Context(), name, req.Variables)
	if err != nil {
		code := mutation.Code(err)
		message := err.Error()
		if code == mutation.CodeInternal && !h.exposeErrors() {
			message = "internal server error"
		}
		writeOperationResponse(w, r, http.StatusOK, OperationResponse{
			Data: map[string]any{name: nil},
			Errors: []OperationError{{
				Message:    message,
				Path:       []string{name},
				Extensions: mutation.Extensions(err),
			}},
		})
		return
	}

	switch payload := result.(type) {
	case *mutation.AuthPayload:
		h.cookie.set(w, payload.Token, payload.ExpiresAt)
	case mutation.LogoutPayload:
		h.cookie.clear(w)
	}

	writeOperationResponse(w, r, http.StatusOK, OperationResponse{Data: map[string]any{name: result}})
}

func (h *OperationHandler) exposeErrors() bool {
	return h.env == "development" || h.env == "test"
}

func (c CookieOptions) set(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c CookieOptions) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func decodeEnvelope(body io.Reader) (OperationRequest, error) {
	var req OperationRequest
	if body == nil {
		return req, errors.New("request body is required")
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return req, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return req, errors.New("request body is required")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, errors.New("invalid request body: " + err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return req, errors.New("invalid request body: must be a single JSON object")
	}
	if req.name() == "" {
		return req, errors.New("operation is required")
	}
	return req, nil
}

func writeOperationResponse(w http.ResponseWriter, r *http.Request, status int, resp OperationResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("encode operation response")
		problem.WriteProblem(w, problem.ProblemDetails{
			Type:   "about:blank",
			Title:  http.StatusText(http.StatusInternalServerError),
			Status: http.StatusInternalServerError,
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
