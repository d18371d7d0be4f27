package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/eventboard/server/internal/mutation"
	"github.com/rs/zerolog"
)

// AuthResponse is the body of the REST login and register endpoints.
type AuthResponse struct {
	Data    *AuthData `json:"data"`
	Message string    `json:"message"`
	Error   any       `json:"error"`
}

type AuthData struct {
	Token string `json:"token"`
}

// AuthHandler serves login and register as plain JSON endpoints for clients
// that do not speak the operation envelope. Both dispatch the same operations
// the envelope endpoint does and set the same session cookie.
type AuthHandler struct {
	dispatcher Dispatcher
	env        string
	cookie     CookieOptions
}

func NewAuthHandler(dispatcher Dispatcher, env string, cookie CookieOptions) *AuthHandler {
	return &AuthHandler{dispatcher: dispatcher, env: env, cookie: cookie}
}

func (h *AuthHandler) Login() http.Handler {
	return h.handle("login", http.StatusOK, "Login successful", "Login failed")
}

func (h *AuthHandler) Register() http.Handler {
	return h.handle("register", http.StatusCreated, "User registered successfully", "Registration failed")
}

func (h *AuthHandler) handle(operation string, okStatus int, okMessage, failMessage string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				respondJSON(w, http.StatusRequestEntityTooLarge, AuthResponse{Message: failMessage, Error: "request body too large"})
				return
			}
			respondJSON(w, http.StatusBadRequest, AuthResponse{Message: failMessage, Error: err.Error()})
			return
		}

		result, err := h.dispatcher.Dispatch(r.Context(), operation, json.RawMessage(body))
		if err != nil {
			status, message := authFailure(err, failMessage)
			detail := any(err.Error())
			if status == http.StatusInternalServerError {
				zerolog.Ctx(r.Context()).Error().Err(err).Str("operation", operation).Msg("auth request failed")
				if h.env != "development" && h.env != "test" {
					detail = failMessage
				}
			}
			respondJSON(w, status, AuthResponse{Message: message, Error: detail})
			return
		}

		payload, ok := result.(*mutation.AuthPayload)
		if !ok || payload == nil {
			respondJSON(w, http.StatusInternalServerError, AuthResponse{Message: failMessage, Error: failMessage})
			return
		}
		h.cookie.set(w, payload.Token, payload.ExpiresAt)
		respondJSON(w, okStatus, AuthResponse{Data: &AuthData{Token: payload.Token}, Message: okMessage})
	})
}

func authFailure(err error, failMessage string) (int, string) {
	switch mutation.Code(err) {
	case mutation.CodeBadUserInput:
		return http.StatusBadRequest, "Validation failed"
	case mutation.CodeUnauthenticated:
		return http.StatusUnauthorized, "Invalid credentials"
	case mutation.CodeNotFound:
		return http.StatusNotFound, failMessage
	case mutation.CodeAlreadyExists:
		return http.StatusConflict, failMessage
	}
	return http.StatusInternalServerError, failMessage
}
