package response

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	customError "github.com/segyhp/payment-risk-engine/pkg/errors"
)

type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type ErrorResponse struct {
	Success   bool      `json:"success"`
	Code      string    `json:"code,omitempty"`
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	response := Response{
		Success:   statusCode >= 200 && statusCode < 300,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// Success sends a successful JSON response
func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// Created sends a created JSON response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// Error sends an error JSON response
func Error(w http.ResponseWriter, statusCode int, message string, err error) {
	response := ErrorResponse{
		Success:   false,
		Code:      customError.CodeOf(err),
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	if err != nil {
		response.Error = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// FromError maps business error codes to HTTP statuses
func FromError(w http.ResponseWriter, err error) {
	var be *customError.BusinessError
	message := "internal error"
	if errors.As(err, &be) {
		message = be.Message
	}

	switch customError.CodeOf(err) {
	case customError.ErrCodeValidation:
		if be == nil {
			message = "request validation failed"
		}
		Error(w, http.StatusBadRequest, message, err)
	case customError.ErrCodeMandateNotFound, customError.ErrCodePayerNotFound:
		Error(w, http.StatusNotFound, message, err)
	case customError.ErrCodeCacheError:
		Error(w, http.StatusServiceUnavailable, message, err)
	default:
		if errors.Is(err, http.ErrHandlerTimeout) {
			Error(w, http.StatusServiceUnavailable, "request timed out", err)
			return
		}
		Error(w, http.StatusInternalServerError, message, err)
	}
}

// BadRequest sends a 400 bad request response
func BadRequest(w http.ResponseWriter, message string, err error) {
	Error(w, http.StatusBadRequest, message, err)
}

// NotFound sends a 404 not found response
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message, nil)
}

// InternalServerError sends a 500 internal server error response
func InternalServerError(w http.ResponseWriter, message string, err error) {
	Error(w, http.StatusInternalServerError, message, err)
}

// CORSMiddleware adds CORS headers
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
