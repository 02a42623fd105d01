package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/Conveyor/internal/engine"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest       ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeConflict         ErrorCode = "CONFLICT"
	ErrCodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"
	ErrCodeQueueUnavailable ErrorCode = "QUEUE_UNAVAILABLE"
	ErrCodeTimeout          ErrorCode = "TIMEOUT"
	ErrCodeInternalError    ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет ответ о создании ресурса.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// Accepted отправляет ответ 202: запрос принят, результат асинхронный.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, DataResponse{Data: data})
}

// NoContent отправляет ответ без тела (204).
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// errorMapping — соответствие ошибок движка HTTP ответам. Порядок важен:
// ErrQueueNotFound и ErrJobNotFound оборачивают ErrNotFound.
var errorMapping = []struct {
	err    error
	status int
	code   ErrorCode
}{
	{engine.ErrValidation, http.StatusBadRequest, ErrCodeBadRequest},
	{engine.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
	{engine.ErrQueueExists, http.StatusConflict, ErrCodeConflict},
	{engine.ErrCapacity, http.StatusTooManyRequests, ErrCodeCapacityExceeded},
	{engine.ErrInvalidState, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{engine.ErrSupervision, http.StatusServiceUnavailable, ErrCodeQueueUnavailable},
	{engine.ErrQueueUnavailable, http.StatusServiceUnavailable, ErrCodeQueueUnavailable},
	{engine.ErrNotStarted, http.StatusServiceUnavailable, ErrCodeQueueUnavailable},
	{engine.ErrRequestTimeout, http.StatusGatewayTimeout, ErrCodeTimeout},
}

// HandleEngineError преобразует ошибку движка в HTTP ответ.
// Возвращает false, если ошибки нет.
func HandleEngineError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			Error(w, m.status, m.code, err.Error())
			return true
		}
	}

	InternalError(w, logger, err)
	return true
}
