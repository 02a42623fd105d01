package handler

import "errors"

// Ошибки handler'ов.
var (
	// ErrHandlerNotFound — для типа job нет handler'а.
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrInvalidPayload — payload не соответствует формату handler'а.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")

	// ErrForcedFailure — fail-handler упал по запросу из payload.
	ErrForcedFailure = errors.New("forced failure")
)
