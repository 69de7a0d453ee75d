// Пакет errors — HTTP-ответы с ошибками Archive Engine.
// Единый формат: {"error_code": "...", "error_message": "..."} —
// тот же контракт, что и в результатах очереди заданий.
package errors //nolint:revive // конфликт имени со stdlib осознанный

import (
	"encoding/json"
	"net/http"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		ErrorCode:    code,
		ErrorMessage: message,
	})
}

// WriteAppError отображает типизированную ошибку на HTTP-статус.
func WriteAppError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	WriteError(w, httpStatus(code), code, err.Error())
}

// httpStatus — соответствие кода таксономии HTTP-статусу.
func httpStatus(code string) int {
	switch code {
	case apperrors.CodeFileNotFound, apperrors.CodeArchiveNotFound:
		return http.StatusNotFound
	case apperrors.CodeValidation, apperrors.CodeUnsupportedFormat,
		apperrors.CodeInvalidArchive, apperrors.CodeInvalidFileFormat:
		return http.StatusBadRequest
	case apperrors.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperrors.CodePasswordProtected, apperrors.CodeWrongPassword:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, apperrors.CodeValidation, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, apperrors.CodeArchiveNotFound, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, apperrors.CodeProcessing, message)
}
