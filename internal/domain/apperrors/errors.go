// Пакет apperrors — типизированная таксономия ошибок Archive Engine.
// Каждая ошибка несёт машиночитаемый код, идентификатор архива и
// операцию, чтобы восстановить контекст сбоя без повторного запуска.
// Единый формат результата: {"error_code": "...", "error_message": "..."}.
package apperrors

import (
	"errors"
	"fmt"
)

// Коды ошибок. Совпадают с контрактом очереди заданий.
const (
	CodeFileNotFound      = "file_not_found"
	CodeArchiveNotFound   = "archive_not_found"
	CodeUnsupportedFormat = "unsupported_format"
	CodeInvalidArchive    = "invalid_archive"
	CodeInvalidFileFormat = "invalid_file_format"
	CodeFileTooLarge      = "file_too_large"
	CodePasswordProtected = "password_protected"
	CodeWrongPassword     = "wrong_password"
	CodeCrackPassword     = "crack_password_error"
	CodeCompression       = "compression_error"
	CodeExtraction        = "extraction_error"
	CodeProcessing        = "processing_error"
	CodeStorage           = "storage_error"
	CodeCleanup           = "cleanup_error"
	CodeValidation        = "validation_error"
)

// Error — ошибка Archive Engine с машиночитаемым кодом и контекстом.
type Error struct {
	// Code — машиночитаемый код из списка выше
	Code string
	// Message — человекочитаемое описание
	Message string
	// ArchiveID — идентификатор архива ("" если неприменимо)
	ArchiveID string
	// Op — операция, в которой произошла ошибка ("" если неприменимо)
	Op string
	// Err — исходная причина (nil если нет)
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ArchiveID != "" {
		msg += fmt.Sprintf(" (архив %s)", e.ArchiveID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по коду: errors.Is(err, &Error{Code: ...}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithContext возвращает копию ошибки с заполненными архивом и операцией.
// Уже установленные значения не перезаписываются.
func (e *Error) WithContext(archiveID, op string) *Error {
	copied := *e
	if copied.ArchiveID == "" {
		copied.ArchiveID = archiveID
	}
	if copied.Op == "" {
		copied.Op = op
	}
	return &copied
}

// --- Конструкторы по таксономии ---

// FileNotFound — исходный файл не найден.
func FileNotFound(fileID string) *Error {
	return &Error{Code: CodeFileNotFound, Message: fmt.Sprintf("файл %s не найден", fileID)}
}

// ArchiveNotFound — архив не найден или недоступен.
func ArchiveNotFound(archiveID string) *Error {
	return &Error{Code: CodeArchiveNotFound, Message: "архив не найден", ArchiveID: archiveID}
}

// UnsupportedFormat — формат не поддерживается или операция
// невыразима в целевом формате (например, запись rar).
func UnsupportedFormat(message string) *Error {
	return &Error{Code: CodeUnsupportedFormat, Message: message}
}

// InvalidArchive — заголовок контейнера повреждён или не распознан.
func InvalidArchive(message string, cause error) *Error {
	return &Error{Code: CodeInvalidArchive, Message: message, Err: cause}
}

// InvalidFileFormat — входной файл не соответствует ожидаемому формату.
func InvalidFileFormat(filename string) *Error {
	return &Error{Code: CodeInvalidFileFormat, Message: fmt.Sprintf("недопустимый формат файла: %s", filename)}
}

// FileTooLarge — размер превышает настроенный максимум.
func FileTooLarge(size, maxSize int64) *Error {
	return &Error{
		Code:    CodeFileTooLarge,
		Message: fmt.Sprintf("размер %d байт превышает максимум %d байт", size, maxSize),
	}
}

// PasswordProtected — архив зашифрован, пароль не передан.
func PasswordProtected(archiveID string) *Error {
	return &Error{Code: CodePasswordProtected, Message: "архив защищён паролем", ArchiveID: archiveID}
}

// WrongPassword — переданный пароль не прошёл проверку.
func WrongPassword(archiveID string) *Error {
	return &Error{Code: CodeWrongPassword, Message: "неверный пароль", ArchiveID: archiveID}
}

// CrackPassword — подбор невозможен: пространство поиска превышает
// потолок либо пароль не найден в ограниченном пространстве.
func CrackPassword(message string) *Error {
	return &Error{Code: CodeCrackPassword, Message: message}
}

// Compression — сбой кодировщика или ввода-вывода при упаковке.
func Compression(message string, cause error) *Error {
	return &Error{Code: CodeCompression, Message: message, Err: cause}
}

// Extraction — сбой декодера при распаковке (кроме парольных ошибок).
func Extraction(message string, cause error) *Error {
	return &Error{Code: CodeExtraction, Message: message, Err: cause}
}

// Processing — общий сбой обработки.
func Processing(message string, cause error) *Error {
	return &Error{Code: CodeProcessing, Message: message, Err: cause}
}

// Storage — транспортная ошибка blob-хранилища.
func Storage(message string, cause error) *Error {
	return &Error{Code: CodeStorage, Message: message, Err: cause}
}

// Cleanup — ошибка фоновой очистки (логируется, элемент пропускается).
func Cleanup(message string, cause error) *Error {
	return &Error{Code: CodeCleanup, Message: message, Err: cause}
}

// Validation — структурная ошибка входного DTO.
func Validation(message string) *Error {
	return &Error{Code: CodeValidation, Message: message}
}

// --- Классификация ---

// CodeOf возвращает код ошибки или CodeProcessing для нетипизированных.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeProcessing
}

// IsNotFound — ошибки класса "не найдено": не повторяются автоматически.
func IsNotFound(err error) bool {
	switch CodeOf(err) {
	case CodeFileNotFound, CodeArchiveNotFound:
		return true
	}
	return false
}

// IsValidation — ошибки входных данных: отдаются сразу, без повтора.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case CodeUnsupportedFormat, CodeInvalidArchive, CodeInvalidFileFormat,
		CodeFileTooLarge, CodeValidation:
		return true
	}
	return false
}

// IsAuth — парольные ошибки: вызывающая сторона может запросить
// учётные данные вместо сообщения о полном сбое.
func IsAuth(err error) bool {
	switch CodeOf(err) {
	case CodePasswordProtected, CodeWrongPassword:
		return true
	}
	return false
}

// IsRetryable — ошибки, допускающие повтор по инициативе вызывающей
// стороны (частичное состояние не персистируется, операции идемпотентны).
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeCompression, CodeExtraction, CodeProcessing, CodeStorage:
		return true
	}
	return false
}
