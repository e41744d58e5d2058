// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON‑ответов HTTP‑обработчиков. Пакет упрощает возврат
// успешных ответов, ошибок и сообщений валидации в едином формате.
package response

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/sl"
)

// Response описывает стандартную структуру JSON‑ответа сервера.
// Поле Status это статус запроса ("OK" или "Error").
// Поле Error это текст ошибки (опционально, при неуспехе).
// Поле Data это данные ответа (опционально, при успехе).
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

const (
	// StatusOK это значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError это значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// OK возвращает успешный Response без данных.
func OK() Response {
	return Response{Status: StatusOK}
}

// OKWithData возвращает успешный Response с переданными данными.
func OKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает Response с ошибкой и переданным сообщением.
func Error(msg string) Response {
	return Response{
		Status: StatusError,
		Error:  msg,
	}
}

// statuses сопоставляет доменные ошибки с HTTP-кодами. Порядок важен:
// проверяется первая подходящая запись.
var statuses = []struct {
	err  error
	code int
}{
	{apperr.ErrInvalidInput, http.StatusBadRequest},
	{apperr.ErrInvalidPlatform, http.StatusBadRequest},
	{apperr.ErrUnknownPermission, http.StatusBadRequest},
	{apperr.ErrInvalidCredentials, http.StatusUnauthorized},
	{apperr.ErrTokenInvalid, http.StatusUnauthorized},
	{apperr.ErrSessionNotFound, http.StatusUnauthorized},
	{apperr.ErrSessionExpired, http.StatusUnauthorized},
	{apperr.ErrAccountDisabled, http.StatusForbidden},
	{apperr.ErrForbidden, http.StatusForbidden},
	{apperr.ErrLicenseExpired, http.StatusForbidden},
	{apperr.ErrUserNotFound, http.StatusNotFound},
	{apperr.ErrMemberNotFound, http.StatusNotFound},
	{apperr.ErrNotInRoster, http.StatusNotFound},
	{apperr.ErrLicenseNotFound, http.StatusNotFound},
	{apperr.ErrRequestNotFound, http.StatusNotFound},
	{apperr.ErrNoPendingRequest, http.StatusNotFound},
	{apperr.ErrEmailTaken, http.StatusConflict},
	{apperr.ErrSeatLimitReached, http.StatusConflict},
	{apperr.ErrAlreadyInOtherRoster, http.StatusConflict},
	{apperr.ErrPendingRequestExists, http.StatusConflict},
	{apperr.ErrLicenseAlreadyActive, http.StatusConflict},
	{apperr.ErrRequestProcessed, http.StatusConflict},
	{apperr.ErrNoSeatsInUse, http.StatusConflict},
	{apperr.ErrResetCodeInvalid, http.StatusBadRequest},
	{apperr.ErrTooManyRequests, http.StatusTooManyRequests},
}

// StatusFor возвращает HTTP-код для ошибки сервиса. Всё, что не является
// доменной ошибкой, включая ErrStorage, превращается в 500.
func StatusFor(err error) int {
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return http.StatusInternalServerError
}

// Fail пишет ответ с ошибкой сервиса. Текст внутренних ошибок наружу
// не отдаётся.
func Fail(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	code := StatusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		log.Error("request failed", sl.Err(err))
		msg = "internal service error"
	} else {
		log.Info("request rejected", sl.Err(err), slog.Int("status", code))
	}
	render.Status(r, code)
	render.JSON(w, r, Error(msg))
}

// ValidationError формирует Response со статусом Error на основе ошибок валидации.
// Каждое нарушение формируется в человеко‑читаемый текст, объединённый через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "email":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be a valid email", err.Field()))
		case "min":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at least %s", err.Field(), err.Param()))
		case "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at most %s", err.Field(), err.Param()))
		case "oneof":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be one of: %s", err.Field(), err.Param()))
		case "numeric":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only numbers", err.Field()))
		case "uuid":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only uuid", err.Field()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return Response{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}

// Decode читает JSON-тело в dst и проверяет его валидатором. При ошибке
// ответ уже записан и возвращается false.
func Decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, v *validator.Validate, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, Error("invalid request body"))
		return false
	}
	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			log.Info("validation failed", sl.Err(err))
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, ValidationError(verrs))
			return false
		}
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, Error("invalid request body"))
		return false
	}
	return true
}
