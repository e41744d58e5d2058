// Package license реализует HTTP-обработчики лицензии подписчика и его
// заявок на лицензию.
package license

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/tenant-auth/internal/http/middlewarectx"
	"github.com/magabrotheeeer/tenant-auth/internal/http/response"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
	licenseservices "github.com/magabrotheeeer/tenant-auth/internal/services/license"
)

// Service описывает бизнес-логику лицензий.
type Service interface {
	CheckStatus(ctx context.Context, subscriberID string) (*models.License, error)
	Submit(ctx context.Context, userID string, in licenseservices.SubmitInput) (*models.LicenseRequest, error)
	Pending(ctx context.Context, userID string) (*models.LicenseRequest, error)
	Cancel(ctx context.Context, userID string) (*models.LicenseRequest, error)
}

// Handler обрабатывает маршруты /license.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// SubmitRequest тело заявки на лицензию.
type SubmitRequest struct {
	Members  int    `json:"members" validate:"required,min=1"`
	Duration string `json:"duration" validate:"required,oneof=month quarter year"`
	Type     string `json:"type" validate:"required,oneof=new renew add"`
}

func (h *Handler) prepare(w http.ResponseWriter, r *http.Request, op string) (*slog.Logger, *models.Principal, bool) {
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	p, ok := middlewarectx.PrincipalFrom(r.Context())
	if !ok {
		log.Error("principal missing in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("user identification missing"))
		return log, nil, false
	}
	return log, p, true
}

// Get обрабатывает GET /license. Для пользователя без лицензии license равен null.
//
// @Summary Лицензия текущего пользователя
// @Tags License
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /license [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	log, p, ok := h.prepare(w, r, "handlers.license.Get")
	if !ok {
		return
	}

	lic, err := h.service.CheckStatus(r.Context(), p.UserID)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	data := map[string]any{"license": lic}
	if lic != nil {
		data["available_seats"] = lic.AvailableSeats()
	}
	render.JSON(w, r, response.OKWithData(data))
}

// Submit обрабатывает POST /license/requests.
//
// @Summary Заявка на лицензию
// @Tags License
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body SubmitRequest true "Параметры заявки"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 409 {object} response.Response "Конфликт"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /license/requests [post]
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	log, p, ok := h.prepare(w, r, "handlers.license.Submit")
	if !ok {
		return
	}

	var req SubmitRequest
	if !response.Decode(w, r, log, h.validate, &req) {
		return
	}

	lr, err := h.service.Submit(r.Context(), p.UserID, licenseservices.SubmitInput{
		Members:  req.Members,
		Duration: req.Duration,
		Type:     req.Type,
	})
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}

	log.Info("license request submitted", slog.String("request_id", lr.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(map[string]any{
		"request": lr,
	}))
}

// Pending обрабатывает GET /license/requests/pending.
//
// @Summary Ожидающая заявка
// @Tags License
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /license/requests/pending [get]
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	log, p, ok := h.prepare(w, r, "handlers.license.Pending")
	if !ok {
		return
	}

	lr, err := h.service.Pending(r.Context(), p.UserID)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"request": lr,
	}))
}

// Cancel обрабатывает DELETE /license/requests/pending.
//
// @Summary Отмена ожидающей заявки
// @Tags License
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /license/requests/pending [delete]
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	log, p, ok := h.prepare(w, r, "handlers.license.Cancel")
	if !ok {
		return
	}

	lr, err := h.service.Cancel(r.Context(), p.UserID)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("license request cancelled", slog.String("request_id", lr.ID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"request": lr,
	}))
}
