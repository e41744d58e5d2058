// Package members реализует HTTP-обработчики состава участников подписчика.
package members

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/tenant-auth/internal/http/middlewarectx"
	"github.com/magabrotheeeer/tenant-auth/internal/http/response"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

// Service описывает бизнес-логику состава.
type Service interface {
	AddMember(ctx context.Context, subscriberID, email string) (*models.MemberRecord, error)
	RemoveMember(ctx context.Context, subscriberID, recordID string) (*models.MemberRecord, error)
	Leave(ctx context.Context, memberUserID string) (*models.MemberRecord, error)
	GetMembers(ctx context.Context, subscriberID string) ([]models.MemberRecord, error)
	MembershipOf(ctx context.Context, userID string) (*models.MemberRecord, error)
}

// Handler обрабатывает маршруты /members. Подписчиком считается текущий пользователь.
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

// AddRequest приглашение участника по email.
type AddRequest struct {
	Email string `json:"email" validate:"required,email"`
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

// List обрабатывает GET /members.
//
// @Summary Состав участников
// @Tags Members
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /members [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	log, p, ok := h.prepare(w, r, "handlers.members.List")
	if !ok {
		return
	}
	list, err := h.service.GetMembers(r.Context(), p.UserID)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"members": list,
	}))
}

// Add обрабатывает POST /members.
//
// @Summary Добавление участника
// @Description Занимает место по лицензии. Незарегистрированный email ждёт регистрации.
// @Tags Members
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body AddRequest true "Email участника"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 409 {object} response.Response "Конфликт"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /members [post]
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	log, p, ok := h.prepare(w, r, "handlers.members.Add")
	if !ok {
		return
	}

	var req AddRequest
	if !response.Decode(w, r, log, h.validate, &req) {
		return
	}

	rec, err := h.service.AddMember(r.Context(), p.UserID, req.Email)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("member added", slog.String("record_id", rec.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(map[string]any{
		"member": rec,
	}))
}

// Remove обрабатывает DELETE /members/{memberID}.
//
// @Summary Удаление участника
// @Tags Members
// @Produce  json
// @Security BearerAuth
// @Param memberID path string true "ID записи участника"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 409 {object} response.Response "Конфликт"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /members/{memberID} [delete]
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	log, p, ok := h.prepare(w, r, "handlers.members.Remove")
	if !ok {
		return
	}

	rec, err := h.service.RemoveMember(r.Context(), p.UserID, chi.URLParam(r, "memberID"))
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("member removed", slog.String("record_id", rec.ID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"member": rec,
	}))
}

// Leave обрабатывает POST /members/leave.
//
// @Summary Выход из состава
// @Tags Members
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /members/leave [post]
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	log, p, ok := h.prepare(w, r, "handlers.members.Leave")
	if !ok {
		return
	}

	rec, err := h.service.Leave(r.Context(), p.UserID)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("member left roster", slog.String("subscriber_id", rec.SubscriberID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"member": rec,
	}))
}

// Membership обрабатывает GET /members/membership: в чьём составе состоит
// текущий пользователь.
//
// @Summary Членство текущего пользователя
// @Tags Members
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /members/membership [get]
func (h *Handler) Membership(w http.ResponseWriter, r *http.Request) {
	log, p, ok := h.prepare(w, r, "handlers.members.Membership")
	if !ok {
		return
	}

	rec, err := h.service.MembershipOf(r.Context(), p.UserID)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"membership": rec,
	}))
}
