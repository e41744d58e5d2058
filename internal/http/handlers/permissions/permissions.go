// Package permissions реализует HTTP-обработчики прав участников.
//
// Подписчик управляет правами участников своего состава; участник может
// посмотреть собственные права через /permissions/me.
package permissions

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

// Service описывает бизнес-логику прав.
type Service interface {
	Vocabulary() []models.PermissionInfo
	Grant(ctx context.Context, subscriberID, recordID, perm string) error
	Revoke(ctx context.Context, subscriberID, recordID, perm string) error
	BatchSet(ctx context.Context, subscriberID, recordID string, perms []string) ([]string, error)
	GetForMember(ctx context.Context, subscriberID, recordID string) ([]string, error)
	GetForAllMembers(ctx context.Context, subscriberID string) ([]models.MemberPermissions, error)
}

// Membership определяет, в чьём составе состоит пользователь.
type Membership interface {
	MembershipOf(ctx context.Context, userID string) (*models.MemberRecord, error)
}

// Handler обрабатывает маршруты /permissions.
type Handler struct {
	log        *slog.Logger
	service    Service
	membership Membership
	validate   *validator.Validate
}

// New создает Handler.
func New(log *slog.Logger, service Service, membership Membership) *Handler {
	return &Handler{
		log:        log,
		service:    service,
		membership: membership,
		validate:   validator.New(),
	}
}

// PermissionRequest одно право.
type PermissionRequest struct {
	Permission string `json:"permission" validate:"required"`
}

// BatchRequest полный набор прав участника. Пустой список снимает все права.
type BatchRequest struct {
	Permissions []string `json:"permissions"`
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

// Vocabulary обрабатывает GET /permissions/vocabulary.
//
// @Summary Словарь прав
// @Tags Permissions
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /permissions/vocabulary [get]
func (h *Handler) Vocabulary(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, response.OKWithData(map[string]any{
		"permissions": h.service.Vocabulary(),
	}))
}

// ListAll обрабатывает GET /permissions.
//
// @Summary Права всех участников
// @Tags Permissions
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /permissions [get]
func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	log, p, ok := h.prepare(w, r, "handlers.permissions.ListAll")
	if !ok {
		return
	}
	all, err := h.service.GetForAllMembers(r.Context(), p.UserID)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"members": all,
	}))
}

// Get обрабатывает GET /permissions/{memberID}.
//
// @Summary Права участника
// @Tags Permissions
// @Produce  json
// @Security BearerAuth
// @Param memberID path string true "ID записи участника"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /permissions/{memberID} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	log, p, ok := h.prepare(w, r, "handlers.permissions.Get")
	if !ok {
		return
	}
	memberID := chi.URLParam(r, "memberID")
	perms, err := h.service.GetForMember(r.Context(), p.UserID, memberID)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"member_id":   memberID,
		"permissions": perms,
	}))
}

// Mine обрабатывает GET /permissions/me.
//
// @Summary Собственные права
// @Tags Permissions
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /permissions/me [get]
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	log, p, ok := h.prepare(w, r, "handlers.permissions.Mine")
	if !ok {
		return
	}
	rec, err := h.membership.MembershipOf(r.Context(), p.UserID)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	if rec == nil {
		render.JSON(w, r, response.OKWithData(map[string]any{
			"subscriber_id": nil,
			"permissions":   []string{},
		}))
		return
	}
	perms, err := h.service.GetForMember(r.Context(), rec.SubscriberID, rec.ID)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"subscriber_id": rec.SubscriberID,
		"permissions":   perms,
	}))
}

// Set обрабатывает PUT /permissions/{memberID}.
//
// @Summary Замена набора прав
// @Tags Permissions
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param memberID path string true "ID записи участника"
// @Param request body BatchRequest true "Полный набор прав"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /permissions/{memberID} [put]
func (h *Handler) Set(w http.ResponseWriter, r *http.Request) {
	log, p, ok := h.prepare(w, r, "handlers.permissions.Set")
	if !ok {
		return
	}
	var req BatchRequest
	if !response.Decode(w, r, log, h.validate, &req) {
		return
	}
	memberID := chi.URLParam(r, "memberID")
	perms, err := h.service.BatchSet(r.Context(), p.UserID, memberID, req.Permissions)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("permissions replaced", slog.String("member_id", memberID), slog.Int("count", len(perms)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"member_id":   memberID,
		"permissions": perms,
	}))
}

// Grant обрабатывает POST /permissions/{memberID}/grant.
//
// @Summary Выдача права
// @Tags Permissions
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param memberID path string true "ID записи участника"
// @Param request body PermissionRequest true "Ключ права"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /permissions/{memberID}/grant [post]
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, "handlers.permissions.Grant", h.service.Grant)
}

// Revoke обрабатывает POST /permissions/{memberID}/revoke.
//
// @Summary Отзыв права
// @Tags Permissions
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param memberID path string true "ID записи участника"
// @Param request body PermissionRequest true "Ключ права"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /permissions/{memberID}/revoke [post]
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, "handlers.permissions.Revoke", h.service.Revoke)
}

func (h *Handler) single(w http.ResponseWriter, r *http.Request, op string,
	apply func(ctx context.Context, subscriberID, recordID, perm string) error) {
	log, p, ok := h.prepare(w, r, op)
	if !ok {
		return
	}
	var req PermissionRequest
	if !response.Decode(w, r, log, h.validate, &req) {
		return
	}
	memberID := chi.URLParam(r, "memberID")
	if err := apply(r.Context(), p.UserID, memberID, req.Permission); err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("permission changed", slog.String("member_id", memberID), slog.String("permission", req.Permission))
	render.JSON(w, r, response.OK())
}
