package admin

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/http/middlewarectx"
	"github.com/magabrotheeeer/tenant-auth/internal/http/response"
)

// ListUsers обрабатывает GET /admin/users?search=&page=&limit=.
//
// @Summary Список пользователей
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Param search query string false "Поиск по email и имени"
// @Param page query int false "Номер страницы"
// @Param limit query int false "Размер страницы"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /admin/users [get]
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.ListUsers")

	p := page(r)
	users, total, err := h.service.ListUsers(r.Context(), r.URL.Query().Get("search"), p)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"users": users,
		"total": total,
	}))
}

// SetStatus обрабатывает PATCH /admin/users/{id}/status.
//
// @Summary Блокировка пользователя
// @Description При блокировке все сессии пользователя завершаются.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID пользователя"
// @Param request body StatusRequest true "Новый статус"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /admin/users/{id}/status [patch]
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.SetStatus")

	var req StatusRequest
	if !response.Decode(w, r, log, h.validate, &req) {
		return
	}
	userID := chi.URLParam(r, "id")
	if err := h.service.SetUserStatus(r.Context(), userID, *req.Enabled); err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("user status changed", slog.String("user_id", userID), slog.Bool("enabled", *req.Enabled))
	render.JSON(w, r, response.OK())
}

// SetRole обрабатывает PATCH /admin/users/{id}/role.
//
// @Summary Смена роли
// @Description Доступно только суперадминистратору. Все сессии пользователя завершаются.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID пользователя"
// @Param request body RoleRequest true "Новая роль"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /admin/users/{id}/role [patch]
func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.SetRole")

	var req RoleRequest
	if !response.Decode(w, r, log, h.validate, &req) {
		return
	}
	userID := chi.URLParam(r, "id")
	if err := h.service.UpdateRole(r.Context(), userID, req.Role); err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("user role changed", slog.String("user_id", userID), slog.String("role", req.Role))
	render.JSON(w, r, response.OK())
}

// DeleteUser обрабатывает DELETE /admin/users/{id}.
//
// @Summary Удаление пользователя
// @Tags Admin
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID пользователя"
// @Param request body DeleteRequest false "Причина удаления"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /admin/users/{id} [delete]
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.DeleteUser")

	var req DeleteRequest
	if r.ContentLength != 0 && !response.Decode(w, r, log, h.validate, &req) {
		return
	}
	userID := chi.URLParam(r, "id")
	if _, err := h.service.DeleteUser(r.Context(), userID, req.Reason); err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("user deleted", slog.String("user_id", userID))
	render.JSON(w, r, response.OK())
}

// ListSessions обрабатывает GET /admin/sessions?user_id=&page=&limit=.
//
// @Summary Список сессий
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Param user_id query string false "ID пользователя"
// @Param page query int false "Номер страницы"
// @Param limit query int false "Размер страницы"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /admin/sessions [get]
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.ListSessions")

	list, total, err := h.service.ListSessions(r.Context(), r.URL.Query().Get("user_id"), page(r))
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	views := make([]SessionView, 0, len(list))
	for _, s := range list {
		views = append(views, SessionView{
			ID:         s.ID,
			UserID:     s.UserID,
			Platform:   s.Platform,
			DeviceInfo: s.DeviceInfo,
			IPAddress:  s.IPAddress,
			LastActive: s.LastActive,
			CreatedAt:  s.CreatedAt,
		})
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"sessions": views,
		"total":    total,
	}))
}

// TerminateSession обрабатывает DELETE /admin/sessions/{id}.
//
// @Summary Завершение сессии
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID сессии"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /admin/sessions/{id} [delete]
func (h *Handler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.TerminateSession")

	sessionID := chi.URLParam(r, "id")
	if err := h.service.TerminateSession(r.Context(), sessionID); err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("session terminated", slog.String("session_id", sessionID))
	render.JSON(w, r, response.OK())
}

// TerminateUserSessions обрабатывает DELETE /admin/users/{id}/sessions.
//
// @Summary Завершение всех сессий пользователя
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID пользователя"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /admin/users/{id}/sessions [delete]
func (h *Handler) TerminateUserSessions(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.TerminateUserSessions")

	userID := chi.URLParam(r, "id")
	n, err := h.service.TerminateUserSessions(r.Context(), userID)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("user sessions terminated", slog.String("user_id", userID), slog.Int("count", n))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"terminated": n,
	}))
}

// LoginLogs обрабатывает GET /admin/users/{id}/login-logs?days=&limit=.
//
// @Summary Журнал входов
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID пользователя"
// @Param days query int false "Глубина в днях"
// @Param limit query int false "Максимум записей"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /admin/users/{id}/login-logs [get]
func (h *Handler) LoginLogs(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.LoginLogs")

	since := time.Duration(queryInt(r, "days")) * 24 * time.Hour
	logs, err := h.service.LoginLogs(r.Context(), chi.URLParam(r, "id"), since, queryInt(r, "limit"))
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	views := make([]LoginLogView, 0, len(logs))
	for _, l := range logs {
		views = append(views, LoginLogView{
			ID:            l.ID,
			Action:        string(l.Action),
			Platform:      l.Platform,
			Success:       l.Success,
			FailureReason: l.FailureReason,
			IPAddress:     l.IPAddress,
			DeviceInfo:    l.DeviceInfo,
			CreatedAt:     l.CreatedAt,
		})
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"logs": views,
	}))
}

// UserStats обрабатывает GET /admin/stats/users?days=.
//
// @Summary Статистика пользователей
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Param days query int false "Окно для новых и активных, в днях"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /admin/stats/users [get]
func (h *Handler) UserStats(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.UserStats")

	window := time.Duration(queryInt(r, "days")) * 24 * time.Hour
	stats, err := h.service.UserStats(r.Context(), window)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"stats": stats,
	}))
}

// SessionStats обрабатывает GET /admin/stats/sessions.
//
// @Summary Статистика сессий
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /admin/stats/sessions [get]
func (h *Handler) SessionStats(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.SessionStats")

	stats, err := h.service.SessionStats(r.Context())
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"stats": stats,
	}))
}

// ListRequests обрабатывает GET /admin/license-requests?status=&page=&limit=.
//
// @Summary Заявки на лицензию
// @Description Доступно только суперадминистратору.
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Param status query string false "Статус заявки"
// @Param page query int false "Номер страницы"
// @Param limit query int false "Размер страницы"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /admin/license-requests [get]
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.ListRequests")

	list, total, err := h.requests.List(r.Context(), r.URL.Query().Get("status"), queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"requests": list,
		"total":    total,
	}))
}

// ProcessRequest обрабатывает POST /admin/license-requests/{id}.
//
// @Summary Решение по заявке
// @Description Одобрение выдаёт или продлевает лицензию. Доступно только суперадминистратору.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID заявки"
// @Param request body ProcessRequest true "Решение"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 409 {object} response.Response "Конфликт"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /admin/license-requests/{id} [post]
func (h *Handler) ProcessRequest(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.ProcessRequest")

	admin, ok := middlewarectx.PrincipalFrom(r.Context())
	if !ok {
		response.Fail(w, r, log, apperr.ErrTokenInvalid)
		return
	}
	var req ProcessRequest
	if !response.Decode(w, r, log, h.validate, &req) {
		return
	}

	lr, lic, err := h.requests.Process(r.Context(), chi.URLParam(r, "id"), admin.UserID, req.Action == "approve")
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("license request processed", slog.String("request_id", lr.ID), slog.String("status", string(lr.Status)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"request": lr,
		"license": lic,
	}))
}
