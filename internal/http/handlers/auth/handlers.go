package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/tenant-auth/internal/http/response"
	authservices "github.com/magabrotheeeer/tenant-auth/internal/services/auth"
)

// Register обрабатывает POST /auth/register.
//
// @Summary Регистрация пользователя
// @Description Создаёт учётную запись по email и паролю.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body RegisterRequest true "Данные нового пользователя"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 409 {object} response.Response "Конфликт"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.auth.Register")

	var req RegisterRequest
	if !response.Decode(w, r, log, h.validate, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), authservices.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Timezone: req.Timezone,
	})
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}

	log.Info("user registered", slog.String("user_id", user.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(map[string]any{
		"user": user,
	}))
}

// Login обрабатывает POST /auth/login.
//
// @Summary Вход по паролю
// @Description Открывает сессию на платформе. Прежняя сессия той же платформы завершается.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body LoginRequest true "Учетные данные пользователя"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 429 {object} response.Response "Слишком много запросов"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.auth.Login")

	var req LoginRequest
	if !response.Decode(w, r, log, h.validate, &req) {
		return
	}

	res, err := h.service.Login(r.Context(), authservices.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		Platform:   req.Platform,
		DeviceInfo: deviceInfo(r, req.DeviceInfo),
		IPAddress:  r.RemoteAddr,
		Timezone:   req.Timezone,
	})
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}

	log.Info("login success", slog.String("user_id", res.User.ID), slog.String("platform", string(res.Session.Platform)))
	render.JSON(w, r, response.OKWithData(tokensResponse(res)))
}

// Google обрабатывает POST /auth/google.
//
// @Summary Вход через Google
// @Description Проверяет ID-токен Google и открывает сессию.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body GoogleRequest true "ID-токен и платформа"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 429 {object} response.Response "Слишком много запросов"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /auth/google [post]
func (h *Handler) Google(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.auth.Google")

	var req GoogleRequest
	if !response.Decode(w, r, log, h.validate, &req) {
		return
	}

	res, err := h.service.LoginWithIdentity(r.Context(), req.IDToken, authservices.LoginInput{
		Platform:   req.Platform,
		DeviceInfo: deviceInfo(r, req.DeviceInfo),
		IPAddress:  r.RemoteAddr,
		Timezone:   req.Timezone,
	})
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}

	log.Info("google login success", slog.String("user_id", res.User.ID))
	render.JSON(w, r, response.OKWithData(tokensResponse(res)))
}

// Refresh обрабатывает POST /auth/refresh.
//
// @Summary Обновление токенов
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body RefreshRequest true "Refresh-токен"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /auth/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.auth.Refresh")

	var req RefreshRequest
	if !response.Decode(w, r, log, h.validate, &req) {
		return
	}

	res, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(tokensResponse(res)))
}

// Logout обрабатывает POST /auth/logout.
//
// @Summary Выход
// @Description Завершает сессии пользователя на текущей платформе.
// @Tags Auth
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.auth.Logout")

	p, ok := principal(w, r, log)
	if !ok {
		return
	}
	if err := h.service.Logout(r.Context(), *p); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	log.Info("logout", slog.String("user_id", p.UserID), slog.String("platform", string(p.Platform)))
	render.JSON(w, r, response.OK())
}

// Sessions обрабатывает GET /auth/sessions.
//
// @Summary Активные сессии
// @Tags Auth
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} map[string]any "Сессии по платформам"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /auth/sessions [get]
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.auth.Sessions")

	p, ok := principal(w, r, log)
	if !ok {
		return
	}
	grouped, err := h.service.Sessions(r.Context(), p.UserID)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}

	out := make(map[string][]SessionView, len(grouped))
	for platform, list := range grouped {
		views := make([]SessionView, 0, len(list))
		for _, s := range list {
			views = append(views, NewSessionView(s, p.SessionID))
		}
		out[string(platform)] = views
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"sessions": out,
	}))
}

// ForgotPassword обрабатывает POST /auth/password/forgot. Ответ одинаков
// для существующих и несуществующих адресов.
//
// @Summary Запрос кода сброса пароля
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body ForgotRequest true "Email пользователя"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 429 {object} response.Response "Слишком много запросов"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /auth/password/forgot [post]
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.auth.ForgotPassword")

	var req ForgotRequest
	if !response.Decode(w, r, log, h.validate, &req) {
		return
	}
	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, response.OK())
}

// ResetPassword обрабатывает POST /auth/password/reset.
//
// @Summary Сброс пароля по коду
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body ResetRequest true "Email, код и новый пароль"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /auth/password/reset [post]
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.auth.ResetPassword")

	var req ResetRequest
	if !response.Decode(w, r, log, h.validate, &req) {
		return
	}
	if err := h.service.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OK())
}

// Me обрабатывает GET /auth/me.
//
// @Summary Профиль текущего пользователя
// @Tags Auth
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /auth/me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.auth.Me")

	p, ok := principal(w, r, log)
	if !ok {
		return
	}
	user, err := h.service.Me(r.Context(), p.UserID)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"user": user,
	}))
}

// UpdateMe обрабатывает PATCH /auth/me.
//
// @Summary Изменение профиля
// @Description Меняет имя и часовой пояс. Отсутствующие поля не меняются.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body ProfileRequest true "Новые значения полей"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 404 {object} response.Response "Не найдено"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /auth/me [patch]
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.auth.UpdateMe")

	p, ok := principal(w, r, log)
	if !ok {
		return
	}
	var req ProfileRequest
	if !response.Decode(w, r, log, h.validate, &req) {
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), p.UserID, authservices.ProfileInput{
		FullName: req.FullName,
		Timezone: req.Timezone,
	})
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("profile updated", slog.String("user_id", p.UserID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"user": user,
	}))
}

// DeleteMe обрабатывает DELETE /auth/me. Тело запроса необязательно.
//
// @Summary Удаление учётной записи
// @Tags Auth
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body DeactivateRequest false "Причина удаления"
// @Success 200 {object} map[string]any "Успешный ответ"
// @Failure 400 {object} response.Response "Некорректный запрос"
// @Failure 401 {object} response.Response "Пользователь не авторизован"
// @Failure 403 {object} response.Response "Доступ запрещён"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /auth/me [delete]
func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.auth.DeleteMe")

	p, ok := principal(w, r, log)
	if !ok {
		return
	}
	var req DeactivateRequest
	if r.ContentLength != 0 && !response.Decode(w, r, log, h.validate, &req) {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "deleted by user"
	}

	if _, err := h.service.Deactivate(r.Context(), p.UserID, reason); err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("account deactivated", slog.String("user_id", p.UserID))
	render.JSON(w, r, response.OK())
}
