package services

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

type letter struct {
	subject string
	body    *template.Template
}

func mustLetter(name, subject, body string) letter {
	return letter{
		subject: subject,
		body:    template.Must(template.New(name).Option("missingkey=zero").Parse(body)),
	}
}

var letters = map[models.Template]letter{
	models.TemplateWelcome: mustLetter("welcome",
		"Добро пожаловать",
		`Здравствуйте, {{.username}}!

Ваша учётная запись создана. Войти можно с любого устройства: веб, мобильного или настольного.`),

	models.TemplateResetPassword: mustLetter("reset_password",
		"Код для сброса пароля",
		`Здравствуйте, {{.username}}!

Ваш код для сброса пароля: {{.code}}
Код действует {{.minutes}} минут. Если вы не запрашивали сброс, просто проигнорируйте это письмо.`),

	models.TemplateAccountDeactivation: mustLetter("account_deactivation",
		"Учётная запись удалена",
		`Здравствуйте, {{.username}}!

Ваша учётная запись удалена.{{if .reason}} Причина: {{.reason}}.{{end}}
Все активные сессии завершены.`),

	models.TemplateLicenseRequestSubmitted: mustLetter("license_request_submitted",
		"Новая заявка на лицензию",
		`Пользователь {{.username}} ({{.email}}) отправил заявку {{.request_id}}.

Тип: {{.type}}
Мест: {{.members}}
Срок: {{.duration}}`),

	models.TemplateLicenseRequestProcessed: mustLetter("license_request_processed",
		"Заявка на лицензию рассмотрена",
		`Здравствуйте, {{.username}}!

Ваша заявка ({{.type}}, мест: {{.members}}) получила статус: {{.status}}.`),

	models.TemplateMemberAdded: mustLetter("member_added",
		"Вас добавили в команду",
		`Здравствуйте!

Пользователь {{.subscriber}} добавил вас в состав своей команды. Если у вас ещё нет учётной записи, зарегистрируйтесь с этим адресом почты.`),

	models.TemplateLicenseExpiring: mustLetter("license_expiring",
		"Срок лицензии заканчивается",
		`Здравствуйте, {{.username}}!

Ваша {{if eq .status "trial"}}пробная {{end}}лицензия на {{.members}} мест действует до {{.expires_at}}.
Чтобы участники не потеряли доступ, отправьте заявку на продление.`),
}

// render возвращает тему и текст письма для уведомления.
func render(n models.Notification) (string, string, error) {
	l, ok := letters[n.Template]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", errUnknownTemplate, n.Template)
	}
	params := n.Params
	if params == nil {
		params = map[string]string{}
	}
	var buf bytes.Buffer
	if err := l.body.Execute(&buf, params); err != nil {
		return "", "", fmt.Errorf("services.render: %w", err)
	}
	return l.subject, buf.String(), nil
}
