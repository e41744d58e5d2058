package models

// Template ключ шаблона уведомления.
type Template string

const (
	TemplateWelcome                 Template = "welcome"
	TemplateResetPassword           Template = "reset_password"
	TemplateAccountDeactivation     Template = "account_deactivation"
	TemplateLicenseRequestSubmitted Template = "license_request_submitted"
	TemplateLicenseRequestProcessed Template = "license_request_processed"
	TemplateMemberAdded             Template = "member_added"
	TemplateLicenseExpiring         Template = "license_expiring"
)

// Notification сообщение для асинхронной отправки.
type Notification struct {
	To       string            `json:"to"`
	Template Template          `json:"template"`
	Params   map[string]string `json:"params,omitempty"`
}
