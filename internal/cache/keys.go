package cache

import "fmt"

// Ключи строятся только здесь, чтобы путь записи и путь инвалидации
// использовали одинаковые строки.

// SessionKey запись одной сессии.
func SessionKey(sessionID string) string { return "session:" + sessionID }

// UserSessionsKey список активных сессий пользователя.
func UserSessionsKey(userID string) string { return "user_sessions:" + userID }

// UserKey профиль пользователя.
func UserKey(userID string) string { return "user:" + userID }

// LicenseKey лицензия подписчика.
func LicenseKey(subscriberID string) string { return "user:license:" + subscriberID }

// PendingRequestKey ожидающая заявка на лицензию.
func PendingRequestKey(userID string) string { return "user:license:request:" + userID }

// MembersKey активный состав подписчика.
func MembersKey(subscriberID string) string { return "user:members:" + subscriberID }

// MembershipKey членство пользователя в чужом составе.
func MembershipKey(userID string) string { return "user:membership:" + userID }

// MemberPermissionsKey права одного участника.
func MemberPermissionsKey(subscriberID, memberID string) string {
	return fmt.Sprintf("member:permissions:%s:%s", subscriberID, memberID)
}

// AllMembersPermissionsKey права всех участников подписчика.
func AllMembersPermissionsKey(subscriberID string) string {
	return "all_members_permissions:" + subscriberID
}

// ResetCooldownKey счётчик запросов кода сброса пароля.
func ResetCooldownKey(email string) string { return "reset_password_cooldown:" + email }

// SessionKeys ключи сессий вместе со списком сессий пользователя.
func SessionKeys(userID string, sessionIDs ...string) []string {
	keys := make([]string, 0, len(sessionIDs)+1)
	for _, id := range sessionIDs {
		keys = append(keys, SessionKey(id))
	}
	return append(keys, UserSessionsKey(userID))
}

// RosterKeys ключи, которые устаревают при изменении состава подписчика.
// memberUserID может быть пустым для приглашений без учётной записи.
func RosterKeys(subscriberID, recordID, memberUserID string) []string {
	keys := []string{
		LicenseKey(subscriberID),
		MembersKey(subscriberID),
		MemberPermissionsKey(subscriberID, recordID),
		AllMembersPermissionsKey(subscriberID),
	}
	if memberUserID != "" {
		keys = append(keys, MembershipKey(memberUserID))
	}
	return keys
}
