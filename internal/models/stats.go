package models

// UserStats сводка по учётным записям для панели администратора.
type UserStats struct {
	Total   int               `json:"total"`
	ByState map[UserState]int `json:"by_state"`
	ByRole  map[Role]int      `json:"by_role"`
	// NewSince и ActiveSince считаются от начала окна запроса.
	NewSince    int `json:"new_since"`
	ActiveSince int `json:"active_since"`
}

// SessionStats сводка по действующим сессиям.
type SessionStats struct {
	Active      int              `json:"active"`
	ActiveUsers int              `json:"active_users"`
	ByPlatform  map[Platform]int `json:"by_platform"`
}
