// Package ids генерирует идентификаторы сущностей.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New возвращает UUID для пользователей, сессий, лицензий и записей состава.
func New() string {
	return uuid.NewString()
}

// NewSortable возвращает монотонный ULID. Используется для журнала входов,
// где важен порядок записей.
func NewSortable(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Valid проверяет, что s является корректным UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
