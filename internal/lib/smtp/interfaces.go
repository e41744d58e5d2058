// Package smtp отправляет почту через SMTP-сервер с обязательным STARTTLS.
// Сессия с сервером скрыта за интерфейсом Session, чтобы сервис рассылки
// можно было проверить без сети.
package smtp

import (
	"context"
	"io"
)

// Session одна авторизованная сессия с сервером: конверт, тело и выход.
type Session interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// Dialer открывает сессии от имени одного отправителя.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
	From() string
}
