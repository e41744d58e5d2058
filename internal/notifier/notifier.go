// Package notifier доставляет уведомления в брокер асинхронно. Вызывающий
// код никогда не ждёт брокер и не получает ошибок отправки.
package notifier

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/magabrotheeeer/tenant-auth/internal/lib/sl"
	"github.com/magabrotheeeer/tenant-auth/internal/metrics"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

// Publisher публикует сообщение в брокер.
type Publisher interface {
	Publish(message any) error
}

// Notifier буферизует уведомления и публикует их в отдельной горутине.
// При переполнении буфера уведомление отбрасывается.
type Notifier struct {
	pub     Publisher
	queue   chan models.Notification
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var errDropped = errors.New("notification dropped")

// New создает Notifier с буфером на buffer сообщений.
func New(pub Publisher, buffer int, log *slog.Logger, m *metrics.Metrics) *Notifier {
	if buffer < 1 {
		buffer = 1
	}
	return &Notifier{
		pub:     pub,
		queue:   make(chan models.Notification, buffer),
		log:     log,
		metrics: m,
	}
}

// Start запускает публикацию. Остановка через Close.
func (n *Notifier) Start() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for msg := range n.queue {
			n.publish(msg)
		}
	}()
}

// Notify ставит уведомление в очередь без блокировки.
func (n *Notifier) Notify(_ context.Context, msg models.Notification) {
	if msg.To == "" {
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.log.Warn("notifier closed, notification dropped", slog.String("template", string(msg.Template)))
		return
	}
	select {
	case n.queue <- msg:
	default:
		n.log.Error("notification buffer full, dropped", slog.String("template", string(msg.Template)))
		n.metrics.Notification(string(msg.Template), errDropped)
	}
}

// Close прекращает приём уведомлений и дожидается публикации уже принятых.
func (n *Notifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Notifier) publish(msg models.Notification) {
	err := n.pub.Publish(msg)
	n.metrics.Notification(string(msg.Template), err)
	if err != nil {
		n.log.Error("failed to publish notification",
			slog.String("template", string(msg.Template)),
			sl.Err(err),
		)
	}
}
