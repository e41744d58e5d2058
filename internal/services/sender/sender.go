// Package services содержит отправку уведомлений по почте.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"

	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/tenant-auth/internal/lib/sl"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/smtp"
	"github.com/magabrotheeeer/tenant-auth/internal/metrics"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

var errUnknownTemplate = errors.New("unknown template")

// SenderService превращает уведомления из очереди в письма.
type SenderService struct {
	transport smtp.Dialer
	limiter   *rate.Limiter
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// NewSenderService создает новый экземпляр SenderService. limiter
// ограничивает частоту подключений к SMTP-серверу, nil снимает ограничение.
func NewSenderService(transport smtp.Dialer, limiter *rate.Limiter, log *slog.Logger,
	m *metrics.Metrics) *SenderService {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &SenderService{
		transport: transport,
		limiter:   limiter,
		log:       log,
		metrics:   m,
	}
}

// Handle обрабатывает одно сообщение очереди. Повреждённые сообщения и
// неизвестные шаблоны отбрасываются, ошибка SMTP возвращает сообщение
// в очередь.
func (s *SenderService) Handle(ctx context.Context, body []byte) error {
	var n models.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		s.log.Error("failed to unmarshal notification, dropped", sl.Err(err))
		return nil
	}
	log := s.log.With(slog.String("template", string(n.Template)))

	subject, text, err := render(n)
	if err != nil {
		log.Error("failed to render notification, dropped", sl.Err(err))
		s.metrics.Notification(string(n.Template), err)
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("services.Handle: %w", err)
	}

	err = s.sendEmail(ctx, []string{n.To}, subject, text)
	s.metrics.Notification(string(n.Template), err)
	if err != nil {
		log.Error("failed to send email", sl.Err(err))
		return err
	}
	log.Info("email sent")
	return nil
}

func (s *SenderService) sendEmail(ctx context.Context, to []string, subject, bodyText string) error {
	from := s.transport.From()
	msg := strings.Join([]string{
		"From: " + from,
		"To: " + strings.Join(to, ", "),
		"Subject: " + mime.QEncoding.Encode("utf-8", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", addr, err)
		}
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := wc.Write([]byte(msg)); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return client.Quit()
}
