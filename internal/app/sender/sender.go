// Package sender собирает сервис доставки почтовых уведомлений: читает
// очередь RabbitMQ и отправляет письма через SMTP с ограничением частоты.
package sender

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/tenant-auth/internal/config"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/sl"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/smtp"
	"github.com/magabrotheeeer/tenant-auth/internal/metrics"
	"github.com/magabrotheeeer/tenant-auth/internal/rabbitmq"
	senderservice "github.com/magabrotheeeer/tenant-auth/internal/services/sender"
)

const workers = 4

type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	queue         string
	senderService *senderservice.SenderService
	logger        *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.Topology{
		Exchange:   cfg.RabbitMQExchange,
		Queue:      cfg.RabbitMQQueue,
		RoutingKey: cfg.RabbitMQRoutingKey,
	}, workers)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.SMTPRatePerSec), cfg.SMTPBurst)
	m := metrics.New(prometheus.DefaultRegisterer)
	senderService := senderservice.NewSenderService(smtp.NewTransport(cfg.SMTP, logger), limiter, logger, m)

	return &App{
		conn:          conn,
		ch:            ch,
		queue:         cfg.RabbitMQQueue,
		senderService: senderService,
		logger:        logger,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	err := rabbitmq.ConsumerMessage(ctx, a.ch, a.queue, workers, a.senderService.Handle, a.logger)
	if err != nil {
		a.logger.Error("failed to start consumer", slog.String("queue", a.queue), sl.Err(err))
		return err
	}
	a.logger.Info("consuming notifications", slog.String("queue", a.queue))

	<-ctx.Done()
	a.logger.Info("Sender service shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}

	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}

	return nil
}
