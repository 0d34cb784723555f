package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-user-store/config"
	"github.com/oksasatya/go-user-store/pkg/helpers"
	"github.com/oksasatya/go-user-store/pkg/mailer"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName+"-email-worker", cfg.Env, cfg.LogLevel)

	if !cfg.MailSendEnabled {
		logger.Info("MAIL_SEND_ENABLED=false; email worker disabled (no real emails will be sent)")
		return
	}
	if cfg.RabbitMQURL == "" || cfg.RabbitMQEmailQueue == "" {
		logger.Fatal("RabbitMQ not configured")
	}
	if cfg.MailgunDomain == "" || cfg.MailgunAPIKey == "" || cfg.MailgunSender == "" {
		logger.Fatal("Mailgun not configured")
	}

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatalf("amqp dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatalf("amqp channel: %v", err)
	}
	defer func() { _ = ch.Close() }()

	// prefetch for fair dispatch
	if err := ch.Qos(16, 0, false); err != nil {
		logger.Fatalf("qos: %v", err)
	}
	if err := helpers.DeclareQueue(ch, cfg.RabbitMQEmailQueue); err != nil {
		logger.Fatalf("queue declare: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitMQEmailQueue, "", false, false, false, false, nil)
	if err != nil {
		logger.Fatalf("consume: %v", err)
	}

	mg := mailer.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunSender)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for msg := range msgs {
			handle(ctx, logger, mg, msg)
		}
	}()

	logger.WithField("queue", cfg.RabbitMQEmailQueue).Info("email worker listening")
	<-stop
	logger.Info("shutting down...")
	cancel()
	_ = ch.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

const (
	retryDelay    = 5 * time.Second
	maxDeliveries = 5
)

// handle acks delivered jobs, drops undeliverable ones and requeues transient
// failures after a pause.
func handle(ctx context.Context, logger *logrus.Logger, s mailer.Sender, msg amqp.Delivery) {
	var job mailer.EmailJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		helpers.LogError(logger, "bad message", err, nil)
		_ = msg.Nack(false, false)
		return
	}

	fields := logrus.Fields{"to": job.To, "template": job.Template, "redelivered": msg.Redelivered}
	err := mailer.Deliver(ctx, s, job)
	if err == nil {
		logger.WithFields(fields).Info("email sent")
		_ = msg.Ack(false)
		return
	}

	requeue, wait := disposition(err, msg)
	if !requeue {
		helpers.LogError(logger, "dropping email job", err, fields)
		_ = msg.Nack(false, false)
		return
	}
	helpers.LogError(logger, "send failed; requeueing", err, fields)
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
	_ = msg.Nack(false, true)
}

// disposition decides whether a failed job goes back on the queue and how
// long to hold it first.
func disposition(err error, msg amqp.Delivery) (requeue bool, wait time.Duration) {
	if errors.Is(err, mailer.ErrBadJob) {
		return false, 0
	}
	if deliveryCount(msg) >= maxDeliveries {
		return false, 0
	}
	return true, retryDelay
}

// deliveryCount uses the x-delivery-count header of quorum queues when present.
// Classic queues only report whether the message was delivered before.
func deliveryCount(msg amqp.Delivery) int {
	switch n := msg.Headers["x-delivery-count"].(type) {
	case int64:
		return int(n) + 1
	case int32:
		return int(n) + 1
	case int:
		return n + 1
	}
	if msg.Redelivered {
		return 2
	}
	return 1
}
