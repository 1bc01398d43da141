// Package notify публикует исходящие сообщения ядра в RabbitMQ.
// Транспортный воркер (вебхук-бот, телеграм-адаптер) читает очереди
// и доставляет сообщения пользователям; ядро о способе доставки не знает.
package notify

import (
	"fmt"

	"github.com/streadway/amqp"

	"github.com/brandonlmk/jobs-marketplace/internal/lib/rabbitmq"
	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

// Notifier публикует исходящие сообщения в exchange уведомлений.
type Notifier struct {
	ch       *amqp.Channel
	exchange string
}

// New создает Notifier поверх открытого канала AMQP.
func New(ch *amqp.Channel, exchange string) *Notifier {
	return &Notifier{ch: ch, exchange: exchange}
}

// Prompt отправляет вопрос очередного шага диалога в сессию.
func (n *Notifier) Prompt(prompt models.Prompt) error {
	const op = "notify.Prompt"
	if err := rabbitmq.PublishMessage(n.ch, n.exchange, "prompt", prompt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Notify отправляет сообщение аккаунту.
func (n *Notifier) Notify(notification models.Notification) error {
	const op = "notify.Notify"
	if err := rabbitmq.PublishMessage(n.ch, n.exchange, "notify", notification); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Broadcast публикует сообщение в общий канал.
func (n *Notifier) Broadcast(broadcast models.Broadcast) error {
	const op = "notify.Broadcast"
	if err := rabbitmq.PublishMessage(n.ch, n.exchange, "broadcast", broadcast); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
