package rabbitmq

// QueueConfig связывает очередь воркера с ключом маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// Исходящие уведомления ядра: подсказки диалогов, личные сообщения и
// публикации в общий канал. Транспортный воркер разбирает эти очереди.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "notification.prompt", RoutingKey: "prompt"},
		{QueueName: "notification.direct", RoutingKey: "notify"},
		{QueueName: "notification.broadcast", RoutingKey: "broadcast"},
	}
}

// Входящие типизированные события от транспорта.
func GetInboundQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "marketplace.events", RoutingKey: "inbound"},
	}
}
