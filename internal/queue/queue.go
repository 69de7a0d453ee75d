// Пакет queue — потребитель очереди заданий RabbitMQ.
//
// Задания приходят конвертами {job_id, operation, payload};
// результат каждого задания публикуется в очередь результатов.
// Доставка at-least-once: подтверждение отправляется после записи
// терминального результата, повтор задания с тем же job_id вернёт
// сохранённый результат из archive_processing.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/docstore/archive-engine/internal/config"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
	"github.com/arturkryukov/docstore/archive-engine/internal/service"
)

// Prometheus метрики очереди заданий
var (
	// queueMessagesTotal — обработанные сообщения по операции и исходу.
	queueMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ae_queue_messages_total",
		Help: "Общее количество сообщений очереди заданий по операции и исходу",
	}, []string{"operation", "outcome"})
)

// Envelope — конверт задания в очереди.
type Envelope struct {
	// JobID — уникальный идентификатор задания
	JobID string `json:"job_id"`
	// Operation — имя операции
	Operation string `json:"operation"`
	// Payload — DTO операции
	Payload json.RawMessage `json:"payload"`
}

// Consumer — потребитель очереди заданий.
type Consumer struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	dispatcher *Dispatcher
	taskQueue  string
	resultQ    string
	jobTimeout time.Duration
	logger     *slog.Logger
}

// NewConsumer подключается к RabbitMQ и объявляет очереди.
func NewConsumer(cfg *config.Config, svc *service.ArchiveService, logger *slog.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.AMQPUrl)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}

	// Одно необработанное сообщение на потребителя: операции тяжёлые.
	if err := channel.Qos(1, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("не удалось установить QoS: %w", err)
	}

	for _, queueName := range []string{cfg.TaskQueue, cfg.ResultQueue} {
		if _, err := channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("не удалось объявить очередь %s: %w", queueName, err)
		}
	}

	return &Consumer{
		conn:       conn,
		channel:    channel,
		dispatcher: NewDispatcher(svc),
		taskQueue:  cfg.TaskQueue,
		resultQ:    cfg.ResultQueue,
		jobTimeout: cfg.JobTimeout,
		logger:     logger.With(slog.String("component", "queue")),
	}, nil
}

// Start потребляет задания до отмены контекста.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.taskQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("не удалось начать потребление очереди %s: %w", c.taskQueue, err)
	}

	c.logger.Info("Потребление очереди заданий запущено",
		slog.String("task_queue", c.taskQueue),
		slog.String("result_queue", c.resultQ),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("канал доставки очереди %s закрыт", c.taskQueue)
			}
			c.handle(ctx, delivery)
		}
	}
}

// handle обрабатывает одно сообщение очереди.
func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	var env Envelope
	if err := json.Unmarshal(delivery.Body, &env); err != nil {
		// Нечитаемый конверт: повтор бессмысленен.
		c.logger.Error("Нечитаемый конверт задания",
			slog.String("error", err.Error()),
		)
		queueMessagesTotal.WithLabelValues("unknown", "malformed").Inc()
		_ = delivery.Nack(false, false)
		return
	}

	c.logger.Info("Получено задание",
		slog.String("job_id", env.JobID),
		slog.String("operation", env.Operation),
	)

	jobCtx, cancel := context.WithTimeout(ctx, c.jobTimeout)
	info, err := c.dispatcher.Dispatch(jobCtx, env)
	cancel()

	if info == nil {
		// Задание отклонено до регистрации (валидация конверта или DTO).
		now := time.Now().UTC()
		info = &model.ArchiveProcessingInfo{
			JobID:       env.JobID,
			Operation:   env.Operation,
			Status:      model.ProcessingFailed,
			StartedAt:   now,
			CompletedAt: &now,
		}
		if err != nil {
			info.ErrorCode = errorCode(err)
			info.ErrorMessage = err.Error()
		}
	}

	outcome := "success"
	if info.Status == model.ProcessingFailed {
		outcome = "failed"
	}
	queueMessagesTotal.WithLabelValues(env.Operation, outcome).Inc()

	if err := c.publishResult(ctx, info); err != nil {
		// Результат не опубликован: задание вернётся в очередь,
		// повтор идемпотентен по job_id.
		c.logger.Error("Не удалось опубликовать результат задания",
			slog.String("job_id", env.JobID),
			slog.String("error", err.Error()),
		)
		_ = delivery.Nack(false, true)
		return
	}
	_ = delivery.Ack(false)
}

// publishResult публикует терминальное состояние задания.
func (c *Consumer) publishResult(ctx context.Context, info *model.ArchiveProcessingInfo) error {
	body, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("не удалось сериализовать результат: %w", err)
	}
	return c.channel.PublishWithContext(ctx, "", c.resultQ, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    info.JobID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// Close закрывает канал и соединение с RabbitMQ.
func (c *Consumer) Close() {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("Ошибка закрытия канала RabbitMQ", slog.String("error", err.Error()))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("Ошибка закрытия соединения RabbitMQ", slog.String("error", err.Error()))
		}
	}
	c.logger.Info("Соединение с RabbitMQ закрыто")
}
