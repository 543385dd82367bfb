package queue

import (
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"

	"S2V/models"

	"github.com/streadway/amqp"
)

// VideoMessageQueue 视频生成任务专用队列接口
type VideoMessageQueue interface {
	PublishVideoJob([]byte, int) error
	ConsumeVideo(handler VideoJobHandler) error
	Close() error
}

// VideoJobHandler 处理一条视频任务，阻塞到任务终态。
// 返回 Permanent 包装的错误不会重试，直接进入死信队列
type VideoJobHandler func(msg models.VideoJobMessage) error

var (
	videoOnce     sync.Once
	videoInstance VideoMessageQueue
	videoInitErr  error
)

// InitVideoRabbitMQ 初始化视频任务 RabbitMQ
func InitVideoRabbitMQ(dsn string) error {
	videoOnce.Do(func() {
		inst, err := newVideoAMQPQueue(dsn)
		if err != nil {
			videoInitErr = err
			log.Printf("failed to init video AMQP queue: %v", err)
			return
		}
		videoInstance = inst
	})
	return videoInitErr
}

// GetVideoRabbitMQ 获取视频任务队列实例
func GetVideoRabbitMQ() (VideoMessageQueue, error) {
	if videoInstance == nil {
		if videoInitErr != nil {
			return nil, videoInitErr
		}
		return nil, errors.New("video rabbitmq not initialized; call InitVideoRabbitMQ")
	}
	return videoInstance, nil
}

// --- 永久错误标记 ---

type permanentError struct{ err error }

// Permanent 标记不可重试的错误，消费端看到后直接送死信队列
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsPermanent 判断错误是否被 Permanent 标记过
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// --- 视频任务 AMQP 实现 ---

type videoAMQPQueue struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	queueName string
}

func newVideoAMQPQueue(dsn string) (VideoMessageQueue, error) {
	conn, err := amqp.Dial(dsn)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	// 视频任务专用死信交换机和队列
	dlxName := "video_dlq_exchange"
	dlqName := "video_dlq"

	// 声明死信交换机
	if err := ch.ExchangeDeclare(dlxName, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	// 声明死信队列
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	// 绑定死信队列
	if err := ch.QueueBind(dlqName, dlqName, dlxName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	// 主队列参数，设置死信路由
	args := amqp.Table{
		"x-dead-letter-exchange":    dlxName,
		"x-dead-letter-routing-key": dlqName,
		"x-max-priority":            10,
	}

	q, err := ch.QueueDeclare(
		"video_jobs",
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,  // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	// 视频任务全程轮询占着连接，并发数压小一些
	_ = ch.Qos(5, 0, false)

	return &videoAMQPQueue{conn: conn, ch: ch, queueName: q.Name}, nil
}

// PublishVideoJob 发布视频生成任务
func (q *videoAMQPQueue) PublishVideoJob(b []byte, priority int) error {
	return q.ch.Publish(
		"", q.queueName, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         b,
			DeliveryMode: amqp.Persistent,
			Priority:     uint8(priority),
		},
	)
}

// publishWithHeaders 带header发布（用于重试）
func (q *videoAMQPQueue) publishWithHeaders(b []byte, headers amqp.Table) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         b,
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Priority:     5, // 默认中等优先级
	}
	return q.ch.Publish("", q.queueName, false, false, msg)
}

// ConsumeVideo 消费视频任务。handler 阻塞到任务终态才返回，
// 失败按 x-attempts 计数重试，超限或永久错误进入死信队列
func (q *videoAMQPQueue) ConsumeVideo(handler VideoJobHandler) error {
	deliveries, err := q.ch.Consume(q.queueName, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	concurrency := 5
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for d := range deliveries {
		sem <- struct{}{}
		wg.Add(1)

		go func(del amqp.Delivery) {
			defer func() { <-sem; wg.Done() }()

			var msg models.VideoJobMessage
			if err := json.Unmarshal(del.Body, &msg); err != nil {
				log.Printf("Invalid video job payload: %v", err)
				_ = del.Nack(false, false) // 进入DLQ
				return
			}

			err := handler(msg)
			if err == nil {
				_ = del.Ack(false)
				log.Printf("Video job settled, scene id: %s", msg.SceneID)
				return
			}

			if IsPermanent(err) {
				log.Printf("Permanent error in video job, scene id: %s: %v", msg.SceneID, err)
				_ = del.Nack(false, false) // 进入DLQ
				return
			}

			// 检查重试次数
			attempts := 0
			if h, ok := del.Headers["x-attempts"]; ok {
				switch v := h.(type) {
				case int:
					attempts = v
				case int32:
					attempts = int(v)
				case int64:
					attempts = int(v)
				case string:
					if n, err := strconv.Atoi(v); err == nil {
						attempts = n
					}
				}
			}

			maxRetries := 3
			if attempts >= maxRetries {
				log.Printf("Video job exceeded retries, sending to DLQ, scene id: %s: %v", msg.SceneID, err)
				_ = del.Nack(false, false)
				return
			}

			// 重试
			newHeaders := amqp.Table{"x-attempts": attempts + 1}
			for k, v := range del.Headers {
				if k != "x-attempts" {
					newHeaders[k] = v
				}
			}

			if err := q.publishWithHeaders(del.Body, newHeaders); err != nil {
				log.Printf("Failed to republish video job for retry, scene id: %s: %v", msg.SceneID, err)
				_ = del.Nack(false, false)
				return
			}

			log.Printf("Requeued video job for retry #%d, scene id: %s", attempts+1, msg.SceneID)
			_ = del.Ack(false)
		}(d)
	}

	wg.Wait()
	return nil
}

// Close 关闭通道与连接
func (q *videoAMQPQueue) Close() error {
	if q.ch != nil {
		if err := q.ch.Close(); err != nil {
			log.Printf("Failed to close RabbitMQ channel: %v", err)
		}
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil {
			log.Printf("Failed to close RabbitMQ connection: %v", err)
			return err
		}
	}
	return nil
}
