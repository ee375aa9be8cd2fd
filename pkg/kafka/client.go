// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"llm-amnesia-go/internal/config"
	"llm-amnesia-go/internal/model"
	"llm-amnesia-go/pkg/log"
)

// EventProcessor 处理从 Kafka 消费到的遗忘事件。
// 这使消费者与具体的落库实现解耦。
type EventProcessor interface {
	Process(ctx context.Context, event model.AmnesiaEvent) error
}

// Producer 将遗忘事件写入 Kafka 主题。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	p := &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers),
			Topic:    cfg.Topic,
			Balancer: &kafka.Hash{},
		},
	}
	log.Info("Kafka 生产者初始化成功")
	return p
}

// Publish 发送一个遗忘事件，按会话ID分区以保证同一会话内的事件有序。
func (p *Producer) Publish(ctx context.Context, event model.AmnesiaEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal amnesia event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.SessionID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to publish amnesia event: %w", err)
	}
	return nil
}

// Close 刷新并关闭底层 writer。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// 单条事件在原地重试的次数与退避基数。放弃后提交 offset，与后续消息一起前进。
var (
	maxProcessAttempts = 3
	retryBackoff       = time.Second
)

// StartConsumer 在后台启动一个 Kafka 消费者来处理遗忘事件，ctx 结束时退出。
// 返回的 channel 在消费者完全退出（包括正在处理的事件）后关闭。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor EventProcessor) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		consume(ctx, cfg, processor)
	}()
	return done
}

func consume(ctx context.Context, cfg config.KafkaConfig, processor EventProcessor) {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "llm-amnesia-go-audit"
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}

		var event model.AmnesiaEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(r, m)
			continue
		}

		if err := processWithRetry(ctx, processor, event); err != nil {
			if ctx.Err() != nil {
				// 停机时不提交，重启后从这条消息继续
				log.Warnw("停机中断了遗忘事件的处理", "sessionId", event.SessionID, "type", event.Type)
				return
			}
			// 同一分区后续消息的提交会越过这条消息，这里显式放弃
			log.Errorw("遗忘事件多次处理失败，提交 offset 跳过",
				"sessionId", event.SessionID, "type", event.Type, "attempts", maxProcessAttempts, "error", err)
		}
		commit(r, m)
	}
}

// processWithRetry 在原地重试处理一个事件。处理本身使用脱离 ctx 的上下文，
// 停机时正在进行的写入会完成，只有重试间的等待会被 ctx 打断。
func processWithRetry(ctx context.Context, processor EventProcessor, event model.AmnesiaEvent) error {
	var err error
	for attempt := 1; attempt <= maxProcessAttempts; attempt++ {
		if err = processor.Process(context.WithoutCancel(ctx), event); err == nil {
			return nil
		}
		log.Warnw("处理遗忘事件失败", "sessionId", event.SessionID, "type", event.Type, "attempt", attempt, "error", err)
		if attempt == maxProcessAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return err
}

func commit(r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(context.Background(), m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
