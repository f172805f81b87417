package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelJobProgress = "job_progress"
)

// ProgressMessage 进度消息
type ProgressMessage struct {
	Type        string  `json:"type"`
	JobID       string  `json:"job_id"`
	Kind        string  `json:"kind"`
	TargetURL   string  `json:"target_url"`
	State       string  `json:"state"`
	Stage       string  `json:"stage"`
	Percent     float64 `json:"percent"`
	CurrentItem string  `json:"current_item,omitempty"`
	Done        int     `json:"done"`
	Total       int     `json:"total"`
	Message     string  `json:"message,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// 进度阶段常量
const (
	StageQueued    = "queued"
	StageListing   = "listing"
	StageFetching  = "fetching"
	StageRewriting = "rewriting"
	StageWriting   = "writing"
	StageDone      = "done"
)

// 阶段对应的消息
var StageMessages = map[string]string{
	StageQueued:    "排队等待",
	StageListing:   "正在查询归档索引",
	StageFetching:  "正在抓取归档文件",
	StageRewriting: "正在重写页面链接",
	StageWriting:   "正在写入本地文件",
	StageDone:      "任务完成",
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishProgress 发布进度消息
func (p *Publisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	msg.Type = "job_progress"

	if msg.Message == "" && msg.Stage != "" {
		if message, ok := StageMessages[msg.Stage]; ok {
			msg.Message = message
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelJobProgress, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度消息
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelJobProgress)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&progressMsg)
		}
	}
}
