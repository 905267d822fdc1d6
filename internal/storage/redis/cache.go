// Package redis 提供未读计数缓存与跨实例的新邮件广播。
// 缓存是可选的：未配置 Redis 时系统直接回源数据库。
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
)

const (
	unreadKeyPrefix = "unread:"
	newMailChannel  = "dropmail:newmail"
	unreadTTL       = 5 * time.Minute
)

// NewMailEvent 是通过 Redis 广播的新邮件事件。
type NewMailEvent struct {
	Address string         `json:"address"`
	Message domain.Message `json:"message"`
}

// Cache 封装 Redis 客户端。
type Cache struct {
	rdb *goredis.Client
	log *zap.Logger
}

// New 创建 Redis 缓存实例并验证连接。
func New(addr, password string, db int, log *zap.Logger) (*Cache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{rdb: rdb, log: log}, nil
}

// GetUnreadCount 获取缓存的单地址未读数。未命中时返回 false。
func (c *Cache) GetUnreadCount(address string) (int, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	val, err := c.rdb.Get(ctx, unreadKeyPrefix+address).Result()
	if err != nil {
		return 0, false
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return count, true
}

// SetUnreadCount 写入单地址未读数缓存。
func (c *Cache) SetUnreadCount(address string, count int) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.rdb.Set(ctx, unreadKeyPrefix+address, count, unreadTTL).Err(); err != nil {
		c.log.Warn("failed to cache unread count", zap.String("address", address), zap.Error(err))
	}
}

// InvalidateUnread 在写操作之后使相关地址的未读数缓存失效。
func (c *Cache) InvalidateUnread(addresses ...string) {
	if len(addresses) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	keys := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		keys = append(keys, unreadKeyPrefix+addr)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("failed to invalidate unread cache", zap.Error(err))
	}
}

// PublishNewMail 向其它实例广播新邮件事件。
func (c *Cache) PublishNewMail(address string, message *domain.Message) error {
	event := NewMailEvent{Address: address, Message: *message}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	return c.rdb.Publish(ctx, newMailChannel, data).Err()
}

// SubscribeNewMail 订阅新邮件广播，返回事件通道。
// ctx 取消后订阅与通道一并关闭。
func (c *Cache) SubscribeNewMail(ctx context.Context) <-chan NewMailEvent {
	sub := c.rdb.Subscribe(ctx, newMailChannel)
	events := make(chan NewMailEvent, 16)

	go func() {
		defer close(events)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event NewMailEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					c.log.Warn("invalid new mail event payload", zap.Error(err))
					continue
				}
				select {
				case events <- event:
				default:
					// 消费方阻塞时丢弃事件，通知是尽力而为的
				}
			}
		}
	}()

	return events
}

// Health 检查 Redis 连接。
func (c *Cache) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接。
func (c *Cache) Close() error {
	return c.rdb.Close()
}
