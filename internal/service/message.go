package service

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/spam"
	"dropmail/backend/internal/storage"
)

var (
	// ErrUnauthorized 操作目标地址不属于当前用户。
	ErrUnauthorized = errors.New("address not owned by this user")
	// ErrInvalidAddress 地址字符串语法不合法。
	ErrInvalidAddress = errors.New("invalid mail address")
)

// Notifier 新邮件通知接口，由 WebSocket Hub 实现。
type Notifier interface {
	NotifyNewMail(address string, message *domain.Message)
}

// UnreadCache 未读计数缓存接口，由 Redis 实现。可选。
type UnreadCache interface {
	GetUnreadCount(address string) (int, bool)
	SetUnreadCount(address string, count int)
	InvalidateUnread(addresses ...string)
	PublishNewMail(address string, message *domain.Message) error
}

// MessageService 封装邮件的写入与邮箱侧操作。
//
// 所有面向用户的操作（读取、标记、删除）在触达存储之前都会校验
// 目标邮件的收件地址属于操作者；入库（Ingest）不做任何归属校验，
// 未注册或已删除的地址照常收信。
type MessageService struct {
	store    storage.Store
	notifier Notifier
	cache    UnreadCache
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewMessageService 创建邮件业务服务。notifier 与 cache 可为 nil。
func NewMessageService(store storage.Store, log *zap.Logger) *MessageService {
	return &MessageService{store: store, log: log}
}

// SetNotifier 设置新邮件通知器。
func (s *MessageService) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// SetUnreadCache 设置未读计数缓存。
func (s *MessageService) SetUnreadCache(cache UnreadCache) {
	s.cache = cache
}

// SetMetrics 设置监控指标。
func (s *MessageService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// IngestMessageInput 定义入站邮件的写入输入。
type IngestMessageInput struct {
	Sender      string
	Recipient   string
	Subject     string
	Text        string
	HTML        string
	Headers     []domain.Header
	Attachments []domain.Attachment
	SpamScore   float64
	ThreadID    *string
}

// Ingest 持久化一封入站邮件。
//
// 每个信封收件人各调用一次，各自落一行 Message。分数在这里定格：
// 入库后不再重算，isSpam 按阈值推导，之后只能被用户手动置为 true。
func (s *MessageService) Ingest(input IngestMessageInput) (*domain.Message, error) {
	sender := strings.ToLower(strings.TrimSpace(input.Sender))
	recipient := strings.ToLower(strings.TrimSpace(input.Recipient))
	if sender == "" || !strings.Contains(sender, "@") {
		return nil, ErrInvalidAddress
	}
	if recipient == "" || !strings.Contains(recipient, "@") {
		return nil, ErrInvalidAddress
	}

	subject := input.Subject
	if strings.TrimSpace(subject) == "" {
		subject = domain.DefaultSubject
	}

	message := &domain.Message{
		ID:               uuid.NewString(),
		RecipientAddress: recipient,
		SenderAddress:    sender,
		Subject:          subject,
		BodyText:         input.Text,
		BodyHTML:         input.HTML,
		Headers:          input.Headers,
		Attachments:      input.Attachments,
		SpamScore:        input.SpamScore,
		IsSpam:           spam.IsSpam(input.SpamScore),
		CreatedAt:        time.Now().UTC(),
		ThreadID:         input.ThreadID,
	}

	if err := s.store.InsertMessage(message); err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.InvalidateUnread(recipient)
		if err := s.cache.PublishNewMail(recipient, message); err != nil {
			s.log.Warn("failed to publish new mail event", zap.Error(err))
		}
	}
	if s.notifier != nil {
		s.notifier.NotifyNewMail(recipient, message)
	}

	return message, nil
}

// RecordOutbound 记录一封已发出的邮件。
// 出站邮件与入站共用同一张表，保证会话（thread）的连续性。
func (s *MessageService) RecordOutbound(from, to, subject, text, html string, attachments []domain.Attachment, threadID *string) (*domain.Message, error) {
	if strings.TrimSpace(subject) == "" {
		subject = domain.DefaultSubject
	}

	message := &domain.Message{
		ID:               uuid.NewString(),
		RecipientAddress: strings.ToLower(strings.TrimSpace(to)),
		SenderAddress:    strings.ToLower(strings.TrimSpace(from)),
		Subject:          subject,
		BodyText:         text,
		BodyHTML:         html,
		Attachments:      attachments,
		CreatedAt:        time.Now().UTC(),
		ThreadID:         threadID,
	}

	if err := s.store.InsertMessage(message); err != nil {
		return nil, err
	}
	return message, nil
}

// resolveScope 把可选的地址作用域换算成地址字符串集合。
//
// addressID 为 nil 表示「当前用户的全部地址」。返回的集合永远非 nil：
// 用户没有任何地址时得到空集合，对应空邮箱而不是全库可见。
func (s *MessageService) resolveScope(userID string, addressID *string) ([]string, error) {
	if addressID != nil {
		address, err := s.store.GetAddress(*addressID)
		if err != nil {
			return nil, err
		}
		if address.UserID != userID {
			return nil, ErrUnauthorized
		}
		return []string{address.Address}, nil
	}

	addresses, err := s.store.ListAddressesByUserID(userID)
	if err != nil {
		return nil, err
	}
	scope := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		scope = append(scope, addr.Address)
	}
	return scope, nil
}

// List 返回用户在指定作用域内的一页邮件。
//
// hasMore 基于取页时的最新总数计算：滚动过程中有新邮件到达时
// 可能短暂偏高或偏低，这是允许的。
func (s *MessageService) List(userID string, addressID *string, offset, limit int) (*domain.MessagePage, error) {
	scope, err := s.resolveScope(userID, addressID)
	if err != nil {
		return nil, err
	}

	messages, err := s.store.ListMessages(scope, offset, limit)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountMessages(scope)
	if err != nil {
		return nil, err
	}

	return &domain.MessagePage{
		Messages: messages,
		Total:    total,
		HasMore:  offset+limit < total,
	}, nil
}

// UnreadCount 返回作用域内的未读数量，单地址作用域时走缓存。
func (s *MessageService) UnreadCount(userID string, addressID *string) (int, error) {
	scope, err := s.resolveScope(userID, addressID)
	if err != nil {
		return 0, err
	}

	if s.cache != nil && len(scope) == 1 {
		if count, ok := s.cache.GetUnreadCount(scope[0]); ok {
			return count, nil
		}
	}

	count, err := s.store.CountUnread(scope)
	if err != nil {
		return 0, err
	}
	if s.cache != nil && len(scope) == 1 {
		s.cache.SetUnreadCount(scope[0], count)
	}
	return count, nil
}

// Get 获取单封邮件，邮件必须属于操作者的地址。
func (s *MessageService) Get(userID, messageID string) (*domain.Message, error) {
	message, err := s.store.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(userID, message); err != nil {
		return nil, err
	}
	return message, nil
}

// Thread 返回一条会话内的全部邮件，按时间正序（最早的在前）。
//
// 会话由根邮件的 ID 标识：根邮件本身加上所有 threadID 指向它的回复。
// 根邮件被删除后会话仍可通过剩余回复访问。会话中任意一封邮件的
// 收件地址属于该用户即可访问整条会话；出站回复的收件人是外部地址，
// 不参与归属判定。
func (s *MessageService) Thread(userID, threadID string) ([]domain.Message, error) {
	messages, err := s.store.ListThread(threadID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, storage.ErrMessageNotFound
	}

	authorized := false
	for i := range messages {
		err := s.authorize(userID, &messages[i])
		if err == nil {
			authorized = true
			break
		}
		if !errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
	}
	if !authorized {
		return nil, ErrUnauthorized
	}
	return messages, nil
}

// MarkRead 将邮件标记为已读。幂等：readAt 只写一次，保留首次时间。
func (s *MessageService) MarkRead(userID, messageID string) error {
	message, err := s.store.GetMessage(messageID)
	if err != nil {
		return err
	}
	if err := s.authorize(userID, message); err != nil {
		return err
	}

	if err := s.store.MarkMessageRead(messageID, time.Now().UTC()); err != nil {
		return err
	}
	if s.metrics != nil && message.ReadAt == nil {
		s.metrics.MessagesRead.Inc()
	}
	if s.cache != nil {
		s.cache.InvalidateUnread(message.RecipientAddress)
	}
	return nil
}

// MarkSpam 手动标记垃圾邮件。只能把状态置为 true，分数保持不变。
func (s *MessageService) MarkSpam(userID, messageID string) error {
	message, err := s.store.GetMessage(messageID)
	if err != nil {
		return err
	}
	if err := s.authorize(userID, message); err != nil {
		return err
	}
	return s.store.MarkMessageSpam(messageID)
}

// Delete 删除单封邮件。目标不存在时视为成功（幂等删除）。
func (s *MessageService) Delete(userID, messageID string) error {
	message, err := s.store.GetMessage(messageID)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			return nil
		}
		return err
	}
	if err := s.authorize(userID, message); err != nil {
		return err
	}

	if err := s.store.DeleteMessage(messageID); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.MessagesDeleted.Inc()
	}
	if s.cache != nil {
		s.cache.InvalidateUnread(message.RecipientAddress)
	}
	return nil
}

// DeleteMany 批量删除邮件。
// 任何一条目标属于别人都会在触达存储前整体拒绝；已不存在的条目跳过。
func (s *MessageService) DeleteMany(userID string, messageIDs []string) (int, error) {
	owned := make([]string, 0, len(messageIDs))
	touched := make(map[string]struct{})

	for _, id := range messageIDs {
		message, err := s.store.GetMessage(id)
		if err != nil {
			if errors.Is(err, storage.ErrMessageNotFound) {
				continue
			}
			return 0, err
		}
		if err := s.authorize(userID, message); err != nil {
			return 0, err
		}
		owned = append(owned, id)
		touched[message.RecipientAddress] = struct{}{}
	}

	if len(owned) == 0 {
		return 0, nil
	}

	deleted, err := s.store.DeleteMessages(owned)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil && deleted > 0 {
		s.metrics.MessagesDeleted.Add(float64(deleted))
	}
	if s.cache != nil {
		addresses := make([]string, 0, len(touched))
		for addr := range touched {
			addresses = append(addresses, addr)
		}
		s.cache.InvalidateUnread(addresses...)
	}
	return deleted, nil
}

// authorize 校验邮件的收件地址属于该用户。
// 地址已被删除的孤儿邮件不属于任何人，一律拒绝操作。
func (s *MessageService) authorize(userID string, message *domain.Message) error {
	address, err := s.store.GetAddressByAddress(message.RecipientAddress)
	if err != nil {
		if errors.Is(err, storage.ErrAddressNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if address.UserID != userID {
		return ErrUnauthorized
	}
	return nil
}
