// Package memory 提供基于内存的存储实现，主要用于开发环境与测试。
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
)

// Store 使用内存保存地址与邮件数据。
type Store struct {
	mu        sync.RWMutex
	messages  map[string]*domain.Message
	addresses map[string]*domain.Address
	byAddress map[string]string // address -> addressID
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		messages:  make(map[string]*domain.Message),
		addresses: make(map[string]*domain.Address),
		byAddress: make(map[string]string),
	}
}

// ========== MessageRepository ==========

// InsertMessage 保存一封新邮件。
func (s *Store) InsertMessage(message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *message
	s.messages[message.ID] = &clone
	return nil
}

// GetMessage 根据 ID 获取邮件。
func (s *Store) GetMessage(id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	message, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	clone := *message
	return &clone, nil
}

// ListMessages 返回作用域内按 created_at DESC、id DESC 排序的一页邮件。
func (s *Store) ListMessages(scope []string, offset, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.matchLocked(scope)
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		// 时间相同按 ID 倒序，保证并发插入下分页稳定
		return matched[i].ID > matched[j].ID
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []domain.Message{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}

	page := make([]domain.Message, 0, end-offset)
	for _, m := range matched[offset:end] {
		page = append(page, *m)
	}
	return page, nil
}

// ListThread 返回会话内的全部邮件，按 created_at ASC、id ASC 排序。
// 根邮件已被删除时仍返回剩余的回复。
func (s *Store) ListThread(threadID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.Message, 0)
	for _, m := range s.messages {
		if m.ID == threadID || (m.ThreadID != nil && *m.ThreadID == threadID) {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	thread := make([]domain.Message, 0, len(matched))
	for _, m := range matched {
		thread = append(thread, *m)
	}
	return thread, nil
}

// CountMessages 返回作用域内的邮件总数。
func (s *Store) CountMessages(scope []string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchLocked(scope)), nil
}

// CountUnread 返回作用域内的未读邮件数量。
func (s *Store) CountUnread(scope []string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, m := range s.matchLocked(scope) {
		if m.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

// MarkMessageRead 将邮件标记为已读。重复调用保留首次的 readAt。
func (s *Store) MarkMessageRead(id string, readAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[id]
	if !ok {
		return storage.ErrMessageNotFound
	}
	if message.ReadAt == nil {
		t := readAt
		message.ReadAt = &t
	}
	return nil
}

// MarkMessageSpam 手动标记垃圾邮件。只能从 false 变为 true，分数不变。
func (s *Store) MarkMessageSpam(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[id]
	if !ok {
		return storage.ErrMessageNotFound
	}
	message.IsSpam = true
	return nil
}

// DeleteMessage 删除邮件，目标不存在时视为成功。
func (s *Store) DeleteMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, id)
	return nil
}

// DeleteMessages 批量删除邮件，返回实际删除数量。
func (s *Store) DeleteMessages(ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, ok := s.messages[id]; ok {
			delete(s.messages, id)
			deleted++
		}
	}
	return deleted, nil
}

// matchLocked 返回命中作用域的邮件指针列表。调用方必须持有锁。
func (s *Store) matchLocked(scope []string) []*domain.Message {
	var scopeSet map[string]struct{}
	if scope != nil {
		scopeSet = make(map[string]struct{}, len(scope))
		for _, addr := range scope {
			scopeSet[strings.ToLower(addr)] = struct{}{}
		}
	}

	matched := make([]*domain.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if scopeSet != nil {
			if _, ok := scopeSet[m.RecipientAddress]; !ok {
				continue
			}
		}
		matched = append(matched, m)
	}
	return matched
}

// ========== AddressRepository ==========

// SaveAddress 保存地址，地址字符串全局唯一。
func (s *Store) SaveAddress(address *domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byAddress[address.Address]; ok && existingID != address.ID {
		return storage.ErrAddressExists
	}

	clone := *address
	s.addresses[address.ID] = &clone
	s.byAddress[address.Address] = address.ID
	return nil
}

// GetAddress 根据 ID 获取地址。
func (s *Store) GetAddress(id string) (*domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	address, ok := s.addresses[id]
	if !ok {
		return nil, storage.ErrAddressNotFound
	}
	clone := *address
	return &clone, nil
}

// GetAddressByAddress 根据完整地址字符串获取地址。
func (s *Store) GetAddressByAddress(address string) (*domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[strings.ToLower(address)]
	if !ok {
		return nil, storage.ErrAddressNotFound
	}
	clone := *s.addresses[id]
	return &clone, nil
}

// ListAddressesByUserID 返回指定用户的全部地址。
func (s *Store) ListAddressesByUserID(userID string) ([]domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Address, 0)
	for _, addr := range s.addresses {
		if addr.UserID == userID {
			result = append(result, *addr)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteAddress 删除地址。关联邮件作为历史记录保留，不级联删除。
func (s *Store) DeleteAddress(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	address, ok := s.addresses[id]
	if !ok {
		return storage.ErrAddressNotFound
	}
	delete(s.byAddress, address.Address)
	delete(s.addresses, id)
	return nil
}

// Health 检查存储健康状态，内存实现永远健康。
func (s *Store) Health() error {
	return nil
}

// Close 关闭存储。
func (s *Store) Close() error {
	return nil
}
