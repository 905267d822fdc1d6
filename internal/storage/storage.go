package storage

import (
	"errors"
	"time"

	"dropmail/backend/internal/domain"
)

var (
	// ErrMessageNotFound 邮件未找到错误
	ErrMessageNotFound = errors.New("message not found")
	// ErrAddressNotFound 地址未找到错误
	ErrAddressNotFound = errors.New("address not found")
	// ErrAddressExists 地址已存在错误
	ErrAddressExists = errors.New("address already exists")
)

// MessageRepository 定义邮件数据存取操作。
//
// 列表类操作的 scope 是收件地址集合：nil 表示不过滤（全部邮件），
// 非 nil 空集合表示没有可见邮件。排序固定为 created_at DESC、id DESC，
// 并发写入下分页顺序保持稳定。每个调用各自原子，不要求跨调用事务。
type MessageRepository interface {
	InsertMessage(message *domain.Message) error
	GetMessage(id string) (*domain.Message, error)
	ListMessages(scope []string, offset, limit int) ([]domain.Message, error)
	// ListThread 返回一条会话内的全部邮件：根邮件（id 等于 threadID）
	// 及其所有回复（thread_id 等于 threadID），按 created_at ASC 排列。
	ListThread(threadID string) ([]domain.Message, error)
	CountMessages(scope []string) (int, error)
	CountUnread(scope []string) (int, error)
	// MarkMessageRead 幂等：已读邮件保留首次的 readAt，不再更新。
	MarkMessageRead(id string, readAt time.Time) error
	// MarkMessageSpam 只把 is_spam 置为 true，不改动 spam_score。
	MarkMessageSpam(id string) error
	// DeleteMessage 删除不存在的邮件视为成功（幂等删除）。
	DeleteMessage(id string) error
	DeleteMessages(ids []string) (int, error)
}

// AddressRepository 定义一次性地址数据存取操作。
// DeleteAddress 不级联删除邮件，历史邮件按地址字符串保留。
type AddressRepository interface {
	SaveAddress(address *domain.Address) error
	GetAddress(id string) (*domain.Address, error)
	GetAddressByAddress(address string) (*domain.Address, error)
	ListAddressesByUserID(userID string) ([]domain.Address, error)
	DeleteAddress(id string) error
}

// Store 聚合全部仓储接口，由具体存储实现。
type Store interface {
	MessageRepository
	AddressRepository
	Health() error
	Close() error
}
