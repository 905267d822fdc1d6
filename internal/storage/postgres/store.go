// Package postgres 提供基于 GORM 的关系型存储实现，
// 支持 PostgreSQL 与 MySQL 两种方言。
package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
)

// Store 关系型数据库存储实现。
type Store struct {
	db *gorm.DB
}

// NewStore 创建 PostgreSQL 存储实例。
func NewStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn))
}

// NewMySQLStore 创建 MySQL 存储实例。
func NewMySQLStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn))
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例。
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate 自动迁移数据库表结构。
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Address{},
		&domain.Message{},
	)
}

// ========== MessageRepository ==========

// InsertMessage 保存一封新邮件。
func (s *Store) InsertMessage(message *domain.Message) error {
	return s.db.Create(message).Error
}

// GetMessage 根据 ID 获取邮件。
func (s *Store) GetMessage(id string) (*domain.Message, error) {
	var message domain.Message
	err := s.db.Where("id = ?", id).First(&message).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrMessageNotFound
		}
		return nil, err
	}
	return &message, nil
}

// scoped 按收件地址集合过滤。scope 为 nil 时不过滤。
func (s *Store) scoped(scope []string) *gorm.DB {
	query := s.db.Model(&domain.Message{})
	if scope != nil {
		query = query.Where("recipient_address IN ?", scope)
	}
	return query
}

// ListMessages 返回作用域内按 created_at DESC、id DESC 排序的一页邮件。
func (s *Store) ListMessages(scope []string, offset, limit int) ([]domain.Message, error) {
	if scope != nil && len(scope) == 0 {
		return []domain.Message{}, nil
	}

	var messages []domain.Message
	err := s.scoped(scope).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// ListThread 返回会话内的全部邮件，按 created_at ASC、id ASC 排序。
func (s *Store) ListThread(threadID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.db.Model(&domain.Message{}).
		Where("id = ? OR thread_id = ?", threadID, threadID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	return messages, err
}

// CountMessages 返回作用域内的邮件总数。
func (s *Store) CountMessages(scope []string) (int, error) {
	if scope != nil && len(scope) == 0 {
		return 0, nil
	}

	var count int64
	err := s.scoped(scope).Count(&count).Error
	return int(count), err
}

// CountUnread 返回作用域内的未读邮件数量。
func (s *Store) CountUnread(scope []string) (int, error) {
	if scope != nil && len(scope) == 0 {
		return 0, nil
	}

	var count int64
	err := s.scoped(scope).Where("read_at IS NULL").Count(&count).Error
	return int(count), err
}

// MarkMessageRead 将邮件标记为已读。只写入一次，重复调用不覆盖首次时间。
func (s *Store) MarkMessageRead(id string, readAt time.Time) error {
	result := s.db.Model(&domain.Message{}).
		Where("id = ? AND read_at IS NULL", id).
		Update("read_at", readAt)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// 没有行被更新：要么邮件不存在，要么已经是已读状态
		var count int64
		if err := s.db.Model(&domain.Message{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrMessageNotFound
		}
	}
	return nil
}

// MarkMessageSpam 手动标记垃圾邮件。只置位，不改分数。
func (s *Store) MarkMessageSpam(id string) error {
	result := s.db.Model(&domain.Message{}).
		Where("id = ?", id).
		Update("is_spam", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// DeleteMessage 删除邮件，目标不存在时视为成功。
func (s *Store) DeleteMessage(id string) error {
	return s.db.Where("id = ?", id).Delete(&domain.Message{}).Error
}

// DeleteMessages 批量删除邮件，返回实际删除数量。
func (s *Store) DeleteMessages(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.Where("id IN ?", ids).Delete(&domain.Message{})
	return int(result.RowsAffected), result.Error
}

// ========== AddressRepository ==========

// SaveAddress 保存地址。
func (s *Store) SaveAddress(address *domain.Address) error {
	err := s.db.Create(address).Error
	if err != nil && isDuplicateKey(err) {
		return storage.ErrAddressExists
	}
	return err
}

// GetAddress 根据 ID 获取地址。
func (s *Store) GetAddress(id string) (*domain.Address, error) {
	var address domain.Address
	err := s.db.Where("id = ?", id).First(&address).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrAddressNotFound
		}
		return nil, err
	}
	return &address, nil
}

// GetAddressByAddress 根据完整地址字符串获取地址。
func (s *Store) GetAddressByAddress(addr string) (*domain.Address, error) {
	var address domain.Address
	err := s.db.Where("address = ?", addr).First(&address).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrAddressNotFound
		}
		return nil, err
	}
	return &address, nil
}

// ListAddressesByUserID 返回指定用户的全部地址。
func (s *Store) ListAddressesByUserID(userID string) ([]domain.Address, error) {
	var addresses []domain.Address
	err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&addresses).Error
	return addresses, err
}

// DeleteAddress 删除地址。关联邮件不级联删除，按地址字符串保留为历史记录。
func (s *Store) DeleteAddress(id string) error {
	result := s.db.Where("id = ?", id).Delete(&domain.Address{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrAddressNotFound
	}
	return nil
}

// Health 检查数据库连接。
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isDuplicateKey 判断是否为唯一约束冲突。
func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
