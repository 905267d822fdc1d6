package domain

import "time"

// Address 表示用户持有的一次性邮箱地址。
//
// 删除 Address 不会级联删除其历史邮件：Message 通过地址字符串关联，
// 地址删除后邮件成为孤儿记录，仍可按地址字符串查询。
type Address struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address   string    `json:"address" gorm:"type:varchar(255);uniqueIndex"`
	UserID    string    `json:"userId" gorm:"type:varchar(36);index"`
	IsPrimary bool      `json:"isPrimary"`
	CreatedAt time.Time `json:"createdAt"`
}
