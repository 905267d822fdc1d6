package domain

import "time"

// DefaultSubject 是邮件缺少主题时使用的占位主题。
const DefaultSubject = "(No Subject)"

// SpamThreshold 是判定垃圾邮件的分数阈值（严格大于）。
const SpamThreshold = 0.7

// Message 表示投递到一次性邮箱的一封邮件。
//
// RecipientAddress 不要求在 Address 表中存在：一次性地址可能在注册之前
// 就收到邮件，也可能在收到邮件之后被删除。邮件作为历史记录保留。
type Message struct {
	ID               string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RecipientAddress string       `json:"recipientAddress" gorm:"type:varchar(255);index:idx_messages_recipient"`
	SenderAddress    string       `json:"senderAddress" gorm:"type:varchar(255)"`
	Subject          string       `json:"subject" gorm:"type:varchar(500)"`
	BodyText         string       `json:"bodyText,omitempty" gorm:"type:text"`
	BodyHTML         string       `json:"bodyHtml,omitempty" gorm:"type:text"`
	Headers          []Header     `json:"headers,omitempty" gorm:"serializer:json;type:text"`
	Attachments      []Attachment `json:"attachments,omitempty" gorm:"serializer:json;type:text"`
	SpamScore        float64      `json:"spamScore"`
	IsSpam           bool         `json:"isSpam" gorm:"index"`
	CreatedAt        time.Time    `json:"createdAt" gorm:"index:idx_messages_created"`
	ReadAt           *time.Time   `json:"readAt,omitempty"`
	ThreadID         *string      `json:"threadId,omitempty" gorm:"type:varchar(36);index"`
}

// IsRead 报告邮件是否已读。
func (m *Message) IsRead() bool {
	return m.ReadAt != nil
}

// Header 表示一条原始邮件头。保存为有序列表以保留 MIME 解码时的顺序。
type Header struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Attachment 表示附件元数据。附件内容本身不属于 Message 实体，
// 由外部存储负责，这里只记录文件名、声明的类型与字节大小。
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// MessagePage 表示一页按时间倒序排列的邮件及分页标记。
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"hasMore"`
}
