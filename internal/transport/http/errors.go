package httptransport

import (
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	service.ErrUnauthorized:     "无权访问该资源",
	service.ErrInvalidAddress:   "地址格式无效",
	service.ErrDomainNotAllowed: "域名不在允许列表中",
	service.ErrLocalPartInvalid: "地址前缀格式无效",

	storage.ErrMessageNotFound: "邮件不存在",
	storage.ErrAddressNotFound: "地址不存在",
	storage.ErrAddressExists:   "地址已存在",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	MsgInvalidRequest   = "请求参数格式错误"
	MsgAuthRequired     = "需要登录认证"
	MsgPermissionDenied = "权限不足"

	MsgAddressCreateFailed = "创建地址失败"
	MsgAddressNotFound     = "地址不存在"
	MsgAddressDeleteFailed = "删除地址失败"
	MsgAddressListFailed   = "获取地址列表失败"

	MsgMessageNotFound       = "邮件不存在"
	MsgMessageListFailed     = "获取邮件列表失败"
	MsgMessageGetFailed      = "获取邮件详情失败"
	MsgMessageMarkReadFailed = "标记已读失败"
	MsgMessageMarkSpamFailed = "标记垃圾邮件失败"
	MsgMessageDeleteFailed   = "删除邮件失败"
	MsgUnreadCountFailed     = "获取未读数失败"
	MsgThreadGetFailed       = "获取会话失败"
	MsgThreadNotFound        = "会话不存在"

	MsgSendFailed      = "发送邮件失败"
	MsgSendUnavailable = "外发服务未启用"

	MsgInternalError = "服务器内部错误，请稍后重试"
)
