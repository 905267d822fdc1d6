package httptransport

import (
	"encoding/base64"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropmail/backend/internal/email"
	"dropmail/backend/internal/middleware"
)

type sendAttachment struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"contentType"`
	Content     string `json:"content" binding:"required"` // base64 编码
}

type sendRequest struct {
	From        string           `json:"from" binding:"required"`
	To          string           `json:"to" binding:"required"`
	Subject     string           `json:"subject"`
	Text        string           `json:"text"`
	HTML        string           `json:"html"`
	Attachments []sendAttachment `json:"attachments"`
	ThreadID    *string          `json:"threadId"`
}

// sendMessage 通过外部中继异步发送邮件。
// 发件地址必须属于当前用户；投递结果通过日志与指标观察。
func (h *Handler) sendMessage(c *gin.Context) {
	if h.sender == nil {
		InternalError(c, MsgSendUnavailable)
		return
	}

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	from := strings.ToLower(strings.TrimSpace(req.From))
	owned, err := h.ownsAddress(middleware.UserID(c), from)
	if err != nil {
		InternalError(c, MsgSendFailed)
		return
	}
	if !owned {
		Forbidden(c, MsgPermissionDenied)
		return
	}

	attachments := make([]email.OutboundAttachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		content, err := base64.StdEncoding.DecodeString(a.Content)
		if err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
		attachments = append(attachments, email.OutboundAttachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     content,
		})
	}

	input := email.SendInput{
		From:        from,
		To:          strings.ToLower(strings.TrimSpace(req.To)),
		Subject:     req.Subject,
		Text:        req.Text,
		HTML:        req.HTML,
		Attachments: attachments,
		ThreadID:    req.ThreadID,
	}

	submitted := h.pool.TrySubmit(func() {
		if _, err := h.sender.Send(input); err != nil {
			h.log.Warn("outbound delivery failed",
				zap.String("from", input.From),
				zap.String("to", input.To),
				zap.Error(err))
		}
	})
	if !submitted {
		InternalError(c, MsgSendFailed)
		return
	}

	Accepted(c, gin.H{"from": input.From, "to": input.To})
}

// ownsAddress 检查地址字符串是否属于该用户。
func (h *Handler) ownsAddress(userID, address string) (bool, error) {
	addresses, err := h.addresses.List(userID)
	if err != nil {
		return false, err
	}
	for i := range addresses {
		if addresses[i].Address == address {
			return true, nil
		}
	}
	return false, nil
}
