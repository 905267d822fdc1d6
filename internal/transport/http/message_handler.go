package httptransport

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/middleware"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/storage"
)

type messageSummary struct {
	ID               string     `json:"id"`
	RecipientAddress string     `json:"recipientAddress"`
	SenderAddress    string     `json:"senderAddress"`
	Subject          string     `json:"subject"`
	SpamScore        float64    `json:"spamScore"`
	IsSpam           bool       `json:"isSpam"`
	CreatedAt        time.Time  `json:"createdAt"`
	ReadAt           *time.Time `json:"readAt,omitempty"`
	AttachmentCount  int        `json:"attachmentCount"`
}

type messageDetail struct {
	messageSummary
	BodyText    string              `json:"bodyText"`
	BodyHTML    string              `json:"bodyHtml,omitempty"`
	Headers     []domain.Header     `json:"headers,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	ThreadID    *string             `json:"threadId,omitempty"`
}

type messageListResponse struct {
	Items   []messageSummary `json:"items"`
	Total   int              `json:"total"`
	Offset  int              `json:"offset"`
	HasMore bool             `json:"hasMore"`
}

func toMessageSummary(m *domain.Message) messageSummary {
	return messageSummary{
		ID:               m.ID,
		RecipientAddress: m.RecipientAddress,
		SenderAddress:    m.SenderAddress,
		Subject:          m.Subject,
		SpamScore:        m.SpamScore,
		IsSpam:           m.IsSpam,
		CreatedAt:        m.CreatedAt,
		ReadAt:           m.ReadAt,
		AttachmentCount:  len(m.Attachments),
	}
}

func toMessageDetail(m *domain.Message) messageDetail {
	return messageDetail{
		messageSummary: toMessageSummary(m),
		BodyText:       m.BodyText,
		BodyHTML:       m.BodyHTML,
		Headers:        m.Headers,
		Attachments:    m.Attachments,
		ThreadID:       m.ThreadID,
	}
}

// scopeParam 解析可选的 addressId 查询参数。
func scopeParam(c *gin.Context) *string {
	if id := c.Query("addressId"); id != "" {
		return &id
	}
	return nil
}

// listMessages 分页返回邮件列表，时间倒序。
func (h *Handler) listMessages(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.pageSize)))
	if limit <= 0 || limit > 100 {
		limit = h.pageSize
	}

	page, err := h.messages.List(middleware.UserID(c), scopeParam(c), offset, limit)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthorized):
			Forbidden(c, MsgPermissionDenied)
		case errors.Is(err, storage.ErrAddressNotFound):
			NotFound(c, MsgAddressNotFound)
		default:
			InternalError(c, MsgMessageListFailed)
		}
		return
	}

	items := make([]messageSummary, 0, len(page.Messages))
	for i := range page.Messages {
		items = append(items, toMessageSummary(&page.Messages[i]))
	}

	Success(c, messageListResponse{
		Items:   items,
		Total:   page.Total,
		Offset:  offset,
		HasMore: page.HasMore,
	})
}

// getMessage 返回单封邮件的完整内容。
func (h *Handler) getMessage(c *gin.Context) {
	message, err := h.messages.Get(middleware.UserID(c), c.Param("id"))
	if err != nil {
		h.respondMessageError(c, err, MsgMessageGetFailed)
		return
	}

	Success(c, toMessageDetail(message))
}

// getThread 返回一条会话内的全部邮件，时间正序。
func (h *Handler) getThread(c *gin.Context) {
	messages, err := h.messages.Thread(middleware.UserID(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMessageNotFound):
			NotFound(c, MsgThreadNotFound)
		case errors.Is(err, service.ErrUnauthorized):
			Forbidden(c, MsgPermissionDenied)
		default:
			InternalError(c, MsgThreadGetFailed)
		}
		return
	}

	items := make([]messageDetail, 0, len(messages))
	for i := range messages {
		items = append(items, toMessageDetail(&messages[i]))
	}
	Success(c, items)
}

// markMessageRead 标记邮件已读。重复调用保留首次时间戳。
func (h *Handler) markMessageRead(c *gin.Context) {
	if err := h.messages.MarkRead(middleware.UserID(c), c.Param("id")); err != nil {
		h.respondMessageError(c, err, MsgMessageMarkReadFailed)
		return
	}

	Success(c, gin.H{"id": c.Param("id")})
}

// markMessageSpam 人工标记垃圾邮件。只会提高评分，不会降低。
func (h *Handler) markMessageSpam(c *gin.Context) {
	if err := h.messages.MarkSpam(middleware.UserID(c), c.Param("id")); err != nil {
		h.respondMessageError(c, err, MsgMessageMarkSpamFailed)
		return
	}

	Success(c, gin.H{"id": c.Param("id")})
}

// deleteMessage 删除邮件。目标不存在时同样视为成功。
func (h *Handler) deleteMessage(c *gin.Context) {
	if err := h.messages.Delete(middleware.UserID(c), c.Param("id")); err != nil {
		h.respondMessageError(c, err, MsgMessageDeleteFailed)
		return
	}

	NoContent(c)
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// bulkDeleteMessages 批量删除。任何一封无权操作则整体拒绝。
func (h *Handler) bulkDeleteMessages(c *gin.Context) {
	var req bulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.IDs) == 0 {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	deleted, err := h.messages.DeleteMany(middleware.UserID(c), req.IDs)
	if err != nil {
		h.respondMessageError(c, err, MsgMessageDeleteFailed)
		return
	}

	Success(c, gin.H{"deleted": deleted})
}

// unreadCount 返回未读数，可按地址过滤。
func (h *Handler) unreadCount(c *gin.Context) {
	count, err := h.messages.UnreadCount(middleware.UserID(c), scopeParam(c))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthorized):
			Forbidden(c, MsgPermissionDenied)
		case errors.Is(err, storage.ErrAddressNotFound):
			NotFound(c, MsgAddressNotFound)
		default:
			InternalError(c, MsgUnreadCountFailed)
		}
		return
	}

	Success(c, gin.H{"unread": count})
}

func (h *Handler) respondMessageError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, storage.ErrMessageNotFound):
		NotFound(c, MsgMessageNotFound)
	case errors.Is(err, service.ErrUnauthorized):
		Forbidden(c, MsgPermissionDenied)
	default:
		InternalError(c, fallback)
	}
}
