package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/middleware"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/storage"
)

type createAddressRequest struct {
	LocalPart string `json:"localPart"`
	Domain    string `json:"domain"`
	IsPrimary bool   `json:"isPrimary"`
}

type addressResponse struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	IsPrimary bool      `json:"isPrimary"`
	CreatedAt time.Time `json:"createdAt"`
}

type addressListResponse struct {
	Items []addressResponse `json:"items"`
	Count int               `json:"count"`
}

func toAddressResponse(a *domain.Address) addressResponse {
	return addressResponse{
		ID:        a.ID,
		Address:   a.Address,
		IsPrimary: a.IsPrimary,
		CreatedAt: a.CreatedAt,
	}
}

// createAddress 创建一次性地址。localPart 为空时随机生成。
func (h *Handler) createAddress(c *gin.Context) {
	var req createAddressRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
	}

	address, err := h.addresses.Create(service.CreateAddressInput{
		UserID:    middleware.UserID(c),
		LocalPart: req.LocalPart,
		Domain:    req.Domain,
		IsPrimary: req.IsPrimary,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDomainNotAllowed), errors.Is(err, service.ErrLocalPartInvalid):
			BadRequest(c, GetErrorMessage(err))
		case errors.Is(err, storage.ErrAddressExists):
			Conflict(c, GetErrorMessage(err))
		default:
			InternalError(c, MsgAddressCreateFailed)
		}
		return
	}

	Created(c, toAddressResponse(address))
}

// listAddresses 返回当前用户的全部地址。
func (h *Handler) listAddresses(c *gin.Context) {
	addresses, err := h.addresses.List(middleware.UserID(c))
	if err != nil {
		InternalError(c, MsgAddressListFailed)
		return
	}

	items := make([]addressResponse, 0, len(addresses))
	for i := range addresses {
		items = append(items, toAddressResponse(&addresses[i]))
	}

	Success(c, addressListResponse{Items: items, Count: len(items)})
}

// getAddress 返回单个地址详情。
func (h *Handler) getAddress(c *gin.Context) {
	address, err := h.addresses.Get(middleware.UserID(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrAddressNotFound):
			NotFound(c, MsgAddressNotFound)
		case errors.Is(err, service.ErrUnauthorized):
			Forbidden(c, MsgPermissionDenied)
		default:
			InternalError(c, MsgInternalError)
		}
		return
	}

	Success(c, toAddressResponse(address))
}

// deleteAddress 删除地址。已收邮件保留。
func (h *Handler) deleteAddress(c *gin.Context) {
	err := h.addresses.Delete(middleware.UserID(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrAddressNotFound):
			NotFound(c, MsgAddressNotFound)
		case errors.Is(err, service.ErrUnauthorized):
			Forbidden(c, MsgPermissionDenied)
		default:
			InternalError(c, MsgAddressDeleteFailed)
		}
		return
	}

	NoContent(c)
}

// listDomains 返回可用于创建地址的域名列表，无需认证。
func (h *Handler) listDomains(c *gin.Context) {
	Success(c, gin.H{"domains": h.addresses.AllowedDomains()})
}
