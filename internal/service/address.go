package service

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
)

var (
	// ErrDomainNotAllowed 域名不在允许列表中。
	ErrDomainNotAllowed = errors.New("domain not allowed")
	// ErrLocalPartInvalid 地址前缀格式无效。
	ErrLocalPartInvalid = errors.New("local part invalid")
)

const localPartAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// AddressService 封装一次性地址的生命周期操作。
type AddressService struct {
	store          storage.Store
	allowedDomains []string
	domainSet      map[string]struct{}
	random         *rand.Rand
}

// NewAddressService 创建地址业务服务。
func NewAddressService(store storage.Store, allowedDomains []string) *AddressService {
	domainSet := make(map[string]struct{}, len(allowedDomains))
	for _, d := range allowedDomains {
		domainSet[strings.ToLower(d)] = struct{}{}
	}
	return &AddressService{
		store:          store,
		allowedDomains: allowedDomains,
		domainSet:      domainSet,
		random:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateAddressInput 定义创建地址所需的输入。
// LocalPart 为空时生成随机前缀；Domain 为空时使用默认域名。
type CreateAddressInput struct {
	UserID    string
	LocalPart string
	Domain    string
	IsPrimary bool
}

// Create 为用户创建新的一次性地址。
func (s *AddressService) Create(input CreateAddressInput) (*domain.Address, error) {
	selectedDomain := s.pickDomain(input.Domain)
	if selectedDomain == "" {
		return nil, ErrDomainNotAllowed
	}

	localPart, err := s.resolveLocalPart(input.LocalPart)
	if err != nil {
		return nil, err
	}

	address := &domain.Address{
		ID:        uuid.NewString(),
		Address:   fmt.Sprintf("%s@%s", localPart, selectedDomain),
		UserID:    input.UserID,
		IsPrimary: input.IsPrimary,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.SaveAddress(address); err != nil {
		return nil, err
	}
	return address, nil
}

// Get 获取地址，地址必须属于操作者。
func (s *AddressService) Get(userID, addressID string) (*domain.Address, error) {
	address, err := s.store.GetAddress(addressID)
	if err != nil {
		return nil, err
	}
	if address.UserID != userID {
		return nil, ErrUnauthorized
	}
	return address, nil
}

// List 返回用户的全部地址。
func (s *AddressService) List(userID string) ([]domain.Address, error) {
	return s.store.ListAddressesByUserID(userID)
}

// Delete 删除用户的地址。
// 历史邮件不随地址删除：它们按地址字符串保留为孤儿记录，依然可查。
func (s *AddressService) Delete(userID, addressID string) error {
	address, err := s.store.GetAddress(addressID)
	if err != nil {
		return err
	}
	if address.UserID != userID {
		return ErrUnauthorized
	}
	return s.store.DeleteAddress(addressID)
}

// AllowedDomains 返回可用于建址的域名列表。
func (s *AddressService) AllowedDomains() []string {
	return s.allowedDomains
}

// pickDomain 挑选合法的地址域名。
func (s *AddressService) pickDomain(requested string) string {
	if requested == "" {
		if len(s.allowedDomains) == 0 {
			return ""
		}
		return strings.ToLower(s.allowedDomains[0])
	}
	requested = strings.ToLower(strings.TrimSpace(requested))
	if _, ok := s.domainSet[requested]; ok {
		return requested
	}
	return ""
}

// resolveLocalPart 生成或校验地址前缀。
func (s *AddressService) resolveLocalPart(localPart string) (string, error) {
	if localPart == "" {
		return s.randomLocalPart(12), nil
	}

	localPart = strings.ToLower(strings.TrimSpace(localPart))
	if len(localPart) == 0 || len(localPart) > 64 {
		return "", ErrLocalPartInvalid
	}
	for _, r := range localPart {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return "", ErrLocalPartInvalid
		}
	}
	if strings.HasPrefix(localPart, ".") || strings.HasSuffix(localPart, ".") {
		return "", ErrLocalPartInvalid
	}
	return localPart, nil
}

// randomLocalPart 生成指定长度的随机前缀。
func (s *AddressService) randomLocalPart(length int) string {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteByte(localPartAlphabet[s.random.Intn(len(localPartAlphabet))])
	}
	return b.String()
}
