// Package smtp 实现只收不发的入站 SMTP 服务。
package smtp

import (
	"io"
	"strings"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/spam"
)

// maxMessageBytes 单封邮件的最大字节数。
const maxMessageBytes = 10 << 20 // 10MB

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个只接收邮件的 SMTP 服务器：
//   - 不做身份认证（AUTH 被禁用），入站投递不需要凭证；
//   - 不支持对外中继，收到的邮件只会写入本系统存储；
//   - 收件地址不要求预先注册：一次性地址可能先收到邮件再被创建，
//     或者已被持有者删除，这两种情况都照常入库。
//
// 防中继依赖两点：服务本身没有转发路径，以及可选的收件域名白名单
// （配置了白名单时，发往外部域名的 RCPT 一律 550 拒绝）。
type Backend struct {
	messages       *service.MessageService
	allowedDomains map[string]struct{}
	limiter        *ConnectionLimiter
	metrics        *monitoring.Metrics
	log            *zap.Logger
}

// NewBackend 创建 SMTP Backend。
// allowedDomains 为空时接受任意收件域名；limiter 与 metrics 可为 nil。
func NewBackend(messages *service.MessageService, allowedDomains []string, limiter *ConnectionLimiter, metrics *monitoring.Metrics, log *zap.Logger) *Backend {
	domainSet := make(map[string]struct{}, len(allowedDomains))
	for _, d := range allowedDomains {
		domainSet[strings.ToLower(d)] = struct{}{}
	}
	return &Backend{
		messages:       messages,
		allowedDomains: domainSet,
		limiter:        limiter,
		metrics:        metrics,
		log:            log,
	}
}

// NewSession 创建新的 SMTP 会话。连接超出限额时直接拒绝。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 4, 5},
			Message:      "too many connections, try again later",
		}
	}
	if b.metrics != nil {
		b.metrics.SMTPConnectionsActive.Inc()
	}
	return &session{backend: b}, nil
}

// session 承载单个连接上的信封状态。
//
// 一个连接可以顺序携带多个 MAIL/RCPT/DATA 事务，go-smtp 保证同一连接
// 内的命令串行到达；Data 在持久化得到确认之前不会返回，因此 SMTP
// 应答总是在插入落盘之后才发出。
type session struct {
	backend     *Backend
	fromAddress string
	recipients  []string
}

// Mail 处理 MAIL FROM 命令。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	addr := normalizeAddress(from)
	if addr == "" || !strings.Contains(addr, "@") {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 7},
			Message:      "invalid sender address",
		}
	}
	s.fromAddress = addr
	return nil
}

// Rcpt 处理 RCPT TO 命令。
//
// 只校验地址语法与（可选的）收件域名白名单，不检查收件地址是否已在
// 系统中注册——一次性邮箱允许先收信后建址，也允许给已删除的地址
// 继续收信。白名单同时是防中继边界：发往外部域名的投递被拒绝，
// 这台服务器永远不会替别人转发邮件。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	parts := strings.Split(addr, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	if len(s.backend.allowedDomains) > 0 {
		if _, ok := s.backend.allowedDomains[parts[1]]; !ok {
			return &gosmtp.SMTPError{
				Code:         550,
				EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
				Message:      "relay access denied - domain not served here",
			}
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容：解码、打分，然后按信封收件人逐一入库。
//
// 解码失败不退信：按有损接收策略，解析不出的邮件以空正文入库。
// 任何一次插入失败都会让整个 DATA 阶段返回 451，由发送方 MTA 按
// 标准 SMTP 语义重试；已成功的插入不回滚（按收件人至多一次，
// 不做跨收件人的事务）。
func (s *session) Data(r io.Reader) error {
	rawBytes, err := io.ReadAll(io.LimitReader(r, maxMessageBytes))
	if err != nil {
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "failed to read message data",
		}
	}

	parsed := ParseEmail(rawBytes)
	score := spam.Score(parsed.Text, s.fromAddress)

	for _, rcpt := range s.recipients {
		_, err := s.backend.messages.Ingest(service.IngestMessageInput{
			Sender:      s.fromAddress,
			Recipient:   rcpt,
			Subject:     parsed.Subject,
			Text:        parsed.Text,
			HTML:        parsed.HTML,
			Headers:     parsed.Headers,
			Attachments: parsed.Attachments,
			SpamScore:   score,
		})
		if err != nil {
			s.backend.log.Error("failed to persist inbound message",
				zap.String("recipient", rcpt),
				zap.Error(err),
			)
			if s.backend.metrics != nil {
				s.backend.metrics.MessagesRejected.Inc()
			}
			return &gosmtp.SMTPError{
				Code:         451,
				EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
				Message:      "failed to store message, try again later",
			}
		}

		if s.backend.metrics != nil {
			s.backend.metrics.MessagesReceived.Inc()
			if spam.IsSpam(score) {
				s.backend.metrics.SpamDetected.Inc()
			}
		}
	}

	return nil
}

// AuthPlain 认证被禁用，入站投递不需要凭证。
func (s *session) AuthPlain(username, password string) error {
	return nil
}

// Reset 重置信封状态，准备同一连接上的下一个事务。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束，归还连接许可。
func (s *session) Logout() error {
	if s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	if s.backend.metrics != nil {
		s.backend.metrics.SMTPConnectionsActive.Dec()
	}
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
