// Package email 实现经外部中继的出站投递。
// 投递是尽力而为的：失败只记日志与指标，不做内部重试。
package email

import (
	"io"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/service"
)

// Config 出站中继配置。
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
}

// OutboundAttachment 出站附件。出站时内容字节由调用方提供，
// 入库的 Message 行仍只保留元数据。
type OutboundAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// SendInput 定义一次出站投递的输入。
type SendInput struct {
	From        string
	To          string
	Subject     string
	Text        string
	HTML        string
	Attachments []OutboundAttachment
	ThreadID    *string
}

// Sender 通过外部 SMTP 中继发送邮件，并把发出的邮件记录为
// 与入站同构的 Message 行，保证会话连续性。
type Sender struct {
	cfg      Config
	messages *service.MessageService
	metrics  *monitoring.Metrics
	log      *zap.Logger
	send     func(m *gomail.Message) error
}

// NewSender 创建出站发送服务。metrics 可为 nil。
func NewSender(cfg Config, messages *service.MessageService, metrics *monitoring.Metrics, log *zap.Logger) *Sender {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &Sender{
		cfg:      cfg,
		messages: messages,
		metrics:  metrics,
		log:      log,
		send: func(m *gomail.Message) error {
			return dialer.DialAndSend(m)
		},
	}
}

// Send 投递一封邮件并记录发送行。
// 中继拒绝或不可达时返回错误，调用方决定是否告知用户；不重试。
func (s *Sender) Send(input SendInput) (*domain.Message, error) {
	m := gomail.NewMessage()
	m.SetHeader("From", input.From)
	m.SetHeader("To", input.To)
	m.SetHeader("Subject", input.Subject)

	switch {
	case input.Text != "" && input.HTML != "":
		m.SetBody("text/plain", input.Text)
		m.AddAlternative("text/html", input.HTML)
	case input.HTML != "":
		m.SetBody("text/html", input.HTML)
	default:
		m.SetBody("text/plain", input.Text)
	}

	for _, att := range input.Attachments {
		content := att.Content
		m.Attach(att.Filename,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
			gomail.SetHeader(map[string][]string{"Content-Type": {att.ContentType}}),
		)
	}

	if err := s.send(m); err != nil {
		if s.metrics != nil {
			s.metrics.OutboundFailed.Inc()
		}
		s.log.Warn("outbound delivery failed",
			zap.String("to", input.To),
			zap.Error(err),
		)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.OutboundSent.Inc()
	}

	metadata := make([]domain.Attachment, 0, len(input.Attachments))
	for _, att := range input.Attachments {
		metadata = append(metadata, domain.Attachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			SizeBytes:   int64(len(att.Content)),
		})
	}

	return s.messages.RecordOutbound(input.From, input.To, input.Subject, input.Text, input.HTML, metadata, input.ThreadID)
}
