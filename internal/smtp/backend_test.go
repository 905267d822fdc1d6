package smtp

import (
	"errors"
	"strings"
	"testing"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/storage"
	"dropmail/backend/internal/storage/memory"
)

// brokenStore 在插入时失败，其余操作委托给内存实现。
type brokenStore struct {
	storage.Store
}

func (s *brokenStore) InsertMessage(_ *domain.Message) error {
	return errors.New("disk full")
}

func newTestSession(t *testing.T, store storage.Store) *session {
	t.Helper()
	messages := service.NewMessageService(store, zap.NewNop())
	backend := NewBackend(messages, nil, nil, nil, zap.NewNop())
	return &session{backend: backend}
}

func TestSessionEnvelope(t *testing.T) {
	t.Run("发件地址语法非法被拒", func(t *testing.T) {
		s := newTestSession(t, memory.NewStore())
		err := s.Mail("not-an-address", nil)
		require.Error(t, err)
		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 501, smtpErr.Code)
	})

	t.Run("地址被去尖括号并小写化", func(t *testing.T) {
		s := newTestSession(t, memory.NewStore())
		require.NoError(t, s.Mail("<Alice@Example.COM>", nil))
		assert.Equal(t, "alice@example.com", s.fromAddress)
	})

	t.Run("收件地址缺少域名被拒", func(t *testing.T) {
		s := newTestSession(t, memory.NewStore())
		require.NoError(t, s.Mail("a@example.com", nil))
		err := s.Rcpt("broken@", nil)
		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 501, smtpErr.Code)
	})

	t.Run("白名单外的收件域名被550拒绝", func(t *testing.T) {
		store := memory.NewStore()
		messages := service.NewMessageService(store, zap.NewNop())
		backend := NewBackend(messages, []string{"drop.mail"}, nil, nil, zap.NewNop())
		s := &session{backend: backend}

		require.NoError(t, s.Mail("a@example.com", nil))
		require.NoError(t, s.Rcpt("user@drop.mail", nil))

		err := s.Rcpt("victim@elsewhere.com", nil)
		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 550, smtpErr.Code)
	})

	t.Run("未注册的收件地址照常接收", func(t *testing.T) {
		store := memory.NewStore()
		s := newTestSession(t, store)

		require.NoError(t, s.Mail("sender@example.com", nil))
		require.NoError(t, s.Rcpt("never-registered@drop.mail", nil))
		require.NoError(t, s.Data(strings.NewReader(testRawMail("hi there"))))

		msgs, err := store.ListMessages(nil, 0, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "never-registered@drop.mail", msgs[0].RecipientAddress)
	})

	t.Run("Reset清空信封状态", func(t *testing.T) {
		s := newTestSession(t, memory.NewStore())
		require.NoError(t, s.Mail("a@example.com", nil))
		require.NoError(t, s.Rcpt("b@drop.mail", nil))
		s.Reset()
		assert.Empty(t, s.fromAddress)
		assert.Empty(t, s.recipients)
	})
}

func TestSessionData(t *testing.T) {
	t.Run("多收件人各落一行", func(t *testing.T) {
		store := memory.NewStore()
		s := newTestSession(t, store)

		require.NoError(t, s.Mail("sender@example.com", nil))
		require.NoError(t, s.Rcpt("one@drop.mail", nil))
		require.NoError(t, s.Rcpt("two@drop.mail", nil))
		require.NoError(t, s.Data(strings.NewReader(testRawMail("shared body"))))

		msgs, err := store.ListMessages(nil, 0, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)

		recipients := []string{msgs[0].RecipientAddress, msgs[1].RecipientAddress}
		assert.ElementsMatch(t, []string{"one@drop.mail", "two@drop.mail"}, recipients)

		// 除收件地址与 ID 外内容一致
		assert.Equal(t, msgs[0].Subject, msgs[1].Subject)
		assert.Equal(t, msgs[0].BodyText, msgs[1].BodyText)
		assert.Equal(t, msgs[0].SpamScore, msgs[1].SpamScore)
		assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
	})

	t.Run("空主题落库为占位值", func(t *testing.T) {
		store := memory.NewStore()
		s := newTestSession(t, store)

		raw := "From: a@example.com\r\nTo: b@drop.mail\r\n\r\nno subject here"
		require.NoError(t, s.Mail("a@example.com", nil))
		require.NoError(t, s.Rcpt("b@drop.mail", nil))
		require.NoError(t, s.Data(strings.NewReader(raw)))

		msgs, err := store.ListMessages(nil, 0, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "(No Subject)", msgs[0].Subject)
	})

	t.Run("完全无法解析的内容以空正文入库", func(t *testing.T) {
		store := memory.NewStore()
		s := newTestSession(t, store)

		require.NoError(t, s.Mail("a@example.com", nil))
		require.NoError(t, s.Rcpt("b@drop.mail", nil))
		require.NoError(t, s.Data(strings.NewReader("no colon lines at all\x00")))

		msgs, err := store.ListMessages(nil, 0, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Empty(t, msgs[0].BodyText)
		assert.Equal(t, "(No Subject)", msgs[0].Subject)
	})

	t.Run("垃圾邮件同样入库并带分数", func(t *testing.T) {
		store := memory.NewStore()
		s := newTestSession(t, store)

		require.NoError(t, s.Mail("x@evil.xyz", nil))
		require.NoError(t, s.Rcpt("b@drop.mail", nil))
		require.NoError(t, s.Data(strings.NewReader(testRawMail("WIN THE LOTTERY PRINCE INHERITANCE VIAGRA WINNER"))))

		msgs, err := store.ListMessages(nil, 0, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, 1.0, msgs[0].SpamScore)
		assert.True(t, msgs[0].IsSpam)
	})

	t.Run("存储失败返回451临时错误", func(t *testing.T) {
		store := &brokenStore{Store: memory.NewStore()}
		s := newTestSession(t, store)

		require.NoError(t, s.Mail("a@example.com", nil))
		require.NoError(t, s.Rcpt("b@drop.mail", nil))

		err := s.Data(strings.NewReader(testRawMail("body")))
		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 451, smtpErr.Code)
	})
}

func testRawMail(body string) string {
	return "From: a@example.com\r\nTo: b@drop.mail\r\nSubject: test\r\n\r\n" + body
}
