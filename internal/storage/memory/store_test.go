package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
)

func seedMessage(t *testing.T, s *Store, id, recipient string, createdAt time.Time) *domain.Message {
	t.Helper()
	m := &domain.Message{
		ID:               id,
		RecipientAddress: recipient,
		SenderAddress:    "sender@example.com",
		Subject:          "seed " + id,
		CreatedAt:        createdAt,
	}
	require.NoError(t, s.InsertMessage(m))
	return m
}

func TestMessageOrdering(t *testing.T) {
	t.Run("按时间倒序排列", func(t *testing.T) {
		s := NewStore()
		base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		seedMessage(t, s, "m1", "a@drop.mail", base)
		seedMessage(t, s, "m2", "a@drop.mail", base.Add(time.Minute))
		seedMessage(t, s, "m3", "a@drop.mail", base.Add(2*time.Minute))

		msgs, err := s.ListMessages(nil, 0, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "m3", msgs[0].ID)
		assert.Equal(t, "m2", msgs[1].ID)
		assert.Equal(t, "m1", msgs[2].ID)
	})

	t.Run("时间相同按ID倒序保证稳定", func(t *testing.T) {
		s := NewStore()
		same := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		seedMessage(t, s, "aaa", "a@drop.mail", same)
		seedMessage(t, s, "zzz", "a@drop.mail", same)
		seedMessage(t, s, "mmm", "a@drop.mail", same)

		msgs, err := s.ListMessages(nil, 0, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "zzz", msgs[0].ID)
		assert.Equal(t, "mmm", msgs[1].ID)
		assert.Equal(t, "aaa", msgs[2].ID)
	})
}

// seedReply 写入一封归属指定会话的回复。
func seedReply(t *testing.T, s *Store, id, recipient, threadID string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, s.InsertMessage(&domain.Message{
		ID:               id,
		RecipientAddress: recipient,
		SenderAddress:    "sender@example.com",
		Subject:          "reply " + id,
		CreatedAt:        createdAt,
		ThreadID:         &threadID,
	}))
}

func TestListThread(t *testing.T) {
	t.Run("返回根邮件与全部回复按时间正序", func(t *testing.T) {
		s := NewStore()
		base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		seedMessage(t, s, "root", "a@drop.mail", base)
		seedReply(t, s, "r1", "other@example.com", "root", base.Add(time.Minute))
		seedReply(t, s, "r2", "a@drop.mail", "root", base.Add(2*time.Minute))
		seedMessage(t, s, "unrelated", "a@drop.mail", base.Add(3*time.Minute))

		thread, err := s.ListThread("root")
		require.NoError(t, err)
		require.Len(t, thread, 3)
		assert.Equal(t, "root", thread[0].ID)
		assert.Equal(t, "r1", thread[1].ID)
		assert.Equal(t, "r2", thread[2].ID)
	})

	t.Run("根邮件被删除后仍返回剩余回复", func(t *testing.T) {
		s := NewStore()
		base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		seedMessage(t, s, "root", "a@drop.mail", base)
		seedReply(t, s, "r1", "a@drop.mail", "root", base.Add(time.Minute))
		require.NoError(t, s.DeleteMessage("root"))

		thread, err := s.ListThread("root")
		require.NoError(t, err)
		require.Len(t, thread, 1)
		assert.Equal(t, "r1", thread[0].ID)
	})

	t.Run("未知会话返回空列表", func(t *testing.T) {
		s := NewStore()
		thread, err := s.ListThread("ghost")
		require.NoError(t, err)
		assert.Empty(t, thread)
	})
}

func TestMessagePagination(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 35; i++ {
		seedMessage(t, s, fmt.Sprintf("m%02d", i), "a@drop.mail", base.Add(time.Duration(i)*time.Minute))
	}

	t.Run("35封邮件分两页无重复无遗漏", func(t *testing.T) {
		first, err := s.ListMessages(nil, 0, 20)
		require.NoError(t, err)
		require.Len(t, first, 20)

		second, err := s.ListMessages(nil, 20, 20)
		require.NoError(t, err)
		require.Len(t, second, 15)

		seen := make(map[string]bool)
		for _, m := range append(first, second...) {
			assert.False(t, seen[m.ID], "duplicate message %s", m.ID)
			seen[m.ID] = true
		}
		assert.Len(t, seen, 35)
	})

	t.Run("offset越界返回空页", func(t *testing.T) {
		page, err := s.ListMessages(nil, 100, 20)
		require.NoError(t, err)
		assert.Empty(t, page)
	})

	t.Run("计数与作用域一致", func(t *testing.T) {
		total, err := s.CountMessages(nil)
		require.NoError(t, err)
		assert.Equal(t, 35, total)

		scoped, err := s.CountMessages([]string{"nobody@drop.mail"})
		require.NoError(t, err)
		assert.Equal(t, 0, scoped)
	})
}

func TestScopeFiltering(t *testing.T) {
	s := NewStore()
	now := time.Now().UTC()
	seedMessage(t, s, "m1", "a@drop.mail", now)
	seedMessage(t, s, "m2", "b@drop.mail", now.Add(time.Second))
	seedMessage(t, s, "m3", "a@drop.mail", now.Add(2*time.Second))

	t.Run("nil作用域返回全部", func(t *testing.T) {
		msgs, err := s.ListMessages(nil, 0, 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 3)
	})

	t.Run("空作用域什么都看不到", func(t *testing.T) {
		msgs, err := s.ListMessages([]string{}, 0, 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("单地址作用域只看到自己的邮件", func(t *testing.T) {
		msgs, err := s.ListMessages([]string{"a@drop.mail"}, 0, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		for _, m := range msgs {
			assert.Equal(t, "a@drop.mail", m.RecipientAddress)
		}
	})
}

func TestMarkMessageRead(t *testing.T) {
	t.Run("重复标记保留首次时间", func(t *testing.T) {
		s := NewStore()
		seedMessage(t, s, "m1", "a@drop.mail", time.Now().UTC())

		first := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
		require.NoError(t, s.MarkMessageRead("m1", first))
		require.NoError(t, s.MarkMessageRead("m1", first.Add(time.Hour)))

		m, err := s.GetMessage("m1")
		require.NoError(t, err)
		require.NotNil(t, m.ReadAt)
		assert.True(t, m.ReadAt.Equal(first))
	})

	t.Run("邮件不存在返回NotFound", func(t *testing.T) {
		s := NewStore()
		err := s.MarkMessageRead("ghost", time.Now())
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	})

	t.Run("未读计数随已读下降", func(t *testing.T) {
		s := NewStore()
		now := time.Now().UTC()
		seedMessage(t, s, "m1", "a@drop.mail", now)
		seedMessage(t, s, "m2", "a@drop.mail", now)

		unread, err := s.CountUnread([]string{"a@drop.mail"})
		require.NoError(t, err)
		assert.Equal(t, 2, unread)

		require.NoError(t, s.MarkMessageRead("m1", now))
		unread, err = s.CountUnread([]string{"a@drop.mail"})
		require.NoError(t, err)
		assert.Equal(t, 1, unread)
	})
}

func TestMarkMessageSpam(t *testing.T) {
	t.Run("标记只会提升不会降低", func(t *testing.T) {
		s := NewStore()
		m := seedMessage(t, s, "m1", "a@drop.mail", time.Now().UTC())
		m.SpamScore = 0.4
		require.NoError(t, s.InsertMessage(m))

		require.NoError(t, s.MarkMessageSpam("m1"))
		got, err := s.GetMessage("m1")
		require.NoError(t, err)
		assert.True(t, got.IsSpam)
		assert.Equal(t, 0.4, got.SpamScore) // 分数保持不变

		// 再次标记仍为 true
		require.NoError(t, s.MarkMessageSpam("m1"))
		got, err = s.GetMessage("m1")
		require.NoError(t, err)
		assert.True(t, got.IsSpam)
	})
}

func TestDeleteMessage(t *testing.T) {
	t.Run("删除不存在的邮件视为成功", func(t *testing.T) {
		s := NewStore()
		assert.NoError(t, s.DeleteMessage("ghost"))
	})

	t.Run("批量删除返回实际删除数", func(t *testing.T) {
		s := NewStore()
		now := time.Now().UTC()
		seedMessage(t, s, "m1", "a@drop.mail", now)
		seedMessage(t, s, "m2", "a@drop.mail", now)

		deleted, err := s.DeleteMessages([]string{"m1", "m2", "ghost"})
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)

		_, err = s.GetMessage("m1")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	})
}

func TestAddressRepository(t *testing.T) {
	newAddress := func(id, addr, userID string) *domain.Address {
		return &domain.Address{
			ID:        id,
			Address:   addr,
			UserID:    userID,
			CreatedAt: time.Now().UTC(),
		}
	}

	t.Run("地址字符串全局唯一", func(t *testing.T) {
		s := NewStore()
		require.NoError(t, s.SaveAddress(newAddress("a1", "x@drop.mail", "u1")))
		err := s.SaveAddress(newAddress("a2", "x@drop.mail", "u2"))
		assert.ErrorIs(t, err, storage.ErrAddressExists)
	})

	t.Run("按地址字符串查找", func(t *testing.T) {
		s := NewStore()
		require.NoError(t, s.SaveAddress(newAddress("a1", "x@drop.mail", "u1")))

		got, err := s.GetAddressByAddress("x@drop.mail")
		require.NoError(t, err)
		assert.Equal(t, "a1", got.ID)

		_, err = s.GetAddressByAddress("ghost@drop.mail")
		assert.ErrorIs(t, err, storage.ErrAddressNotFound)
	})

	t.Run("删除地址保留历史邮件", func(t *testing.T) {
		s := NewStore()
		require.NoError(t, s.SaveAddress(newAddress("a1", "x@drop.mail", "u1")))
		seedMessage(t, s, "m1", "x@drop.mail", time.Now().UTC())

		require.NoError(t, s.DeleteAddress("a1"))

		// 地址没了
		_, err := s.GetAddress("a1")
		assert.ErrorIs(t, err, storage.ErrAddressNotFound)

		// 邮件仍按地址字符串可查
		msgs, err := s.ListMessages([]string{"x@drop.mail"}, 0, 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("删除不存在的地址返回NotFound", func(t *testing.T) {
		s := NewStore()
		err := s.DeleteAddress("ghost")
		assert.ErrorIs(t, err, storage.ErrAddressNotFound)
	})

	t.Run("按用户列出地址", func(t *testing.T) {
		s := NewStore()
		require.NoError(t, s.SaveAddress(newAddress("a1", "one@drop.mail", "u1")))
		require.NoError(t, s.SaveAddress(newAddress("a2", "two@drop.mail", "u1")))
		require.NoError(t, s.SaveAddress(newAddress("a3", "other@drop.mail", "u2")))

		addrs, err := s.ListAddressesByUserID("u1")
		require.NoError(t, err)
		assert.Len(t, addrs, 2)
	})
}
