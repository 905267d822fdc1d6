package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage/memory"
)

// gatedStore 包装内存存储，允许测试拦住 ListMessages 制造慢响应。
type gatedStore struct {
	*memory.Store
	listCalls int64
	entered   chan struct{} // 请求进入时发信号
	release   chan struct{} // 收到后才放行
	gated     atomic.Bool
}

func (g *gatedStore) ListMessages(scope []string, offset, limit int) ([]domain.Message, error) {
	atomic.AddInt64(&g.listCalls, 1)
	if g.gated.Load() {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.Store.ListMessages(scope, offset, limit)
}

func newInboxFixture(t *testing.T) (*InboxView, *MessageService, *AddressService, *gatedStore) {
	t.Helper()
	store := &gatedStore{
		Store:   memory.NewStore(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	messages := NewMessageService(store, zap.NewNop())
	addresses := NewAddressService(store, []string{"drop.mail"})

	_, err := addresses.Create(CreateAddressInput{UserID: "alice", LocalPart: "alice"})
	require.NoError(t, err)

	view := NewInboxView(messages, "alice", 20)
	return view, messages, addresses, store
}

func TestInboxLoadMore(t *testing.T) {
	t.Run("35封邮件分两页加载后没有更多", func(t *testing.T) {
		view, messages, _, _ := newInboxFixture(t)
		for i := 0; i < 35; i++ {
			ingest(t, messages, "alice@drop.mail", 0)
		}

		n, err := view.LoadMore()
		require.NoError(t, err)
		assert.Equal(t, 20, n)
		assert.True(t, view.HasMore())

		n, err = view.LoadMore()
		require.NoError(t, err)
		assert.Equal(t, 15, n)
		assert.False(t, view.HasMore())

		// 没有更多时空转
		n, err = view.LoadMore()
		require.NoError(t, err)
		assert.Zero(t, n)

		// 无重复
		seen := make(map[string]bool)
		for _, m := range view.Messages() {
			assert.False(t, seen[m.ID])
			seen[m.ID] = true
		}
		assert.Len(t, seen, 35)
	})

	t.Run("列表按时间倒序", func(t *testing.T) {
		view, messages, _, _ := newInboxFixture(t)
		ingest(t, messages, "alice@drop.mail", 0)
		time.Sleep(2 * time.Millisecond)
		newest := ingest(t, messages, "alice@drop.mail", 0)

		_, err := view.LoadMore()
		require.NoError(t, err)

		items := view.Messages()
		require.Len(t, items, 2)
		assert.Equal(t, newest.ID, items[0].ID)
	})

	t.Run("同一时刻只有一个请求在飞", func(t *testing.T) {
		view, messages, _, store := newInboxFixture(t)
		ingest(t, messages, "alice@drop.mail", 0)

		store.gated.Store(true)
		done := make(chan struct{})
		go func() {
			_, _ = view.LoadMore()
			close(done)
		}()
		<-store.entered // 第一个请求已到达存储层

		// 在飞期间重复触发直接空转，不产生第二次存储调用
		n, err := view.LoadMore()
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, int64(1), atomic.LoadInt64(&store.listCalls))

		store.gated.Store(false)
		close(store.release)
		<-done

		assert.Len(t, view.Messages(), 1)
	})
}

func TestInboxScopeSwitch(t *testing.T) {
	t.Run("切换作用域丢弃迟到的旧响应", func(t *testing.T) {
		view, messages, addresses, store := newInboxFixture(t)
		second, err := addresses.Create(CreateAddressInput{UserID: "alice", LocalPart: "second"})
		require.NoError(t, err)

		ingest(t, messages, "alice@drop.mail", 0)
		scoped := ingest(t, messages, second.Address, 0)

		// 旧作用域（全部地址）的请求被拦在存储层
		store.gated.Store(true)
		done := make(chan struct{})
		go func() {
			n, err := view.LoadMore()
			assert.NoError(t, err)
			assert.Zero(t, n) // 响应返回时已过期，被整体丢弃
			close(done)
		}()
		<-store.entered

		// 请求还在飞时切换到单地址作用域
		view.SetScope(&second.ID)

		store.gated.Store(false)
		close(store.release)
		<-done

		// 旧响应没有污染新作用域的列表
		assert.Empty(t, view.Messages())

		// 新作用域正常加载，只看到自己的邮件
		n, err := view.LoadMore()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		items := view.Messages()
		require.Len(t, items, 1)
		assert.Equal(t, scoped.ID, items[0].ID)
	})

	t.Run("切换作用域完全重置分页状态", func(t *testing.T) {
		view, messages, _, _ := newInboxFixture(t)
		for i := 0; i < 25; i++ {
			ingest(t, messages, "alice@drop.mail", 0)
		}

		_, err := view.LoadMore()
		require.NoError(t, err)
		require.Len(t, view.Messages(), 20)

		view.SetScope(nil)
		assert.Empty(t, view.Messages())
		assert.True(t, view.HasMore())

		n, err := view.LoadMore()
		require.NoError(t, err)
		assert.Equal(t, 20, n) // 从第一页重新开始
	})
}

func TestInboxExpand(t *testing.T) {
	t.Run("展开未读邮件恰好标记一次", func(t *testing.T) {
		view, messages, _, store := newInboxFixture(t)
		m := ingest(t, messages, "alice@drop.mail", 0)

		_, err := view.LoadMore()
		require.NoError(t, err)

		expanded, err := view.Expand(m.ID)
		require.NoError(t, err)
		require.NotNil(t, expanded.ReadAt)
		firstRead := *expanded.ReadAt

		time.Sleep(2 * time.Millisecond)
		again, err := view.Expand(m.ID)
		require.NoError(t, err)
		assert.True(t, again.ReadAt.Equal(firstRead))

		stored, err := store.GetMessage(m.ID)
		require.NoError(t, err)
		assert.True(t, stored.ReadAt.Equal(firstRead))
	})

	t.Run("展开窗口外的已读邮件不产生写入", func(t *testing.T) {
		view, messages, _, _ := newInboxFixture(t)
		m := ingest(t, messages, "alice@drop.mail", 0)
		require.NoError(t, messages.MarkRead("alice", m.ID))

		// 未加载任何页面，邮件不在窗口内
		expanded, err := view.Expand(m.ID)
		require.NoError(t, err)
		require.NotNil(t, expanded.ReadAt)
	})

	t.Run("展开别人的邮件被拒", func(t *testing.T) {
		view, messages, _, store := newInboxFixture(t)
		require.NoError(t, store.SaveAddress(&domain.Address{
			ID: "bob-addr", Address: "bob@drop.mail", UserID: "bob", CreatedAt: time.Now().UTC(),
		}))
		theirs := ingest(t, messages, "bob@drop.mail", 0)

		_, err := view.Expand(theirs.ID)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestInboxTwoStepDelete(t *testing.T) {
	t.Run("暂存不触达存储", func(t *testing.T) {
		view, messages, _, store := newInboxFixture(t)
		m := ingest(t, messages, "alice@drop.mail", 0)

		_, err := view.LoadMore()
		require.NoError(t, err)

		view.StageDelete(m.ID)
		assert.ElementsMatch(t, []string{m.ID}, view.StagedDeletions())

		// 邮件仍然存在
		_, err = store.GetMessage(m.ID)
		assert.NoError(t, err)
	})

	t.Run("取消后确认不删除任何东西", func(t *testing.T) {
		view, messages, _, store := newInboxFixture(t)
		m := ingest(t, messages, "alice@drop.mail", 0)

		view.StageDelete(m.ID)
		view.CancelDelete()
		assert.Empty(t, view.StagedDeletions())

		deleted, err := view.ConfirmDelete()
		require.NoError(t, err)
		assert.Zero(t, deleted)

		_, err = store.GetMessage(m.ID)
		assert.NoError(t, err)
	})

	t.Run("确认后删除并从列表移除", func(t *testing.T) {
		view, messages, _, store := newInboxFixture(t)
		m1 := ingest(t, messages, "alice@drop.mail", 0)
		m2 := ingest(t, messages, "alice@drop.mail", 0)
		keep := ingest(t, messages, "alice@drop.mail", 0)

		_, err := view.LoadMore()
		require.NoError(t, err)
		require.Len(t, view.Messages(), 3)

		view.StageDelete(m1.ID, m2.ID)
		deleted, err := view.ConfirmDelete()
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)

		items := view.Messages()
		require.Len(t, items, 1)
		assert.Equal(t, keep.ID, items[0].ID)

		_, err = store.GetMessage(m1.ID)
		assert.Error(t, err)
	})

	t.Run("确认后暂存集合被清空", func(t *testing.T) {
		view, messages, _, _ := newInboxFixture(t)
		m := ingest(t, messages, "alice@drop.mail", 0)

		view.StageDelete(m.ID)
		_, err := view.ConfirmDelete()
		require.NoError(t, err)
		assert.Empty(t, view.StagedDeletions())

		// 再次确认是空操作
		deleted, err := view.ConfirmDelete()
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})
}
