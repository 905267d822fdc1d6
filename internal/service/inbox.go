package service

import (
	"sync"

	"dropmail/backend/internal/domain"
)

// DefaultPageSize 邮箱列表的固定页大小。
const DefaultPageSize = 20

// InboxView 是单个邮箱视图的读模型：地址作用域内按时间倒序、
// 可持续下拉加载的邮件列表。
//
// 并发约定：
//   - 同一视图同时最多只有一个 LoadMore 在飞，重复触发直接空转，
//     防止快速滚动导致的重复取页；
//   - 切换作用域会推进 epoch 并完全重置分页状态；迟到的旧作用域
//     响应因 epoch 不匹配而被丢弃，绝不会拼到新作用域的列表里。
type InboxView struct {
	mu       sync.Mutex
	messages *MessageService
	userID   string
	pageSize int

	scope   *string // 地址 ID，nil 表示该用户的全部地址
	epoch   uint64
	offset  int
	items   []domain.Message
	hasMore bool
	loading bool

	staged map[string]struct{} // 待确认删除的邮件 ID
}

// NewInboxView 创建邮箱视图。pageSize 不为正时使用 DefaultPageSize。
func NewInboxView(messages *MessageService, userID string, pageSize int) *InboxView {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &InboxView{
		messages: messages,
		userID:   userID,
		pageSize: pageSize,
		hasMore:  true,
		staged:   make(map[string]struct{}),
	}
}

// SetScope 切换地址作用域并完全重置分页状态。
// 不发起任何请求；首页由随后的 LoadMore 拉取。
func (v *InboxView) SetScope(addressID *string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.scope = addressID
	v.epoch++
	v.offset = 0
	v.items = nil
	v.hasMore = true
	v.loading = false
	v.staged = make(map[string]struct{})
}

// Scope 返回当前作用域的地址 ID，nil 表示全部地址。
func (v *InboxView) Scope() *string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scope
}

// LoadMore 拉取下一页并追加到列表，返回追加的条数。
//
// 已有请求在飞或没有更多数据时直接返回 0。请求完成时如果 epoch
// 已经变化（期间发生了作用域切换），结果被整体丢弃。
func (v *InboxView) LoadMore() (int, error) {
	v.mu.Lock()
	if v.loading || !v.hasMore {
		v.mu.Unlock()
		return 0, nil
	}
	v.loading = true
	epoch := v.epoch
	offset := v.offset
	scope := v.scope
	v.mu.Unlock()

	page, err := v.messages.List(v.userID, scope, offset, v.pageSize)

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.epoch != epoch {
		// 迟到的旧作用域响应：loading 标志已经属于新 epoch，不碰
		return 0, nil
	}
	v.loading = false
	if err != nil {
		return 0, err
	}

	v.items = append(v.items, page.Messages...)
	v.offset += len(page.Messages)
	v.hasMore = page.HasMore
	return len(page.Messages), nil
}

// Messages 返回当前已加载邮件的快照。
func (v *InboxView) Messages() []domain.Message {
	v.mu.Lock()
	defer v.mu.Unlock()

	snapshot := make([]domain.Message, len(v.items))
	copy(snapshot, v.items)
	return snapshot
}

// HasMore 报告是否还有未加载的邮件。
func (v *InboxView) HasMore() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hasMore
}

// UnreadCount 返回当前作用域内的未读数量。
func (v *InboxView) UnreadCount() (int, error) {
	v.mu.Lock()
	scope := v.scope
	v.mu.Unlock()
	return v.messages.UnreadCount(v.userID, scope)
}

// Expand 展开一封邮件供阅读。
//
// 邮件此前未读时恰好触发一次已读标记；重复展开已读邮件不产生
// 任何写入。返回带最新已读时间的邮件副本。
func (v *InboxView) Expand(messageID string) (*domain.Message, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	idx := -1
	for i := range v.items {
		if v.items[i].ID == messageID {
			idx = i
			break
		}
	}

	if idx >= 0 && v.items[idx].ReadAt != nil {
		clone := v.items[idx]
		return &clone, nil
	}
	if idx < 0 {
		// 不在已加载窗口内，按存储中的状态判断是否需要标记
		current, err := v.messages.Get(v.userID, messageID)
		if err != nil {
			return nil, err
		}
		if current.ReadAt != nil {
			return current, nil
		}
	}

	if err := v.messages.MarkRead(v.userID, messageID); err != nil {
		return nil, err
	}
	updated, err := v.messages.Get(v.userID, messageID)
	if err != nil {
		return nil, err
	}
	if idx >= 0 {
		v.items[idx] = *updated
	}
	clone := *updated
	return &clone, nil
}

// StageDelete 把邮件 ID 加入待删除集合。不触达存储。
func (v *InboxView) StageDelete(messageIDs ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range messageIDs {
		v.staged[id] = struct{}{}
	}
}

// StagedDeletions 返回当前待确认删除的邮件 ID。
func (v *InboxView) StagedDeletions() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	ids := make([]string, 0, len(v.staged))
	for id := range v.staged {
		ids = append(ids, id)
	}
	return ids
}

// CancelDelete 清空待删除集合，不执行任何删除。
func (v *InboxView) CancelDelete() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.staged = make(map[string]struct{})
}

// ConfirmDelete 执行两步删除的第二步：对已暂存的 ID 发起真正的删除。
// 删除永远不会在没有暂存确认的情况下发生。
func (v *InboxView) ConfirmDelete() (int, error) {
	v.mu.Lock()
	ids := make([]string, 0, len(v.staged))
	for id := range v.staged {
		ids = append(ids, id)
	}
	v.staged = make(map[string]struct{})
	v.mu.Unlock()

	if len(ids) == 0 {
		return 0, nil
	}

	var deleted int
	var err error
	if len(ids) == 1 {
		if err = v.messages.Delete(v.userID, ids[0]); err == nil {
			deleted = 1
		}
	} else {
		deleted, err = v.messages.DeleteMany(v.userID, ids)
	}
	if err != nil {
		return 0, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	staged := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		staged[id] = struct{}{}
	}
	kept := v.items[:0]
	removed := 0
	for _, item := range v.items {
		if _, ok := staged[item.ID]; ok {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	v.items = kept
	// 已加载窗口缩短了多少，offset 就回退多少，避免下一页跳过邮件
	v.offset -= removed
	if v.offset < 0 {
		v.offset = 0
	}
	return deleted, nil
}
