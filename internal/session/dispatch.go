package session

import (
	"github.com/koopa0/system-design/14-shared-list/internal/protocol"
	"github.com/koopa0/system-design/14-shared-list/internal/store"
)

// Scope 事件的投遞範圍
type Scope int

const (
	// ScopeNone 不回覆也不廣播（刪除不存在的項目、重複的新增）
	ScopeNone Scope = iota
	// ScopeReply 只回覆請求者（GetItems）
	ScopeReply
	// ScopeBroadcast 回覆請求者並廣播給其他連線
	ScopeBroadcast
)

func (s Scope) String() string {
	switch s {
	case ScopeReply:
		return "reply"
	case ScopeBroadcast:
		return "broadcast"
	default:
		return "none"
	}
}

// Apply 將請求套用到存儲，回傳產生的事件與投遞範圍
//
// 改名/完成不存在的 ID 仍然產生事件並廣播，存儲不變。
func Apply(st *store.Store, req protocol.Request) (protocol.Response, Scope) {
	switch req.Kind {
	case protocol.KindGetItems:
		return protocol.Items(st.Snapshot()), ScopeReply

	case protocol.KindCreateItem:
		index, ok := st.Create(req.Item)
		if !ok {
			return protocol.Response{}, ScopeNone
		}
		return protocol.ItemCreated(req.Item, index), ScopeBroadcast

	case protocol.KindRemoveItem:
		index, ok := st.Remove(req.ID)
		if !ok {
			return protocol.Response{}, ScopeNone
		}
		return protocol.ItemRemoved(req.ID, index), ScopeBroadcast

	case protocol.KindRenameItem:
		st.Rename(req.ID, req.Name)
		return protocol.ItemRenamed(req.ID, req.Name), ScopeBroadcast

	case protocol.KindCompleteItem:
		st.SetCompleted(req.ID, req.Completed)
		return protocol.ItemCompleted(req.ID, req.Completed), ScopeBroadcast

	default:
		return protocol.Response{}, ScopeNone
	}
}
