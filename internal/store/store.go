// Package store 實現共享清單的權威記憶體存儲
//
// 系統設計問題：
//
//	多個連線同時修改同一份清單，如何讓「順序」與「內容」各自安全地並發？
//
// 核心挑戰：
//  1. 順序一致：ItemCreated/ItemRemoved 回報的 index 必須在提交瞬間有效
//  2. 熱點分離：改名、勾選完成是高頻操作，不應與新增/刪除互相阻塞
//  3. 快照：完整清單查詢與持久化都需要一致的時間點副本
//
// 設計方案：
//
//	✅ 順序序列：單一 Mutex，所有新增/刪除在此序列化
//	✅ 項目表：sync.Map + 每個項目自己的 Mutex，改名/完成只鎖單一項目
//	✅ 快照：先複製順序（持鎖極短），再逐一讀取項目（不持順序鎖）
//
// 不變量：順序序列中的 ID 集合恰好等於項目表的鍵集合，且無重複。
package store

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/koopa0/system-design/14-shared-list/internal/protocol"
)

// entry 單一項目及其鎖
type entry struct {
	mu   sync.Mutex
	item protocol.Item
}

func (e *entry) load() protocol.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.item
}

// Store 權威清單存儲
//
// 鎖順序：order 鎖可以在持有期間觸及 items（sync.Map 自身同步），
// 但任何持有 entry 鎖的路徑都不會再取 order 鎖。
type Store struct {
	items sync.Map // uuid.UUID -> *entry

	mu    sync.Mutex
	order []uuid.UUID
}

// New 建立空的存儲
func New() *Store {
	return &Store{}
}

// Restore 以快照內容建立存儲，陣列順序即為順序序列
//
// 重複的 ID 只保留第一次出現，回傳被略過的數量。
func Restore(items []protocol.Item) (*Store, int) {
	s := New()
	skipped := 0
	for _, item := range items {
		if _, ok := s.Create(item); !ok {
			skipped++
		}
	}
	return s, skipped
}

// Snapshot 回傳依順序排列的項目副本
//
// 順序序列中找不到的 ID 會被略過（與並發刪除交錯時可能發生）。
func (s *Store) Snapshot() []protocol.Item {
	s.mu.Lock()
	order := slices.Clone(s.order)
	s.mu.Unlock()

	items := make([]protocol.Item, 0, len(order))
	for _, id := range order {
		v, ok := s.items.Load(id)
		if !ok {
			continue
		}
		items = append(items, v.(*entry).load())
	}
	return items
}

// Create 將項目附加到清單末端，回傳其 index
//
// index 永遠等於提交前的長度。ID 已存在時不做任何修改並回傳 false。
func (s *Store) Create(item protocol.Item) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, loaded := s.items.LoadOrStore(item.ID, &entry{item: item}); loaded {
		return 0, false
	}

	s.order = append(s.order, item.ID)
	return len(s.order) - 1, true
}

// Remove 刪除項目，回傳刪除前的 index
//
// ID 不存在時不做任何修改並回傳 false。
func (s *Store) Remove(id uuid.UUID) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := slices.Index(s.order, id)
	if index < 0 {
		return 0, false
	}

	s.order = slices.Delete(s.order, index, index+1)
	s.items.Delete(id)
	return index, true
}

// Rename 修改項目名稱，回傳 ID 是否存在
func (s *Store) Rename(id uuid.UUID, name string) bool {
	return s.update(id, func(item *protocol.Item) {
		item.Name = name
	})
}

// SetCompleted 修改完成狀態，回傳 ID 是否存在
func (s *Store) SetCompleted(id uuid.UUID, completed bool) bool {
	return s.update(id, func(item *protocol.Item) {
		item.Completed = completed
	})
}

// Get 取得單一項目副本
func (s *Store) Get(id uuid.UUID) (protocol.Item, bool) {
	v, ok := s.items.Load(id)
	if !ok {
		return protocol.Item{}, false
	}
	return v.(*entry).load(), true
}

// Len 目前項目數量
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// update 只鎖定單一項目，不觸及順序鎖
func (s *Store) update(id uuid.UUID, fn func(*protocol.Item)) bool {
	v, ok := s.items.Load(id)
	if !ok {
		return false
	}

	e := v.(*entry)
	e.mu.Lock()
	fn(&e.item)
	e.mu.Unlock()
	return true
}
