// Package protocol 定義共享清單的資料模型與 WebSocket 訊息格式（v1）
//
// 訊息為 JSON 編碼的標記聯合（externally tagged）：
//
//	"GetItems"
//	{"CreateItem": {"id": "…", "name": "milk", "completed": false}}
//	{"RemoveItem": "…"}
//	{"RenameItem": {"id": "…", "name": "oat milk"}}
//	{"CompleteItem": {"id": "…", "completed": true}}
//
// 伺服器回應：
//
//	{"Items": [...]}
//	{"ItemCreated": {"item": {...}, "index": 0}}
//	{"ItemRemoved": {"id": "…", "index": 0}}
//	{"ItemRenamed": {"id": "…", "name": "…"}}
//	{"ItemCompleted": {"id": "…", "completed": true}}
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Item 清單項目
//
// ID 由客戶端產生，建立後不可變更；Name 與 Completed 可修改。
type Item struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Completed bool      `json:"completed"`
}

// UnmarshalJSON 要求三個欄位都存在
func (i *Item) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        *uuid.UUID `json:"id"`
		Name      *string    `json:"name"`
		Completed *bool      `json:"completed"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch {
	case raw.ID == nil:
		return fmt.Errorf("item: missing field `id`")
	case raw.Name == nil:
		return fmt.Errorf("item: missing field `name`")
	case raw.Completed == nil:
		return fmt.Errorf("item: missing field `completed`")
	}

	*i = Item{ID: *raw.ID, Name: *raw.Name, Completed: *raw.Completed}
	return nil
}
