package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/koopa0/system-design/14-shared-list/pkg/errors"
)

// RequestKind 客戶端請求類型
type RequestKind string

const (
	KindGetItems     RequestKind = "GetItems"
	KindCreateItem   RequestKind = "CreateItem"
	KindRemoveItem   RequestKind = "RemoveItem"
	KindRenameItem   RequestKind = "RenameItem"
	KindCompleteItem RequestKind = "CompleteItem"
)

// ResponseKind 伺服器事件類型
type ResponseKind string

const (
	KindItems         ResponseKind = "Items"
	KindItemCreated   ResponseKind = "ItemCreated"
	KindItemRemoved   ResponseKind = "ItemRemoved"
	KindItemRenamed   ResponseKind = "ItemRenamed"
	KindItemCompleted ResponseKind = "ItemCompleted"
)

// Request 客戶端請求
//
// 依 Kind 使用對應欄位：
//   - CreateItem：Item
//   - RemoveItem：ID
//   - RenameItem：ID、Name
//   - CompleteItem：ID、Completed
type Request struct {
	Kind      RequestKind
	Item      Item
	ID        uuid.UUID
	Name      string
	Completed bool
}

// GetItems 建立完整清單查詢
func GetItems() Request { return Request{Kind: KindGetItems} }

// CreateItem 建立新增項目請求
func CreateItem(item Item) Request { return Request{Kind: KindCreateItem, Item: item} }

// RemoveItem 建立刪除項目請求
func RemoveItem(id uuid.UUID) Request { return Request{Kind: KindRemoveItem, ID: id} }

// RenameItem 建立改名請求
func RenameItem(id uuid.UUID, name string) Request {
	return Request{Kind: KindRenameItem, ID: id, Name: name}
}

// CompleteItem 建立完成狀態請求
func CompleteItem(id uuid.UUID, completed bool) Request {
	return Request{Kind: KindCompleteItem, ID: id, Completed: completed}
}

type renamePayload struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type completePayload struct {
	ID        uuid.UUID `json:"id"`
	Completed bool      `json:"completed"`
}

// MarshalJSON 編碼為標記聯合
func (r Request) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindGetItems:
		return json.Marshal(string(r.Kind))
	case KindCreateItem:
		return tagged(string(r.Kind), r.Item)
	case KindRemoveItem:
		return tagged(string(r.Kind), r.ID)
	case KindRenameItem:
		return tagged(string(r.Kind), renamePayload{ID: r.ID, Name: r.Name})
	case KindCompleteItem:
		return tagged(string(r.Kind), completePayload{ID: r.ID, Completed: r.Completed})
	default:
		return nil, fmt.Errorf("unknown request kind %q", r.Kind)
	}
}

// UnmarshalJSON 解碼標記聯合
func (r *Request) UnmarshalJSON(data []byte) error {
	tag, payload, err := splitTagged(data)
	if err != nil {
		return err
	}

	var req Request
	req.Kind = RequestKind(tag)

	switch req.Kind {
	case KindGetItems:
		if payload != nil && !isNull(payload) {
			return fmt.Errorf("GetItems takes no payload")
		}
	case KindCreateItem:
		if err := decodePayload(tag, payload, &req.Item); err != nil {
			return err
		}
	case KindRemoveItem:
		if err := decodePayload(tag, payload, &req.ID); err != nil {
			return err
		}
	case KindRenameItem:
		var p struct {
			ID   *uuid.UUID `json:"id"`
			Name *string    `json:"name"`
		}
		if err := decodePayload(tag, payload, &p); err != nil {
			return err
		}
		if p.ID == nil || p.Name == nil {
			return fmt.Errorf("RenameItem: missing field")
		}
		req.ID, req.Name = *p.ID, *p.Name
	case KindCompleteItem:
		var p struct {
			ID        *uuid.UUID `json:"id"`
			Completed *bool      `json:"completed"`
		}
		if err := decodePayload(tag, payload, &p); err != nil {
			return err
		}
		if p.ID == nil || p.Completed == nil {
			return fmt.Errorf("CompleteItem: missing field")
		}
		req.ID, req.Completed = *p.ID, *p.Completed
	default:
		return fmt.Errorf("unknown request variant %q", tag)
	}

	*r = req
	return nil
}

// Response 伺服器事件，同時作為直接回覆與廣播內容
type Response struct {
	Kind      ResponseKind
	Items     []Item
	Item      Item
	Index     int
	ID        uuid.UUID
	Name      string
	Completed bool
}

// Items 完整清單快照
func Items(items []Item) Response { return Response{Kind: KindItems, Items: items} }

// ItemCreated 項目新增事件
func ItemCreated(item Item, index int) Response {
	return Response{Kind: KindItemCreated, Item: item, Index: index}
}

// ItemRemoved 項目刪除事件
func ItemRemoved(id uuid.UUID, index int) Response {
	return Response{Kind: KindItemRemoved, ID: id, Index: index}
}

// ItemRenamed 項目改名事件
func ItemRenamed(id uuid.UUID, name string) Response {
	return Response{Kind: KindItemRenamed, ID: id, Name: name}
}

// ItemCompleted 完成狀態事件
func ItemCompleted(id uuid.UUID, completed bool) Response {
	return Response{Kind: KindItemCompleted, ID: id, Completed: completed}
}

type createdPayload struct {
	Item  Item `json:"item"`
	Index int  `json:"index"`
}

type removedPayload struct {
	ID    uuid.UUID `json:"id"`
	Index int       `json:"index"`
}

// MarshalJSON 編碼為標記聯合
func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindItems:
		items := r.Items
		if items == nil {
			items = []Item{}
		}
		return tagged(string(r.Kind), items)
	case KindItemCreated:
		return tagged(string(r.Kind), createdPayload{Item: r.Item, Index: r.Index})
	case KindItemRemoved:
		return tagged(string(r.Kind), removedPayload{ID: r.ID, Index: r.Index})
	case KindItemRenamed:
		return tagged(string(r.Kind), renamePayload{ID: r.ID, Name: r.Name})
	case KindItemCompleted:
		return tagged(string(r.Kind), completePayload{ID: r.ID, Completed: r.Completed})
	default:
		return nil, fmt.Errorf("unknown response kind %q", r.Kind)
	}
}

// UnmarshalJSON 解碼標記聯合
func (r *Response) UnmarshalJSON(data []byte) error {
	tag, payload, err := splitTagged(data)
	if err != nil {
		return err
	}

	resp := Response{Kind: ResponseKind(tag)}

	switch resp.Kind {
	case KindItems:
		if err := decodePayload(tag, payload, &resp.Items); err != nil {
			return err
		}
	case KindItemCreated:
		var p createdPayload
		if err := decodePayload(tag, payload, &p); err != nil {
			return err
		}
		resp.Item, resp.Index = p.Item, p.Index
	case KindItemRemoved:
		var p removedPayload
		if err := decodePayload(tag, payload, &p); err != nil {
			return err
		}
		resp.ID, resp.Index = p.ID, p.Index
	case KindItemRenamed:
		var p renamePayload
		if err := decodePayload(tag, payload, &p); err != nil {
			return err
		}
		resp.ID, resp.Name = p.ID, p.Name
	case KindItemCompleted:
		var p completePayload
		if err := decodePayload(tag, payload, &p); err != nil {
			return err
		}
		resp.ID, resp.Completed = p.ID, p.Completed
	default:
		return fmt.Errorf("unknown response variant %q", tag)
	}

	*r = resp
	return nil
}

// DecodeRequest 解碼一則客戶端訊息，失敗時回傳 INVALID_MESSAGE
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidMessage, "decode request")
	}
	return req, nil
}

// EncodeResponse 編碼一則伺服器事件
func EncodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

func tagged(tag string, payload any) ([]byte, error) {
	return json.Marshal(map[string]any{tag: payload})
}

// splitTagged 拆出標記與內容；單元變體（裸字串）的 payload 為 nil
func splitTagged(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil, fmt.Errorf("empty message")
	}

	if data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return "", nil, err
		}
		return tag, nil, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("expected exactly one variant tag, got %d", len(obj))
	}
	for tag, payload := range obj {
		return tag, payload, nil
	}
	return "", nil, fmt.Errorf("unreachable")
}

func decodePayload(tag string, payload json.RawMessage, v any) error {
	if payload == nil || isNull(payload) {
		return fmt.Errorf("%s: missing payload", tag)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%s: %w", tag, err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
