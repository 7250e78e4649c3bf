package persist

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/koopa0/system-design/14-shared-list/internal/protocol"
	apperrors "github.com/koopa0/system-design/14-shared-list/pkg/errors"
)

// VersionV1 目前唯一支援的快照版本標籤
const VersionV1 = "V1"

// snapshotV1 V1 快照內容；陣列順序即清單順序
type snapshotV1 struct {
	Items []protocol.Item `json:"items"`
}

// Encode 將項目序列編碼為版本信封 {"V1":{"items":[...]}}
func Encode(items []protocol.Item) ([]byte, error) {
	if items == nil {
		items = []protocol.Item{}
	}
	return json.Marshal(map[string]snapshotV1{VersionV1: {Items: items}})
}

// Decode 解析版本信封
//
// 錯誤分類：
//   - 無法解析或結構錯誤 → CORRUPT_SNAPSHOT
//   - 版本標籤不認得 → UNSUPPORTED_VERSION
//
// 兩者在啟動時都是致命錯誤。
func Decode(data []byte) ([]protocol.Item, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeCorruptSnapshot, "decode snapshot envelope")
	}

	if len(envelope) != 1 {
		return nil, apperrors.Wrap(
			fmt.Errorf("envelope has %d version tags, want 1", len(envelope)),
			apperrors.ErrCodeCorruptSnapshot, "decode snapshot envelope")
	}

	var (
		version string
		body    json.RawMessage
	)
	for version, body = range envelope {
		// 只有一個鍵
	}

	if version != VersionV1 {
		return nil, apperrors.ErrUnsupportedVersion.WithDetails(version)
	}

	var snap snapshotV1
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeCorruptSnapshot, "decode V1 snapshot")
	}
	if snap.Items == nil {
		return nil, apperrors.Wrap(errors.New(`missing "items"`), apperrors.ErrCodeCorruptSnapshot, "decode V1 snapshot")
	}
	return snap.Items, nil
}
