package poller

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/PetoAdam/lorawatch/internal/model"
)

// Decode turns a poll payload into a deduplicated collection. A payload that
// is valid JSON but not an array yields an empty collection. Elements that
// are not objects, fail to decode or carry no device id are skipped and
// counted. When a device id repeats, the later element replaces the earlier
// one in place.
func Decode(payload []byte) (nodes []model.NodeSnapshot, skipped int, err error) {
	trimmed := bytes.TrimSpace(payload)
	if !json.Valid(trimmed) {
		return nil, 0, fmt.Errorf("decode poll payload: invalid json")
	}
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return []model.NodeSnapshot{}, 0, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, 0, fmt.Errorf("decode poll payload: %w", err)
	}

	nodes = make([]model.NodeSnapshot, 0, len(elems))
	index := make(map[string]int, len(elems))
	for _, raw := range elems {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			skipped++
			continue
		}
		var n model.NodeSnapshot
		if err := json.Unmarshal(raw, &n); err != nil || n.DeviceID == "" {
			skipped++
			continue
		}
		if i, ok := index[n.DeviceID]; ok {
			nodes[i] = n
			continue
		}
		index[n.DeviceID] = len(nodes)
		nodes = append(nodes, n)
	}
	return nodes, skipped, nil
}
