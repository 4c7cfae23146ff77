package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vango-dev/uisync/pkg/connector"
)

// Value type tags of the [tag, value] legacy value encoding.
const (
	TagString      = "s"
	TagBoolean     = "b"
	TagInteger     = "i"
	TagLong        = "l"
	TagFloat       = "f"
	TagDouble      = "d"
	TagConnector   = "c"
	TagStringArray = "S"
	TagArray       = "a"
	TagList        = "L"
	TagSet         = "q"
	TagMap         = "m"
	TagNull        = "n"
)

// DecodeValue decodes a tagged legacy value. A connector reference resolves
// through tracker and becomes nil when the connector is unknown. Untagged
// JSON is decoded as is.
func DecodeValue(raw json.RawMessage, tracker *connector.Tracker) (any, error) {
	var pair []json.RawMessage
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' || json.Unmarshal(trimmed, &pair) != nil || len(pair) != 2 {
		return decodePlain(trimmed)
	}
	var tag string
	if err := json.Unmarshal(pair[0], &tag); err != nil || len(tag) != 1 {
		return decodePlain(trimmed)
	}
	return decodeTagged(tag, pair[1], tracker)
}

func decodePlain(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

func decodeTagged(tag string, raw json.RawMessage, tracker *connector.Tracker) (any, error) {
	switch tag {
	case TagNull:
		return nil, nil
	case TagString:
		return unmarshalAs[string](raw)
	case TagBoolean:
		return unmarshalAs[bool](raw)
	case TagInteger:
		return unmarshalAs[int](raw)
	case TagLong:
		return unmarshalAs[int64](raw)
	case TagFloat:
		return unmarshalAs[float32](raw)
	case TagDouble:
		return unmarshalAs[float64](raw)
	case TagStringArray:
		return unmarshalAs[[]string](raw)
	case TagConnector:
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", tag, err)
		}
		if tracker == nil {
			return nil, nil
		}
		if c := tracker.Get(id); c != nil {
			return c, nil
		}
		return nil, nil
	case TagArray, TagList, TagSet:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", tag, err)
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			v, err := DecodeValue(item, tracker)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case TagMap:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode map value: %w", err)
		}
		out := make(map[string]any, len(fields))
		for k, item := range fields {
			v, err := DecodeValue(item, tracker)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("decode value: unknown type tag %q", tag)
	}
}

func unmarshalAs[T any](raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}
