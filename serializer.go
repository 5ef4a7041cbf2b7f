package jobqueue

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Serializer converts job payloads to and from the text blob stored on a
// job row. The default is JSONSerializer; callers may supply their own via
// Config.Serializer.
type Serializer interface {
	Serialize(v any) (string, error)
	Deserialize(data string, v any) error
}

// JSONSerializer is the default Serializer: encoding/json in, encoding/json
// out. No canonical-JSON library appears anywhere in the retrieved corpus,
// so this is a deliberate standard-library choice rather than an omission.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (JSONSerializer) Deserialize(data string, v any) error {
	return json.Unmarshal([]byte(data), v)
}

// SortedPairsSerializer serializes a map-like payload as a JSON array of
// [key, value] pairs ordered by ascending key, e.g. {"b":2,"a":1,"c":3}
// becomes `[["a",1],["b",2],["c",3]]`. It demonstrates that Add's payload
// shape is entirely up to the configured Serializer.
type SortedPairsSerializer struct{}

func (SortedPairsSerializer) Serialize(v any) (string, error) {
	m, err := toStringMap(v)
	if err != nil {
		return "", fmt.Errorf("sorted pairs serializer: %w", err)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([][2]any, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]any{k, m[k]})
	}

	b, err := json.Marshal(pairs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (SortedPairsSerializer) Deserialize(data string, v any) error {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return fmt.Errorf("sorted pairs serializer: %w", err)
	}

	m := make(map[string]any, len(raw))
	for _, pairRaw := range raw {
		var pair []json.RawMessage
		if err := json.Unmarshal(pairRaw, &pair); err != nil || len(pair) != 2 {
			return fmt.Errorf("sorted pairs serializer: malformed pair %q", pairRaw)
		}
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return fmt.Errorf("sorted pairs serializer: pair key: %w", err)
		}
		var val any
		if err := json.Unmarshal(pair[1], &val); err != nil {
			return fmt.Errorf("sorted pairs serializer: pair value: %w", err)
		}
		m[key] = val
	}

	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func toStringMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return m, nil
}
