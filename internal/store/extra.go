package store

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
)

// extraFields holds JSON members a type does not model, so a whole-file
// rewrite keeps what an admin or an older tool put there.
type extraFields map[string]json.RawMessage

func decodeWithExtra(data []byte, target any) (extraFields, error) {
	if err := json.Unmarshal(data, target); err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, name := range jsonFieldNames(reflect.TypeOf(target).Elem()) {
		delete(all, name)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// encodeWithExtra appends unknown members after the modelled ones, sorted by key.
func encodeWithExtra(known any, extra extraFields) ([]byte, error) {
	encoded, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return encoded, nil
	}
	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(encoded[:len(encoded)-1])
	needComma := len(bytes.TrimSpace(encoded)) > 2
	for _, key := range keys {
		if needComma {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(extra[key])
		needComma = true
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func jsonFieldNames(t reflect.Type) []string {
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = field.Name
		}
		names = append(names, name)
	}
	return names
}
