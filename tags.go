package orcatrace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

type tagType int

const (
	stringTag tagType = iota
	uint64Tag
	doubleTag
	boolTag
)

// TagValue holds one typed tag value. Instances are constructed via
// StringTag, Uint64Tag, DoubleTag and BoolTag; values are copied, never
// referenced.
type TagValue struct {
	key        Tag
	stringVal  string
	numericVal uint64
	typ        tagType
}

// StringTag builds a string-valued tag.
func StringTag(key Tag, val string) TagValue {
	return TagValue{key: key, typ: stringTag, stringVal: val}
}

// Uint64Tag builds an unsigned-integer-valued tag.
func Uint64Tag(key Tag, val uint64) TagValue {
	return TagValue{key: key, typ: uint64Tag, numericVal: val}
}

// DoubleTag builds a double-valued tag.
func DoubleTag(key Tag, val float64) TagValue {
	return TagValue{key: key, typ: doubleTag, numericVal: math.Float64bits(val)}
}

// BoolTag builds a boolean-valued tag.
func BoolTag(key Tag, val bool) TagValue {
	var n uint64
	if val {
		n = 1
	}
	return TagValue{key: key, typ: boolTag, numericVal: n}
}

// Key returns the tag's key.
func (v TagValue) Key() Tag {
	return v.key
}

// Value returns the tag's value as interface{}.
func (v TagValue) Value() interface{} {
	switch v.typ {
	case stringTag:
		return v.stringVal
	case uint64Tag:
		return v.numericVal
	case doubleTag:
		return math.Float64frombits(v.numericVal)
	case boolTag:
		return v.numericVal != 0
	default:
		return nil
	}
}

// String returns a string representation of the key and value.
func (v TagValue) String() string {
	return fmt.Sprint(v.key, ": ", v.Value())
}

// TagTable is an ordered mapping from tag key to a typed value. Keys are
// unique with last-write-wins semantics; a rewritten key keeps its original
// position so serialization stays deterministic.
//
// A TagTable is owned by exactly one span and is NOT safe for concurrent
// mutation.
type TagTable struct {
	index   map[Tag]int
	ordered []TagValue
}

// NewTagTable creates an empty tag table.
func NewTagTable() *TagTable {
	return &TagTable{index: make(map[Tag]int)}
}

// Set upserts a tag value. Empty keys are dropped.
func (t *TagTable) Set(v TagValue) {
	if v.key == "" {
		return
	}
	if i, ok := t.index[v.key]; ok {
		t.ordered[i] = v
		return
	}
	t.index[v.key] = len(t.ordered)
	t.ordered = append(t.ordered, v)
}

// Get returns the value stored under key, reporting whether it exists.
func (t *TagTable) Get(key Tag) (TagValue, bool) {
	if t == nil {
		return TagValue{}, false
	}
	i, ok := t.index[key]
	if !ok {
		return TagValue{}, false
	}
	return t.ordered[i], true
}

// Len returns the number of stored tags.
func (t *TagTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.ordered)
}

// Values returns the stored tags in insertion order. The returned slice is
// a copy and safe to retain.
func (t *TagTable) Values() []TagValue {
	if t == nil || len(t.ordered) == 0 {
		return nil
	}
	out := make([]TagValue, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// Snapshot returns a detached key/value view of the table, suitable for
// retention after the owning span is gone.
func (t *TagTable) Snapshot() map[Tag]interface{} {
	if t == nil || len(t.ordered) == 0 {
		return nil
	}
	out := make(map[Tag]interface{}, len(t.ordered))
	for _, v := range t.ordered {
		out[v.key] = v.Value()
	}
	return out
}

// MarshalJSON serializes the table as a JSON object in insertion order.
func (t *TagTable) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range t.ordered {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(v.key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(v.Value())
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
