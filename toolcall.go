package relay

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ToolCallRecord is a complete tool call assembled from stream fragments.
// CallID is stable within one stream (synthesized when the vendor omits one),
// Index is the display ordinal assigned at first sight and never changed.
type ToolCallRecord struct {
	CallID   string `json:"call_id"`
	Name     string `json:"function_name"`
	ArgsJSON string `json:"arguments_json"`
	Index    int    `json:"index"`
}

// Accumulator merges incremental tool-call fragments into complete records.
// It is stream-scoped: create one per provider invocation. Not safe for
// concurrent use; streams are drained by a single goroutine.
type Accumulator struct {
	started    time.Time
	counter    int
	keyByIndex map[int]string
	records    map[string]*ToolCallRecord
	seen       []string
}

// NewAccumulator creates an empty accumulator for one stream.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		started:    time.Now(),
		keyByIndex: make(map[int]string),
		records:    make(map[string]*ToolCallRecord),
	}
}

// Apply merges one fragment and returns the record it landed in.
//
// Keying: the vendor-supplied call id wins when present. Fragments without an
// id join the record previously seen at the same index, or start a new record
// under a synthesized key built from the function name, stream start time and
// a monotonic counter, unique within this stream only. The function name is
// set by the first fragment that carries it and never overwritten.
func (a *Accumulator) Apply(frag ToolCallFragment) *ToolCallRecord {
	key := frag.CallID
	if key == "" {
		key = a.keyByIndex[frag.Index]
	}
	if key == "" {
		key = a.synthesizeKey(frag.Name)
	}

	rec, ok := a.records[key]
	if !ok {
		rec = &ToolCallRecord{CallID: key, Index: frag.Index}
		a.records[key] = rec
		a.seen = append(a.seen, key)
	}
	a.keyByIndex[frag.Index] = key

	if rec.Name == "" && frag.Name != "" {
		rec.Name = frag.Name
	}
	rec.ArgsJSON = MergeArguments(rec.ArgsJSON, frag.ArgsFragment)
	return rec
}

// Len reports the number of distinct calls seen so far.
func (a *Accumulator) Len() int { return len(a.records) }

// Records returns the frozen calls ordered by index (first-seen breaks ties).
func (a *Accumulator) Records() []ToolCallRecord {
	out := make([]ToolCallRecord, 0, len(a.seen))
	for _, key := range a.seen {
		out = append(out, *a.records[key])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (a *Accumulator) synthesizeKey(name string) string {
	if name == "" {
		name = "call"
	}
	key := fmt.Sprintf("%s_%d_%d", name, a.started.UnixMilli(), a.counter)
	a.counter++
	return key
}

// MergeArguments merges one argument fragment into the accumulated arguments.
// When both sides are complete JSON objects the fragment is shallow-merged
// key by key, last write wins; otherwise the fragment is concatenated (the
// string-fragment vendors split arbitrary byte runs across chunks).
func MergeArguments(existing, fragment string) string {
	if existing == "" {
		return fragment
	}
	if fragment == "" {
		return existing
	}
	if isJSONObject(existing) && isJSONObject(fragment) {
		merged := existing
		gjson.Parse(fragment).ForEach(func(key, value gjson.Result) bool {
			// Raw path so nested values keep their exact serialization.
			out, err := sjson.SetRaw(merged, escapePath(key.String()), value.Raw)
			if err == nil {
				merged = out
			}
			return true
		})
		return merged
	}
	return existing + fragment
}

func isJSONObject(s string) bool {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	return gjson.Valid(trimmed) && gjson.Parse(trimmed).IsObject()
}

// escapePath protects literal dots in argument keys from sjson path syntax.
func escapePath(key string) string {
	key = strings.ReplaceAll(key, "\\", "\\\\")
	key = strings.ReplaceAll(key, ".", "\\.")
	key = strings.ReplaceAll(key, "*", "\\*")
	key = strings.ReplaceAll(key, "?", "\\?")
	return key
}
