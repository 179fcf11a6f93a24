package moderation

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// CategoryNone marks content that was not flagged.
const CategoryNone = "none"

// Outcome tells whether a classifier reply could be read.
type Outcome int

const (
	Parsed Outcome = iota
	Malformed
)

func (o Outcome) String() string {
	if o == Malformed {
		return "malformed"
	}
	return "parsed"
}

// BatchResult holds one verdict per input position.
type BatchResult struct {
	Outcome  Outcome
	Verdicts []Verdict
}

func passAll(n int) []Verdict {
	out := make([]Verdict, n)
	for i := range out {
		out[i] = Verdict{Passed: true, Category: CategoryNone}
	}
	return out
}

// ParseBatchReply reads a reply covering items numbered 1..n. Items are
// matched by their declared id; a later duplicate id overwrites an earlier
// one, and ids the reply does not mention pass. A reply that is not a JSON
// array is Malformed and every item passes.
func ParseBatchReply(text string, n int) BatchResult {
	raw, ok := decodeArray(stripFence(text))
	if !ok {
		return BatchResult{Outcome: Malformed, Verdicts: passAll(n)}
	}

	byID := make(map[int]Verdict, len(raw))
	for _, el := range raw {
		obj, ok := el.(map[string]interface{})
		if !ok {
			continue
		}
		id, ok := itemID(obj["id"])
		if !ok {
			continue
		}
		v := Verdict{Passed: true, Category: CategoryNone}
		if p, ok := obj["passed"].(bool); ok {
			v.Passed = p
		}
		if c, ok := obj["category"].(string); ok {
			v.Category = c
		}
		if r, ok := obj["reason"].(string); ok {
			v.Reason = r
		}
		byID[id] = v
	}

	verdicts := passAll(n)
	for i := range verdicts {
		if v, ok := byID[i+1]; ok {
			verdicts[i] = v
		}
	}
	return BatchResult{Outcome: Parsed, Verdicts: verdicts}
}

// stripFence removes a surrounding ``` block and its optional json tag.
func stripFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = s[3:]
	if end := strings.Index(s, "```"); end >= 0 {
		s = s[:end]
	}
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(s)
}

func decodeArray(s string) ([]interface{}, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	arr, ok := v.([]interface{})
	return arr, ok
}

func itemID(v interface{}) (int, bool) {
	switch id := v.(type) {
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return int(n), true
		}
		if f, err := id.Float64(); err == nil {
			return int(f), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(id)); err == nil {
			return n, true
		}
	}
	return 0, false
}
