package signalk

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// SelfContext is the context of the own vessel.
const SelfContext = "vessels.self"

// Update is one flattened reading.
type Update struct {
	Path      string
	Value     any
	Source    string
	Timestamp time.Time
}

type delta struct {
	Context string        `mapstructure:"context"`
	Updates []deltaUpdate `mapstructure:"updates"`
}

type deltaUpdate struct {
	SourceRef string      `mapstructure:"$source"`
	Source    any         `mapstructure:"source"`
	Timestamp string      `mapstructure:"timestamp"`
	Values    []pathValue `mapstructure:"values"`
}

type pathValue struct {
	Path  string `mapstructure:"path"`
	Value any    `mapstructure:"value"`
}

// Parser decodes inbound Signal K messages for one vessel.
type Parser struct {
	selfContext string
}

// NewParser creates a parser accepting deltas for selfContext, which
// defaults to "vessels.self". The literal "vessels.self" and an empty
// context are always accepted.
func NewParser(selfContext string) *Parser {
	if selfContext == "" {
		selfContext = SelfContext
	}
	return &Parser{selfContext: selfContext}
}

func (p *Parser) isSelf(context string) bool {
	return context == "" || context == SelfContext || context == p.selfContext
}

// ParseDelta decodes a delta document into flat updates in document order.
func (p *Parser) ParseDelta(payload []byte) ([]Update, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	var d delta
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &d})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if !p.isSelf(d.Context) {
		return nil, fmt.Errorf("%w: %s", ErrForeignContext, d.Context)
	}

	var out []Update
	for _, u := range d.Updates {
		src := sourceLabel(u)
		ts := parseTimestamp(u.Timestamp)
		for _, v := range u.Values {
			if v.Path != "" && !ValidPath(v.Path) {
				continue
			}
			for _, f := range Flatten(v.Path, v.Value) {
				f.Source = src
				f.Timestamp = ts
				out = append(out, f)
			}
		}
	}
	return out, nil
}

// ParseValue decodes the payload of a per-path topic. The payload is a JSON
// value, or an object {"value": ..., "timestamp": ..., "$source": ...}.
func (p *Parser) ParseValue(path string, payload []byte) ([]Update, error) {
	if !ValidPath(path) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, path, err)
	}

	var (
		src string
		ts  time.Time
	)
	if m, ok := v.(map[string]any); ok && isEnvelope(m) {
		src, _ = m["$source"].(string)
		if s, ok := m["timestamp"].(string); ok {
			ts = parseTimestamp(s)
		}
		v = m["value"]
	}

	updates := Flatten(path, v)
	for i := range updates {
		updates[i].Source = src
		updates[i].Timestamp = ts
	}
	return updates, nil
}

// isEnvelope reports whether m is a value wrapped with its metadata.
func isEnvelope(m map[string]any) bool {
	if _, ok := m["value"]; !ok {
		return false
	}
	for k := range m {
		switch k {
		case "value", "timestamp", "$source", "source", "pgn", "sentence":
		default:
			return false
		}
	}
	return true
}

// Flatten expands object values into dotted sub-paths, ordered by path.
// Scalars (number, string, bool) are kept; arrays and nulls are dropped.
func Flatten(path string, value any) []Update {
	var out []Update
	flatten(path, value, &out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func flatten(path string, value any, out *[]Update) {
	switch v := value.(type) {
	case map[string]any:
		for k, sub := range v {
			if k == "" {
				continue
			}
			child := k
			if path != "" {
				child = path + "." + k
			}
			flatten(child, sub, out)
		}
	case float64, string, bool:
		if path != "" {
			*out = append(*out, Update{Path: path, Value: v})
		}
	}
}

// ValidPath reports whether path is a dotted path of non-empty segments.
func ValidPath(path string) bool {
	if path == "" {
		return false
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" || strings.ContainsAny(seg, "/ \t#+") {
			return false
		}
	}
	return true
}

func sourceLabel(u deltaUpdate) string {
	if u.SourceRef != "" {
		return u.SourceRef
	}
	if m, ok := u.Source.(map[string]any); ok {
		if l, ok := m["label"].(string); ok {
			return l
		}
	}
	if s, ok := u.Source.(string); ok {
		return s
	}
	return ""
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
