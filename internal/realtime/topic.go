package realtime

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Op is the kind of row change carried by a Change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
	// OpResync is emitted after the upstream feed reconnects; events may
	// have been missed and consumers should re-fetch.
	OpResync Op = "RESYNC"
)

// Realtime tables.
const (
	TableMessages  = "messages"
	TableReads     = "message_reads"
	TableReactions = "message_reactions"
)

// Change is a raw row change forwarded verbatim to handlers. A Partial change
// carries rows without their large columns; handlers that need them re-read
// the row.
type Change struct {
	Table   string          `json:"table"`
	Op      Op              `json:"op"`
	New     json.RawMessage `json:"new,omitempty"`
	Old     json.RawMessage `json:"old,omitempty"`
	Partial bool            `json:"partial,omitempty"`
}

// Topic identifies a feed: a table, an equality (or membership) filter on one
// column and an optional event-type filter.
type Topic struct {
	Table  string
	Column string
	Values []string
	Ops    []Op
}

// Eq builds a single-value topic.
func Eq(table, column, value string, ops ...Op) Topic {
	return Topic{Table: table, Column: column, Values: []string{value}, Ops: ops}
}

// In builds a membership topic.
func In(table, column string, values []string, ops ...Op) Topic {
	vals := append([]string(nil), values...)
	sort.Strings(vals)
	return Topic{Table: table, Column: column, Values: vals, Ops: ops}
}

// Key is the canonical identity of the topic.
func (t Topic) Key() string {
	var b strings.Builder
	b.WriteString(t.Table)
	b.WriteByte(':')
	b.WriteString(t.Column)
	if len(t.Values) == 1 {
		b.WriteString("=eq.")
		b.WriteString(t.Values[0])
	} else {
		vals := append([]string(nil), t.Values...)
		sort.Strings(vals)
		b.WriteString("=in.(")
		b.WriteString(strings.Join(vals, ","))
		b.WriteByte(')')
	}
	if len(t.Ops) > 0 {
		ops := make([]string, 0, len(t.Ops))
		for _, op := range t.Ops {
			ops = append(ops, string(op))
		}
		sort.Strings(ops)
		b.WriteString("?ops=")
		b.WriteString(strings.Join(ops, ","))
	}
	return b.String()
}

// Matches reports whether the change belongs to the topic.
func (t Topic) Matches(c Change) bool {
	if c.Table != t.Table {
		return false
	}
	if c.Op == OpResync {
		return true
	}
	if len(t.Ops) > 0 && !containsOp(t.Ops, c.Op) {
		return false
	}
	return t.rowMatches(c.New) || t.rowMatches(c.Old)
}

func (t Topic) rowMatches(row json.RawMessage) bool {
	if len(row) == 0 {
		return false
	}
	v := gjson.GetBytes(row, t.Column)
	if !v.Exists() {
		return false
	}
	s := v.String()
	for _, want := range t.Values {
		if s == want {
			return true
		}
	}
	return false
}

func containsOp(ops []Op, op Op) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}
