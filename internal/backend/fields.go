package backend

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Fields is the content of a document.
type Fields map[string]any

// Document is a stored record.
type Document struct {
	ID     string `json:"id"`
	Fields Fields `json:"fields"`
}

type serverTimestamp struct{}

// ServerTimestamp is a field value the store replaces with its own clock at
// write time.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// TimeLayout is the text encoding used for timestamps. It is fixed width so
// that encoded values sort in time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime encodes t with TimeLayout in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Resolve returns a copy of f with every ServerTimestamp replaced by now.
func (f Fields) Resolve(now time.Time) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if IsServerTimestamp(v) {
			out[k] = now.UTC()
			continue
		}
		out[k] = v
	}
	return out
}

// SplitServerTimestamps returns f without its ServerTimestamp values and the
// sorted names of the fields that held them. Stores that keep their own clock
// use it to fill those fields in at write time.
func (f Fields) SplitServerTimestamps() (Fields, []string) {
	out := make(Fields, len(f))
	var stamped []string
	for k, v := range f {
		if IsServerTimestamp(v) {
			stamped = append(stamped, k)
			continue
		}
		out[k] = v
	}
	sort.Strings(stamped)
	return out, stamped
}

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// String returns the field as a string, or "" when absent.
func (f Fields) String(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return FormatTime(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Time returns the field as a time. Strings in RFC 3339 form and unix
// milliseconds are accepted. ok is false when the field is absent or
// unparsable.
func (f Fields) Time(key string) (time.Time, bool) {
	switch v := f[key].(type) {
	case time.Time:
		return v.UTC(), true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return v.UTC(), true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case float64:
		return time.UnixMilli(int64(v)).UTC(), true
	case int64:
		return time.UnixMilli(v).UTC(), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(n).UTC(), true
	default:
		return time.Time{}, false
	}
}

// sortKey renders a value so that string comparison matches value order for
// the types documents carry.
func sortKey(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		return FormatTime(x)
	case string:
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return FormatTime(t)
		}
		return x
	case int:
		return fmt.Sprintf("%020d", x)
	case int64:
		return fmt.Sprintf("%020d", x)
	case float64:
		return strconv.FormatFloat(x, 'f', 6, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Encode converts fields into JSON-friendly values: times become TimeLayout
// strings.
func (f Fields) Encode() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		switch x := v.(type) {
		case time.Time:
			out[k] = FormatTime(x)
		default:
			out[k] = x
		}
	}
	return out
}
