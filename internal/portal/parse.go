package portal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/example/tcfbot/internal/domain"
	"github.com/example/tcfbot/internal/internaltypes"
)

var defaultEvents = regexp.MustCompile(`(?s)defaultEvents\s*=\s*(\[.*?\])\s*;`)

type rawEvent struct {
	UID         flexString `json:"uid"`
	Title       flexString `json:"title"`
	Start       flexString `json:"start"`
	Price       flexString `json:"price"`
	AntennaID   flexInt    `json:"antenna_id"`
	AntennaName flexString `json:"antenna_name"`
	Local       flexString `json:"local"`
	Status      flexInt    `json:"status"`
	Full        flexInt    `json:"full"`
}

// ParseEvents extracts the calendar's event literal from the exams page and
// keeps the events held at antenna. A page without the literal, or one that
// does not decode, is an ErrFetch; an empty literal yields no events.
func ParseEvents(page string, antenna int) ([]domain.Event, error) {
	m := defaultEvents.FindStringSubmatch(html.UnescapeString(page))
	if m == nil {
		return nil, fmt.Errorf("%w: events literal not found", internaltypes.ErrFetch)
	}

	var raw []rawEvent
	if err := decodeLiteral(m[1], &raw); err != nil {
		return nil, fmt.Errorf("%w: events literal: %v", internaltypes.ErrFetch, err)
	}

	var out []domain.Event
	for _, r := range raw {
		if r.UID == "" {
			continue
		}
		ev := domain.Event{
			UID:         string(r.UID),
			Title:       strings.TrimSpace(string(r.Title)),
			StartDate:   string(r.Start),
			Price:       string(r.Price),
			AntennaID:   int(r.AntennaID),
			AntennaName: string(r.AntennaName),
			Local:       string(r.Local),
			Status:      int(r.Status),
			Full:        int(r.Full),
		}.WithDefaults()
		if ev.AntennaID != antenna {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// decodeLiteral reads a JavaScript array literal. Keys are quoted and trailing
// commas dropped, then YAML flow syntax takes care of single-quoted values
// before the tree is re-encoded as JSON into the typed target.
func decodeLiteral(literal string, v any) error {
	literal = quoteKeys(literal)

	var tree any
	if err := yaml.Unmarshal([]byte(literal), &tree); err != nil {
		return fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(normalize(tree))
	if err != nil {
		return fmt.Errorf("yaml->json marshal: %w", err)
	}
	return json.Unmarshal(j, v)
}

// quoteKeys rewrites a JavaScript literal into YAML flow syntax: bare object
// keys get double quotes and trailing commas go away. Quoted strings are
// copied untouched.
func quoteKeys(src string) string {
	var b strings.Builder
	b.Grow(len(src) + len(src)/4)

	// last significant byte written outside a string
	prev := byte(0)
	for i := 0; i < len(src); i++ {
		ch := src[i]
		switch {
		case ch == '"' || ch == '\'':
			end := stringEnd(src, i)
			b.WriteString(src[i:end])
			i = end - 1
			prev = ch
		case ch == ',':
			if next := nextSignificant(src, i+1); next == '}' || next == ']' {
				continue
			}
			b.WriteByte(ch)
			prev = ch
		case isIdentStart(ch) && (prev == '{' || prev == ','):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			k := j
			for k < len(src) && isSpace(src[k]) {
				k++
			}
			if k < len(src) && src[k] == ':' {
				b.WriteString(`"` + src[i:j] + `":`)
				i = k
				prev = ':'
				continue
			}
			b.WriteString(src[i:j])
			i = j - 1
			prev = src[j-1]
		default:
			b.WriteByte(ch)
			if !isSpace(ch) {
				prev = ch
			}
		}
	}
	return b.String()
}

// stringEnd returns the index just past the string literal opening at i.
func stringEnd(src string, i int) int {
	quote := src[i]
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		}
	}
	return len(src)
}

func nextSignificant(src string, i int) byte {
	for ; i < len(src); i++ {
		if !isSpace(src[i]) {
			return src[i]
		}
	}
	return 0
}

func isSpace(ch byte) bool { return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' }

func isIdentStart(ch byte) bool {
	return ch == '_' || ch == '$' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool { return isIdentStart(ch) || (ch >= '0' && ch <= '9') }

// normalize makes every map key a string and keeps dates as text so the tree
// can be JSON-marshaled.
func normalize(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalize(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalize(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	case time.Time:
		return x.Format("2006-01-02")
	default:
		return in
	}
}

// flexString accepts JSON strings, numbers and booleans.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(b)
	return nil
}

// flexInt accepts numbers, numeric strings and booleans.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	var fs flexString
	if err := fs.UnmarshalJSON(b); err != nil {
		return err
	}
	v := strings.TrimSpace(string(fs))
	switch v {
	case "", "null":
		*n = 0
		return nil
	case "true":
		*n = 1
		return nil
	case "false":
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", v)
	}
	*n = flexInt(f)
	return nil
}

// flexBool accepts booleans and 0/1 in either JSON type.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var n flexInt
	if err := n.UnmarshalJSON(b); err != nil {
		return err
	}
	*f = n != 0
	return nil
}
