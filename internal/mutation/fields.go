package mutation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"schedulers.app/internal/auth"
)

// Kind is the value type a mutable field accepts.
type Kind int

const (
	Text Kind = iota
	Integer
	Decimal
	Boolean
	Date
	Clock
	Enum
	Username
	Email
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Integer:
		return "integer"
	case Decimal:
		return "decimal"
	case Boolean:
		return "boolean"
	case Date:
		return "date"
	case Clock:
		return "time"
	case Enum:
		return "enum"
	case Username:
		return "username"
	case Email:
		return "email"
	}
	return "unknown"
}

// Field describes how one column may be written.
type Field struct {
	Kind     Kind
	MaxLen   int
	Min, Max float64
	Bounded  bool
	Values   []string
	Nullable bool
	// Required rejects empty text even when Nullable is false.
	Required bool
}

// Fields is an entity allow-list keyed by column name.
type Fields map[string]Field

// Names returns the allowed columns in sorted order.
func (f Fields) Names() []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TextField(maxLen int) Field { return Field{Kind: Text, MaxLen: maxLen, Nullable: true} }

// RequiredText rejects empty strings and null.
func RequiredText(maxLen int) Field { return Field{Kind: Text, MaxLen: maxLen, Required: true} }

// UsernameField and EmailField apply the same rules as account creation.
func UsernameField() Field { return Field{Kind: Username, Required: true} }
func EmailField() Field    { return Field{Kind: Email, Required: true} }

func IntField(lo, hi int) Field {
	return Field{Kind: Integer, Min: float64(lo), Max: float64(hi), Bounded: true}
}

func DecimalField(lo, hi float64) Field {
	return Field{Kind: Decimal, Min: lo, Max: hi, Bounded: true, Nullable: true}
}

func BoolField() Field { return Field{Kind: Boolean} }
func DateField() Field { return Field{Kind: Date} }
func ClockField() Field { return Field{Kind: Clock, Nullable: true} }

func EnumField(values ...string) Field { return Field{Kind: Enum, Values: values} }

const (
	dateLayout = "2006-01-02"
	clockShort = "15:04"
	clockLong  = "15:04:05"
)

// Normalize validates v against f and returns the value to bind.
func (f Field) Normalize(name string, v any) (any, error) {
	if v == nil {
		if f.Nullable && !f.Required {
			return nil, nil
		}
		return nil, invalid(name, "must not be null")
	}
	switch f.Kind {
	case Text:
		s, ok := v.(string)
		if !ok {
			return nil, invalid(name, "must be a string")
		}
		s = Sanitize(s)
		if s == "" {
			if f.Required {
				return nil, invalid(name, "must not be empty")
			}
			if f.Nullable {
				return nil, nil
			}
		}
		if f.MaxLen > 0 && utf8.RuneCountInString(s) > f.MaxLen {
			return nil, invalid(name, fmt.Sprintf("must be at most %d characters", f.MaxLen))
		}
		return s, nil
	case Integer:
		n, err := toFloat(v)
		if err != nil || n != math.Trunc(n) {
			return nil, invalid(name, "must be an integer")
		}
		if err := f.checkBounds(name, n); err != nil {
			return nil, err
		}
		return int64(n), nil
	case Decimal:
		n, err := toFloat(v)
		if err != nil {
			return nil, invalid(name, "must be a number")
		}
		if err := f.checkBounds(name, n); err != nil {
			return nil, err
		}
		return n, nil
	case Boolean:
		b, err := toBool(v)
		if err != nil {
			return nil, invalid(name, "must be a boolean")
		}
		return b, nil
	case Date:
		s, ok := v.(string)
		if !ok {
			return nil, invalid(name, "must be a date (YYYY-MM-DD)")
		}
		d, err := time.Parse(dateLayout, strings.TrimSpace(s))
		if err != nil {
			return nil, invalid(name, "must be a date (YYYY-MM-DD)")
		}
		return d.Format(dateLayout), nil
	case Clock:
		s, ok := v.(string)
		if !ok {
			return nil, invalid(name, "must be a time (HH:MM)")
		}
		s = strings.TrimSpace(s)
		t, err := time.Parse(clockShort, s)
		if err != nil {
			if t, err = time.Parse(clockLong, s); err != nil {
				return nil, invalid(name, "must be a time (HH:MM)")
			}
		}
		return t.Format(clockShort), nil
	case Enum:
		s, ok := v.(string)
		if !ok {
			return nil, invalid(name, "must be a string")
		}
		s = strings.ToLower(strings.TrimSpace(s))
		for _, allowed := range f.Values {
			if s == allowed {
				return s, nil
			}
		}
		return nil, invalid(name, "must be one of "+strings.Join(f.Values, ", "))
	case Username, Email:
		s, ok := v.(string)
		if !ok {
			return nil, invalid(name, "must be a string")
		}
		check := auth.ValidateUsername
		if f.Kind == Email {
			check = auth.ValidateEmail
		}
		return check(Sanitize(s))
	}
	return nil, invalid(name, "has an unsupported kind")
}

func (f Field) checkBounds(name string, n float64) error {
	if !f.Bounded {
		return nil
	}
	if n < f.Min || n > f.Max {
		return invalid(name, fmt.Sprintf("must be between %s and %s", fmtNum(f.Min), fmtNum(f.Max)))
	}
	return nil
}

func invalid(name, msg string) error {
	return fmt.Errorf("%w: %s %s", auth.ErrInvalidInput, name, msg)
}

func fmtNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func toFloat(v any) (float64, error) {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case float32:
		n = float64(t)
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, err
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, err
		}
		n = f
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("not finite")
	}
	return n, nil
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case float64:
		if t == 0 || t == 1 {
			return t == 1, nil
		}
	case int:
		if t == 0 || t == 1 {
			return t == 1, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
	}
	return false, fmt.Errorf("not a boolean")
}

// Sanitize strips control characters (keeping newline and tab) and angle
// brackets, then trims surrounding space.
func Sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '<' || r == '>':
			return -1
		case r == '\n' || r == '\t':
			return r
		case unicode.IsControl(r):
			return -1
		case r == utf8.RuneError:
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
