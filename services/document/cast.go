package document

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/araddon/dateparse"
)

const maxDateInputLength = 255

type scalar struct {
	text      string
	number    float64
	isNumeric bool
	isBool    bool
	boolean   bool
	isNil     bool
}

// toScalar normalizes a meta value. ok is false for values with no scalar
// form (maps, slices, nested documents).
func toScalar(value any) (scalar, bool) {
	switch v := value.(type) {
	case nil:
		return scalar{isNil: true}, true
	case string:
		s := scalar{text: v}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && strings.TrimSpace(v) != "" {
			s.number = f
			s.isNumeric = true
		}
		return s, true
	case []byte:
		return toScalar(string(v))
	case json.Number:
		return toScalar(v.String())
	case bool:
		return scalar{text: strconv.FormatBool(v), isBool: true, boolean: v}, true
	case float64:
		return numericScalar(strconv.FormatFloat(v, 'f', -1, 64), v), true
	case float32:
		return numericScalar(strconv.FormatFloat(float64(v), 'f', -1, 32), float64(v)), true
	case int:
		return numericScalar(strconv.Itoa(v), float64(v)), true
	case int8:
		return numericScalar(strconv.FormatInt(int64(v), 10), float64(v)), true
	case int16:
		return numericScalar(strconv.FormatInt(int64(v), 10), float64(v)), true
	case int32:
		return numericScalar(strconv.FormatInt(int64(v), 10), float64(v)), true
	case int64:
		return numericScalar(strconv.FormatInt(v, 10), float64(v)), true
	case uint:
		return numericScalar(strconv.FormatUint(uint64(v), 10), float64(v)), true
	case uint32:
		return numericScalar(strconv.FormatUint(uint64(v), 10), float64(v)), true
	case uint64:
		return numericScalar(strconv.FormatUint(v, 10), float64(v)), true
	default:
		return scalar{}, false
	}
}

func numericScalar(text string, number float64) scalar {
	return scalar{text: text, number: number, isNumeric: true}
}

// castMeta casts one raw meta value to each requested type. Casts that do not
// apply are left unset.
func (m *Mapper) castMeta(value any, types []string) MetaValue {
	var result MetaValue

	s, ok := toScalar(value)
	if !ok {
		return result
	}

	// parsed once, shared by the date, datetime and time casts
	var when time.Time
	var parsed, hasTime bool

	for _, castType := range types {
		switch castType {
		case CastValue:
			if !s.isNil {
				wrapped := limitWordLength(s.text, m.tokenLimit)
				result.Value = &wrapped
			}
		case CastRaw:
			if !s.isNil {
				raw := truncate(s.text, m.stringLimit)
				result.Raw = &raw
			}
		case CastLong:
			if s.isNumeric && isFinite(s.number) && fitsInt64(s.number) {
				long := int64(math.Trunc(s.number))
				result.Long = &long
			}
		case CastDouble:
			if s.isNumeric && isFinite(s.number) {
				double := s.number
				result.Double = &double
			}
		case CastBoolean:
			boolean := castBoolean(s)
			result.Boolean = &boolean
		case CastDate, CastDatetime, CastTime:
			if s.isNil {
				continue
			}
			if !parsed {
				parsed = true
				when, hasTime = castTime(s)
			}
			if !hasTime {
				continue
			}
			switch castType {
			case CastDate:
				date := when.Format("2006-01-02")
				result.Date = &date
			case CastDatetime:
				datetime := when.Format(DateLayout)
				result.Datetime = &datetime
			case CastTime:
				clock := when.Format("15:04:05")
				result.Time = &clock
			}
		}
	}

	return result
}

// castBoolean treats "false" in any case, the empty string, zero and nil as
// false. Everything else is true.
func castBoolean(s scalar) bool {
	switch {
	case s.isNil:
		return false
	case s.isBool:
		return s.boolean
	case strings.EqualFold(strings.TrimSpace(s.text), "false"):
		return false
	case s.text == "":
		return false
	case s.isNumeric:
		return s.number != 0
	default:
		return true
	}
}

// castTime interprets integers as epoch seconds and anything else as a
// calendar string.
func castTime(s scalar) (time.Time, bool) {
	text := strings.TrimSpace(s.text)
	if text == "" || len(text) > maxDateInputLength {
		return time.Time{}, false
	}

	if s.isNumeric && isFinite(s.number) && s.number == math.Trunc(s.number) {
		return time.Unix(int64(s.number), 0).UTC(), true
	}

	t, err := dateparse.ParseIn(text, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// fitsInt64 reports whether f truncates to a value int64 can hold. 2^63 itself
// is out of range.
func fitsInt64(f float64) bool {
	return f >= -9223372036854775808.0 && f < 9223372036854775808.0
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// limitWordLength breaks any whitespace-delimited token longer than limit
// runes by inserting spaces. Text with no such token is returned unchanged.
func limitWordLength(text string, limit int) string {
	if limit <= 0 || !hasLongToken(text, limit) {
		return text
	}

	var b strings.Builder
	b.Grow(len(text) + len(text)/limit)
	run := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			run = 0
			b.WriteRune(r)
			continue
		}
		if run == limit {
			b.WriteByte(' ')
			run = 0
		}
		b.WriteRune(r)
		run++
	}
	return b.String()
}

func hasLongToken(text string, limit int) bool {
	if len(text) <= limit {
		return false
	}
	for _, token := range strings.Fields(text) {
		if utf8.RuneCountInString(token) > limit {
			return true
		}
	}
	return false
}

// truncate cuts text to at most limit runes.
func truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	count := 0
	for i := range text {
		if count == limit {
			return text[:i]
		}
		count++
	}
	return text
}
