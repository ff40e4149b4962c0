package document

import (
	"time"
)

const (
	CastValue    = "value"
	CastRaw      = "raw"
	CastLong     = "long"
	CastDouble   = "double"
	CastBoolean  = "boolean"
	CastDate     = "date"
	CastDatetime = "datetime"
	CastTime     = "time"
)

// AllCasts lists every meta cast in the order they are produced.
var AllCasts = []string{CastValue, CastRaw, CastLong, CastDouble, CastBoolean, CastDate, CastDatetime, CastTime}

// Post is the document sent to the engine for one content record.
type Post struct {
	ID           int64                  `json:"post_id"`
	Author       *Author                `json:"post_author,omitempty"`
	Date         *Date                  `json:"post_date,omitempty"`
	DateGMT      *Date                  `json:"post_date_gmt,omitempty"`
	Modified     *Date                  `json:"post_modified,omitempty"`
	ModifiedGMT  *Date                  `json:"post_modified_gmt,omitempty"`
	Title        string                 `json:"post_title"`
	Excerpt      string                 `json:"post_excerpt"`
	Content      string                 `json:"post_content"`
	Status       string                 `json:"post_status"`
	ParentStatus string                 `json:"parent_status,omitempty"`
	Parent       int64                  `json:"post_parent"`
	Type         string                 `json:"post_type"`
	Name         string                 `json:"post_name"`
	MimeType     string                 `json:"post_mime_type"`
	MenuOrder    int                    `json:"menu_order"`
	CommentCount int                    `json:"comment_count"`
	Permalink    string                 `json:"permalink,omitempty"`
	Terms        map[string][]Term      `json:"terms"`
	Meta         map[string][]MetaValue `json:"post_meta"`
}

type Author struct {
	UserID      int64  `json:"user_id"`
	Login       string `json:"login,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Nicename    string `json:"user_nicename,omitempty"`
}

type Term struct {
	TermID int64  `json:"term_id"`
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Parent int64  `json:"parent"`
}

// MetaValue holds one meta value cast to each of its declared types. A cast
// that does not apply to the value is left nil and omitted from the document.
type MetaValue struct {
	Value    *string  `json:"value,omitempty"`
	Raw      *string  `json:"raw,omitempty"`
	Long     *int64   `json:"long,omitempty"`
	Double   *float64 `json:"double,omitempty"`
	Boolean  *bool    `json:"boolean,omitempty"`
	Date     *string  `json:"date,omitempty"`
	Datetime *string  `json:"datetime,omitempty"`
	Time     *string  `json:"time,omitempty"`
}

func (v MetaValue) isEmpty() bool {
	return v.Value == nil && v.Raw == nil && v.Long == nil && v.Double == nil &&
		v.Boolean == nil && v.Date == nil && v.Datetime == nil && v.Time == nil
}

// Date is a timestamp broken into the parts the engine sorts, filters and
// aggregates on.
type Date struct {
	Date            string `json:"date"`
	Year            int    `json:"year"`
	Month           int    `json:"month"`
	Day             int    `json:"day"`
	Hour            int    `json:"hour"`
	Minute          int    `json:"minute"`
	Second          int    `json:"second"`
	Week            int    `json:"week"`
	DayOfWeek       int    `json:"day_of_week"`
	DayOfYear       int    `json:"day_of_year"`
	SecondsFromDay  int    `json:"seconds_from_day"`
	SecondsFromHour int    `json:"seconds_from_hour"`
}

const DateLayout = "2006-01-02 15:04:05"

// NewDate decomposes t. It returns nil for the zero time.
func NewDate(t time.Time) *Date {
	if t.IsZero() {
		return nil
	}

	_, week := t.ISOWeek()
	dayOfWeek := int(t.Weekday())
	if dayOfWeek == 0 {
		dayOfWeek = 7
	}

	return &Date{
		Date:            t.Format(DateLayout),
		Year:            t.Year(),
		Month:           int(t.Month()),
		Day:             t.Day(),
		Hour:            t.Hour(),
		Minute:          t.Minute(),
		Second:          t.Second(),
		Week:            week,
		DayOfWeek:       dayOfWeek,
		DayOfYear:       t.YearDay() - 1,
		SecondsFromDay:  t.Hour()*3600 + t.Minute()*60 + t.Second(),
		SecondsFromHour: t.Minute()*60 + t.Second(),
	}
}

// Time parses the date string back. The location is the one the date was
// decomposed in.
func (d *Date) Time(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, d.Date, loc)
}
