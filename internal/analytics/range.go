package analytics

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidQuery marks a bad date range or granularity.
var ErrInvalidQuery = errors.New("invalid query")

const (
	dateLayout  = "2006-01-02"
	defaultSpan = 30 * 24 * time.Hour
	oneDay      = 24 * time.Hour
)

// Range is a set of whole UTC days. End is exclusive: the midnight after
// the last day.
type Range struct {
	Start time.Time
	End   time.Time
}

type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ParseRange builds a Range from optional ISO dates. endDate defaults to
// today and startDate to thirty days before endDate.
func ParseRange(startDate, endDate string, now time.Time) (Range, error) {
	end := truncateDay(now)
	if endDate != "" {
		t, err := time.Parse(dateLayout, endDate)
		if err != nil {
			return Range{}, fmt.Errorf("%w: endDate %q is not a YYYY-MM-DD date", ErrInvalidQuery, endDate)
		}
		end = t
	}

	start := end.Add(-defaultSpan)
	if startDate != "" {
		t, err := time.Parse(dateLayout, startDate)
		if err != nil {
			return Range{}, fmt.Errorf("%w: startDate %q is not a YYYY-MM-DD date", ErrInvalidQuery, startDate)
		}
		start = t
	}

	if start.After(end) {
		return Range{}, fmt.Errorf("%w: startDate is after endDate", ErrInvalidQuery)
	}
	return Range{Start: start, End: end.Add(oneDay)}, nil
}

func (r Range) Dates() DateRange {
	return DateRange{
		Start: r.Start.Format(dateLayout),
		End:   r.End.Add(-oneDay).Format(dateLayout),
	}
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Granularity is the bucket size of a time series.
type Granularity string

const (
	Hour  Granularity = "hour"
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// ParseGranularity accepts hour, day, week or month; empty means day.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case "":
		return Day, nil
	case Hour, Day, Week, Month:
		return g, nil
	}
	return "", fmt.Errorf("%w: granularity must be one of hour, day, week, month", ErrInvalidQuery)
}

// isoWeekThursday is the Thursday of visit_time's ISO week in sqlite; its
// year and day of year give the ISO week-year and week number.
const isoWeekThursday = "date(visit_time, '-3 days', 'weekday 4')"

// bucketExpr is the SQL expression naming the bucket a visit falls in, for
// the given gorm dialector name. Labels of one granularity sort in time
// order: hour "2006-01-02 15:00:00", day "2006-01-02", week "2006-W01",
// month "2006-01". Visit times are stored in UTC.
func (g Granularity) bucketExpr(dialect string) (string, error) {
	switch dialect {
	case "postgres":
		format := map[Granularity]string{
			Hour:  "YYYY-MM-DD HH24:00:00",
			Day:   "YYYY-MM-DD",
			Week:  `IYYY-"W"IW`,
			Month: "YYYY-MM",
		}[g]
		if format == "" {
			break
		}
		return fmt.Sprintf("to_char(visit_time AT TIME ZONE 'UTC', '%s')", format), nil
	case "sqlite":
		switch g {
		case Hour:
			return "strftime('%Y-%m-%d %H:00:00', visit_time)", nil
		case Day:
			return "strftime('%Y-%m-%d', visit_time)", nil
		case Week:
			return fmt.Sprintf("strftime('%%Y', %[1]s) || '-W' || printf('%%02d', (CAST(strftime('%%j', %[1]s) AS INTEGER) - 1) / 7 + 1)", isoWeekThursday), nil
		case Month:
			return "strftime('%Y-%m', visit_time)", nil
		}
	default:
		return "", fmt.Errorf("time series: unsupported database %q", dialect)
	}
	return "", fmt.Errorf("%w: unknown granularity %q", ErrInvalidQuery, g)
}
