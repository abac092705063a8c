package variables

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	dateLayout       = "2006-01-02"
	searchDateLayout = "2006/01/02"
)

type builtin func(now time.Time) any

// builtins are computed on every lookup so repeated runs see fresh values.
var builtins = map[string]builtin{
	"today":         func(now time.Time) any { return now.Format(dateLayout) },
	"yesterday":     func(now time.Time) any { return now.AddDate(0, 0, -1).Format(dateLayout) },
	"tomorrow":      func(now time.Time) any { return now.AddDate(0, 0, 1).Format(dateLayout) },
	"now":           func(now time.Time) any { return now.Format(time.RFC3339) },
	"timestamp":     func(now time.Time) any { return strconv.FormatInt(now.Unix(), 10) },
	"current_year":  func(now time.Time) any { return strconv.Itoa(now.Year()) },
	"current_month": func(now time.Time) any { return fmt.Sprintf("%02d", int(now.Month())) },
	"uuid":          func(time.Time) any { return uuid.NewString() },

	"gmail_search_today": func(now time.Time) any {
		return searchRange(startOfDay(now), startOfDay(now).AddDate(0, 0, 1))
	},
	"gmail_search_yesterday": func(now time.Time) any {
		return searchRange(startOfDay(now).AddDate(0, 0, -1), startOfDay(now))
	},
	"gmail_search_last_7_days": func(now time.Time) any {
		return searchRange(startOfDay(now).AddDate(0, 0, -7), startOfDay(now).AddDate(0, 0, 1))
	},
}

// Builtins lists the names of the computed variables.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}

	return names
}

func searchRange(after, before time.Time) string {
	return fmt.Sprintf("after:%s before:%s", after.Format(searchDateLayout), before.Format(searchDateLayout))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
