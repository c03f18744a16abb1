package app

import (
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

const (
	dateSlotLayout = "2006-01-02"
	timeSlotLayout = "15:04"
)

// dateTimeParser turns free-text date/time expressions ("Tomorrow at 2 PM",
// "next friday 10:30") into normalized date and time slot values.
type dateTimeParser struct {
	w *when.Parser
}

func newDateTimeParser() *dateTimeParser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &dateTimeParser{w: w}
}

// Parse resolves text relative to now. ok is false when no date/time
// expression was recognized.
func (p *dateTimeParser) Parse(text string, now time.Time) (date, timeOfDay string, ok bool) {
	// Exact layouts first, then natural language.
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 3:04 PM", "02/01/2006 15:04"} {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(text), now.Location()); err == nil {
			return t.Format(dateSlotLayout), t.Format(timeSlotLayout), true
		}
	}

	r, err := p.w.Parse(text, now)
	if err != nil || r == nil {
		return "", "", false
	}
	return r.Time.Format(dateSlotLayout), r.Time.Format(timeSlotLayout), true
}
