package brain

import (
	"sort"
	"time"
)

// Chrono sources.
const (
	ChronoFromFact   = "FACT_TIME_NOW"
	ChronoFromSystem = "SYSTEM_NOW"
)

// Chrono is the time-of-day signal attached to every decision.
type Chrono struct {
	Hour      int      `json:"hour"`
	Minute    int      `json:"minute"`
	PartOfDay string   `json:"part_of_day"`
	Flags     []string `json:"flags"`
	Source    string   `json:"source"`
	TZ        string   `json:"tz"`
}

// BuildChrono uses factNow when a TIME_NOW fact was computed this turn,
// otherwise now in tz. An unknown zone falls back to local time.
func BuildChrono(factNow time.Time, tz string, now time.Time) Chrono {
	c := Chrono{TZ: tz, Source: ChronoFromSystem}
	t := factNow
	if t.IsZero() {
		loc := time.Local
		if tz != "" {
			if l, err := time.LoadLocation(tz); err == nil {
				loc = l
			}
		}
		t = now.In(loc)
	} else {
		c.Source = ChronoFromFact
	}

	c.Hour, c.Minute = t.Hour(), t.Minute()
	c.PartOfDay = partOfDay(c.Hour)

	set := map[string]bool{c.PartOfDay: true}
	if c.PartOfDay == "LATE_NIGHT" {
		set["NIGHT"] = true
	}
	if wd := t.Weekday(); wd >= time.Monday && wd <= time.Friday && c.Hour >= 9 && c.Hour <= 17 {
		set["WORK_HOURS"] = true
	}
	for f := range set {
		c.Flags = append(c.Flags, f)
	}
	sort.Strings(c.Flags)
	return c
}

func partOfDay(h int) string {
	switch {
	case h <= 4:
		return "NIGHT"
	case h <= 10:
		return "MORNING"
	case h <= 13:
		return "MIDDAY"
	case h <= 17:
		return "AFTERNOON"
	case h <= 21:
		return "EVENING"
	}
	return "LATE_NIGHT"
}
