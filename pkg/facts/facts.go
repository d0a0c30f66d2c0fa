// Package facts computes the deterministic values a turn can ask for: the
// current time, date and weekday in a configured zone, and sandboxed
// arithmetic. It never produces reply text.
package facts

import (
	"fmt"
	"strings"
	"time"
)

// Action tags that resolve to a fact.
const (
	TimeNow    = "TIME_NOW"
	DateToday  = "DATE_TODAY"
	DayToday   = "DAY_TODAY"
	Arithmetic = "ARITHMETIC"
)

// IsFactAction reports whether the router should treat action as deterministic.
func IsFactAction(action string) bool {
	switch action {
	case TimeNow, DateToday, DayToday, Arithmetic:
		return true
	}
	return false
}

type Code string

const (
	MissingTimezone   Code = "MISSING_TIMEZONE"
	BadTimezone       Code = "BAD_TIMEZONE"
	MissingExpression Code = "MISSING_EXPRESSION"
	BadArithmetic     Code = "BAD_ARITHMETIC"
)

// Error is a typed fact failure. It is reported in the Result, never returned.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

var czechDays = [...]string{
	time.Monday:    "pondělí",
	time.Tuesday:   "úterý",
	time.Wednesday: "středa",
	time.Thursday:  "čtvrtek",
	time.Friday:    "pátek",
	time.Saturday:  "sobota",
	time.Sunday:    "neděle",
}

// DayName returns the Czech weekday name.
func DayName(d time.Weekday) string { return czechDays[d] }

// FormatDate renders "D. M. YYYY".
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%d. %d. %d", t.Day(), int(t.Month()), t.Year())
}

// Item is one computed fact in request order.
type Item struct {
	Kind       string  `json:"kind"`
	Value      string  `json:"value"`
	Expression string  `json:"expression,omitempty"`
	Number     float64 `json:"number,omitempty"`
}

// Result is what one resolution produced. Err is set when a fact failed;
// items computed before the failure are kept.
type Result struct {
	Items []Item
	// Now is the instant used for time facts; zero when none were requested.
	Now time.Time
	Err *Error
}

// Get returns the first item of kind.
func (r Result) Get(kind string) (Item, bool) {
	for _, it := range r.Items {
		if it.Kind == kind {
			return it, true
		}
	}
	return Item{}, false
}

// Resolver is the contract the brain depends on.
type Resolver interface {
	Resolve(actions []string, expression, timezone string) Result
}

// Engine is the default Resolver.
type Engine struct {
	now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// WithClock fixes the wall clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Resolve computes facts in the fixed order TIME_NOW, DATE_TODAY,
// DAY_TODAY, ARITHMETIC. A missing or invalid zone aborts everything.
func (e *Engine) Resolve(actions []string, expression, timezone string) Result {
	want := make(map[string]bool, len(actions))
	for _, a := range actions {
		want[a] = true
	}
	var res Result

	if want[TimeNow] || want[DateToday] || want[DayToday] {
		tz := strings.TrimSpace(timezone)
		if tz == "" {
			res.Err = &Error{Code: MissingTimezone}
			return res
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			res.Err = &Error{Code: BadTimezone, Err: err}
			return res
		}
		now := e.now().In(loc)
		res.Now = now
		if want[TimeNow] {
			res.Items = append(res.Items, Item{Kind: TimeNow, Value: now.Format("15:04")})
		}
		if want[DateToday] {
			res.Items = append(res.Items, Item{Kind: DateToday, Value: FormatDate(now)})
		}
		if want[DayToday] {
			res.Items = append(res.Items, Item{Kind: DayToday, Value: DayName(now.Weekday())})
		}
	}

	if want[Arithmetic] {
		expr := strings.TrimSpace(expression)
		if expr == "" {
			res.Err = &Error{Code: MissingExpression}
			return res
		}
		v, err := Evaluate(expr)
		if err != nil {
			res.Err = &Error{Code: BadArithmetic, Err: err}
			return res
		}
		res.Items = append(res.Items, Item{
			Kind:       Arithmetic,
			Value:      FormatNumber(v),
			Expression: expr,
			Number:     v,
		})
	}
	return res
}
