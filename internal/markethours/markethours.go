// Package markethours knows the NSE cash session in IST and resolves the
// display zone used when ordering and labelling price samples.
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30, no DST).
var IST = time.FixedZone("IST", 5*3600+30*60)

// NSE cash session in IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// LoadZone resolves an IANA zone name. An empty name, or one the host's tz
// database does not know, falls back to the fixed IST zone.
func LoadZone(name string) *time.Location {
	if name == "" {
		return IST
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return IST
	}
	return loc
}

// IsMarketOpen reports whether t falls inside the NSE session
// (09:15–15:30 IST, Mon–Fri, excluding exchange holidays).
func IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsTradingDay reports whether t (in IST) is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	wd := ist.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !IsHoliday(ist)
}

func sessionOpen(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), OpenHour, OpenMinute, 0, 0, IST)
}

// TodayClose returns the session close for t's IST calendar day.
func TodayClose(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), CloseHour, CloseMinute, 0, 0, IST)
}

// NextOpen returns the next session open at or after t. If the market is
// open at t, it returns t itself.
func NextOpen(t time.Time) time.Time {
	if IsMarketOpen(t) {
		return t
	}
	ist := t.In(IST)
	if open := sessionOpen(ist); ist.Before(open) && IsTradingDay(ist) {
		return open
	}
	d := ist
	for i := 0; i < 15; i++ { // long weekends plus festival runs never exceed this
		d = d.AddDate(0, 0, 1)
		if IsTradingDay(d) {
			return sessionOpen(d)
		}
	}
	return sessionOpen(ist.AddDate(0, 0, 1))
}

// UntilOpen returns how long until the next session open (0 when open).
func UntilOpen(t time.Time) time.Duration {
	return NextOpen(t).Sub(t)
}

// StatusString returns a human-readable session status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(TodayClose(t).Sub(t)))
	}
	next := NextOpen(t).In(IST)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
