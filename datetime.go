package mjolnir

import (
	"strconv"
	"strings"
	"time"
)

// Transit dates are stored as day counts from this pivot so they fit u32.
var pivotDate = time.Date(2014, time.January, 1, 0, 0, 0, 0, time.UTC)

// Service day bitmaps cover at most this many days from their anchor.
const maxServiceDays = 60

// daysFromPivotDate returns the day count of the date since the pivot,
// zero for dates before it.
func daysFromPivotDate(date time.Time) uint32 {
	days := int(date.Sub(pivotDate).Hours() / 24)
	if days < 0 {
		return 0
	}
	return uint32(days)
}

// parseServiceDate parses a YYYY-MM-DD (or compact YYYYMMDD) service date.
func parseServiceDate(value string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02", "20060102"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// secondsFromMidnight parses an HH:MM:SS (or HH:MM) time of day into seconds.
// Hours may exceed 23 for after-midnight service.
func secondsFromMidnight(value string) (uint32, bool) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	total := uint32(0)
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0, false
		}
		switch i {
		case 0:
			total += uint32(n) * 3600
		case 1:
			total += uint32(n) * 60
		case 2:
			total += uint32(n)
		}
	}
	return total, true
}

// dowBit returns the service mask bit of the date's weekday.
func dowBit(date time.Time) uint32 {
	switch date.Weekday() {
	case time.Monday:
		return DOW_MONDAY
	case time.Tuesday:
		return DOW_TUESDAY
	case time.Wednesday:
		return DOW_WEDNESDAY
	case time.Thursday:
		return DOW_THURSDAY
	case time.Friday:
		return DOW_FRIDAY
	case time.Saturday:
		return DOW_SATURDAY
	default:
		return DOW_SUNDAY
	}
}

// getServiceDays expands a service span into a 64-bit day bitmap anchored at
// the given date: bit i is day anchor+i. The span is clamped to the anchor on
// the left and to 60 days out on the right, then filtered by the day-of-week
// mask.
func getServiceDays(anchor, start, end time.Time, dowMask uint32) uint64 {
	if start.Before(anchor) {
		start = anchor
	}
	lastDay := anchor.AddDate(0, 0, maxServiceDays-1)
	if end.After(lastDay) {
		end = lastDay
	}

	days := uint64(0)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if dowBit(day)&dowMask == 0 {
			continue
		}
		offset := int(day.Sub(anchor).Hours() / 24)
		if offset < 0 || offset > 63 {
			continue
		}
		days |= uint64(1) << uint(offset)
	}
	return days
}

// addServiceDay turns on the bit of an added service date when it falls
// inside the clamped span.
func addServiceDay(days uint64, anchor, end time.Time, date time.Time) uint64 {
	return setServiceDay(days, anchor, end, date, true)
}

// removeServiceDay turns off the bit of an excepted service date.
func removeServiceDay(days uint64, anchor, end time.Time, date time.Time) uint64 {
	return setServiceDay(days, anchor, end, date, false)
}

func setServiceDay(days uint64, anchor, end time.Time, date time.Time, on bool) uint64 {
	if date.Before(anchor) || date.After(end) {
		return days
	}
	offset := int(date.Sub(anchor).Hours() / 24)
	if offset < 0 || offset > 63 {
		return days
	}
	bit := uint64(1) << uint(offset)
	if on {
		return days | bit
	}
	return days &^ bit
}

// Shared timezone region list. Index 0 is the unknown region; stop records
// index into this table.
var timezoneRegions = []string{
	"",
	"America/New_York",
	"America/Chicago",
	"America/Denver",
	"America/Phoenix",
	"America/Los_Angeles",
	"America/Anchorage",
	"America/Toronto",
	"America/Vancouver",
	"America/Mexico_City",
	"America/Sao_Paulo",
	"America/Argentina/Buenos_Aires",
	"Europe/London",
	"Europe/Dublin",
	"Europe/Paris",
	"Europe/Berlin",
	"Europe/Madrid",
	"Europe/Rome",
	"Europe/Amsterdam",
	"Europe/Brussels",
	"Europe/Vienna",
	"Europe/Zurich",
	"Europe/Prague",
	"Europe/Warsaw",
	"Europe/Stockholm",
	"Europe/Oslo",
	"Europe/Copenhagen",
	"Europe/Helsinki",
	"Europe/Lisbon",
	"Europe/Athens",
	"Europe/Istanbul",
	"Europe/Moscow",
	"Africa/Cairo",
	"Africa/Johannesburg",
	"Africa/Lagos",
	"Africa/Nairobi",
	"Asia/Jerusalem",
	"Asia/Dubai",
	"Asia/Karachi",
	"Asia/Kolkata",
	"Asia/Dhaka",
	"Asia/Bangkok",
	"Asia/Singapore",
	"Asia/Hong_Kong",
	"Asia/Shanghai",
	"Asia/Taipei",
	"Asia/Seoul",
	"Asia/Tokyo",
	"Australia/Perth",
	"Australia/Adelaide",
	"Australia/Brisbane",
	"Australia/Sydney",
	"Australia/Melbourne",
	"Pacific/Auckland",
	"Pacific/Honolulu",
}

// lookupTimezone resolves a region name to its index, 0 when unknown.
func lookupTimezone(name string) (uint16, bool) {
	for i, region := range timezoneRegions {
		if region == name {
			return uint16(i), true
		}
	}
	return 0, false
}
