package reconcile

import (
	"strings"

	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

type span struct {
	start, end int
}

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

// parseRange reads a human-entered slot label such as "09:00 - 09:30",
// "09:00-09:30" or "9:00 AM - 9:30 AM" into minutes since midnight.
func parseRange(label string) (span, bool) {
	from, to, ok := strings.Cut(label, "-")
	if !ok {
		return span{}, false
	}
	start, ok := parseWallClock(from)
	if !ok {
		return span{}, false
	}
	end, ok := parseWallClock(to)
	if !ok || end <= start {
		return span{}, false
	}
	return span{start: start, end: end}, true
}

func parseWallClock(s string) (int, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))

	var meridiem string
	for _, suffix := range []string{"AM", "PM"} {
		if strings.HasSuffix(s, suffix) {
			meridiem = suffix
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
			break
		}
	}

	minutes, err := schedule.ParseClock(s)
	if err != nil {
		return 0, false
	}
	if meridiem == "" {
		return minutes, true
	}

	hour := minutes / 60
	if hour < 1 || hour > 12 {
		return 0, false
	}
	switch {
	case meridiem == "AM" && hour == 12:
		minutes -= 12 * 60
	case meridiem == "PM" && hour != 12:
		minutes += 12 * 60
	}
	return minutes, true
}

// slotsOverlap is true when both labelled ranges parse and intersect, or when
// the booked start times are identical.
func slotsOverlap(aTime, aSlot, bTime, bSlot string) bool {
	if aTime == bTime {
		return true
	}
	ra, okA := parseRange(aSlot)
	rb, okB := parseRange(bSlot)
	return okA && okB && ra.overlaps(rb)
}
