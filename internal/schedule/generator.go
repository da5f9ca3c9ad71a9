package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generator expands a doctor's weekday template into slot start times.
type Generator struct {
	store Store
}

func NewGenerator(store Store) *Generator {
	return &Generator{store: store}
}

// day is everything the generator and validator need for one doctor and date.
type day struct {
	template *Template
	blocked  *SpecialDate
}

func (g *Generator) resolve(ctx context.Context, doctorID uuid.UUID, date time.Time) (day, error) {
	templates, err := g.store.WeeklyTemplate(ctx, doctorID)
	if err != nil {
		return day{}, fmt.Errorf("load weekly template: %w", err)
	}

	var d day
	for i := range templates {
		if templates[i].DayOfWeek == date.Weekday() {
			d.template = &templates[i]
			break
		}
	}
	if d.template == nil || !d.template.IsActive {
		return d, nil
	}

	global, err := g.store.SpecialDates(ctx, nil)
	if err != nil {
		return day{}, fmt.Errorf("load clinic special dates: %w", err)
	}
	own, err := g.store.SpecialDates(ctx, &doctorID)
	if err != nil {
		return day{}, fmt.Errorf("load doctor special dates: %w", err)
	}
	for _, sd := range append(global, own...) {
		if sd.Blocks(doctorID, date) {
			sd := sd
			d.blocked = &sd
			break
		}
	}
	return d, nil
}

// GenerateSlots returns the ordered "HH:MM" start times bookable for the
// doctor on date. An empty list means the doctor does not work that day.
func (g *Generator) GenerateSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error) {
	d, err := g.resolve(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if d.template == nil || !d.template.IsActive || d.blocked != nil {
		return []string{}, nil
	}
	return Slots(*d.template), nil
}

// Slots walks the template from start to end. A slot that would overlap the
// break moves the cursor to the end of the break; every emitted slot advances
// it by SlotDuration+BufferTime. Malformed or empty templates yield no slots.
func Slots(t Template) []string {
	slots := []string{}

	start, err := ParseClock(t.StartTime)
	if err != nil {
		return slots
	}
	end, err := ParseClock(t.EndTime)
	if err != nil {
		return slots
	}
	if t.SlotDuration <= 0 || start >= end {
		return slots
	}
	buffer := t.BufferTime
	if buffer < 0 {
		buffer = 0
	}

	breakStart, breakEnd, hasBreak := breakWindow(t)

	for cursor := start; cursor+t.SlotDuration <= end; {
		if hasBreak && cursor < breakEnd && cursor+t.SlotDuration > breakStart {
			cursor = breakEnd
			continue
		}
		slots = append(slots, FormatClock(cursor))
		cursor += t.SlotDuration + buffer
	}
	return slots
}

func breakWindow(t Template) (start, end int, ok bool) {
	if t.BreakStart == nil || t.BreakEnd == nil {
		return 0, 0, false
	}
	start, err := ParseClock(*t.BreakStart)
	if err != nil {
		return 0, 0, false
	}
	end, err = ParseClock(*t.BreakEnd)
	if err != nil || end <= start {
		return 0, 0, false
	}
	return start, end, true
}
