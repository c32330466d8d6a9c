// Package schedule derives the character's current activity from a weekly
// timetable. The activity is injected into the character card so replies
// stay consistent with what Ava is "doing" at that moment.
package schedule

import "time"

// Slot is a contiguous block of the day with one activity.
type Slot struct {
	StartHour int // inclusive
	EndHour   int // exclusive; 24 closes the day
	Activity  string
}

// Week maps each weekday to its ordered slots.
type Week map[time.Weekday][]Slot

// DefaultWeek returns Ava's standard timetable.
func DefaultWeek() Week {
	workday := []Slot{
		{0, 7, "getting some rest before a busy day"},
		{7, 9, "going through new property listings over coffee"},
		{9, 13, "visiting projects and meeting developers around the city"},
		{13, 14, "having lunch near the office"},
		{14, 19, "answering client questions and scheduling viewings"},
		{19, 22, "catching up on market news at home"},
		{22, 24, "winding down for the night"},
	}
	weekend := []Slot{
		{0, 9, "sleeping in"},
		{9, 12, "walking around open houses for fun"},
		{12, 15, "out with friends"},
		{15, 20, "relaxing at home"},
		{20, 24, "watching a movie"},
	}
	return Week{
		time.Monday:    workday,
		time.Tuesday:   workday,
		time.Wednesday: workday,
		time.Thursday:  workday,
		time.Friday:    workday,
		time.Saturday:  weekend,
		time.Sunday:    weekend,
	}
}

// Generator resolves the current activity from a Week.
type Generator struct {
	week Week
	now  func() time.Time
}

// NewGenerator creates a Generator over the given week. A nil week uses
// DefaultWeek.
func NewGenerator(week Week) *Generator {
	if week == nil {
		week = DefaultWeek()
	}
	return &Generator{week: week, now: time.Now}
}

// CurrentActivity returns the activity for the current time, or an empty
// string when no slot covers it.
func (g *Generator) CurrentActivity() string {
	return g.ActivityAt(g.now())
}

// ActivityAt returns the activity for an arbitrary time.
func (g *Generator) ActivityAt(t time.Time) string {
	slots, ok := g.week[t.Weekday()]
	if !ok {
		return ""
	}
	hour := t.Hour()
	for _, s := range slots {
		if hour >= s.StartHour && hour < s.EndHour {
			return s.Activity
		}
	}
	return ""
}
