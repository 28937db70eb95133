package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/fitlabs/respond-agent/agent/contract"
)

const ToolScheduleLookup = "schedule.lookup"

// EventSource provides the weekly schedule for a venue.
type EventSource interface {
	EventsByDates(ctx context.Context, venueID string, start, end time.Time) ([]contractx.ScheduleEvent, error)
}

// VenueDirectory resolves venues by id or by (case-insensitive) name.
type VenueDirectory struct {
	names map[string]string // id -> display name
	ids   map[string]string // lowercase name -> id
}

func NewVenueDirectory(byID map[string]string) *VenueDirectory {
	d := &VenueDirectory{
		names: make(map[string]string, len(byID)),
		ids:   make(map[string]string, len(byID)),
	}
	for id, name := range byID {
		d.names[id] = name
		d.ids[strings.ToLower(name)] = id
	}
	return d
}

// Resolve accepts either a venue id or a venue name.
func (d *VenueDirectory) Resolve(ref string) (id, name string, ok bool) {
	ref = strings.TrimSpace(ref)
	if name, found := d.names[ref]; found {
		return ref, name, true
	}
	if id, found := d.ids[strings.ToLower(ref)]; found {
		return id, d.names[id], true
	}
	return "", "", false
}

func (d *VenueDirectory) Names() []string {
	names := make([]string, 0, len(d.names))
	for _, name := range d.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var trainingTypeKeywords = map[string][]string{
	"strength":   {"RT"},
	"bootcamp":   {"Bootcamp"},
	"reshape":    {"Reshape"},
	"assessment": {"Assessment"},
	"stretching": {"Stretching"},
	"upper":      {"Upper"},
	"legs":       {"Legs"},
	"glute":      {"Glute"},
	"pull":       {"Pull"},
	"push":       {"Push"},
	"arm":        {"Arm"},
}

var weekdayIndex = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

type timeWindow struct {
	start, end int // local hours, [start, end)
}

var timeOfDayWindows = map[string]timeWindow{
	"morning":   {start: 6, end: 12},
	"afternoon": {start: 12, end: 18},
	"evening":   {start: 18, end: 23},
}

// ScheduleToolConfig fixes the venue directory and the local timezone of the
// clubs (schedules are filtered and displayed in club-local time).
type ScheduleToolConfig struct {
	Venues   *VenueDirectory
	Location *time.Location
	Now      func() time.Time
}

// NewScheduleTool builds the schedule lookup tool over the given event source.
func NewScheduleTool(events EventSource, cfg ScheduleToolConfig) Tool {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	info := &schema.ToolInfo{
		Name: ToolScheduleLookup,
		Desc: "Look up the weekly training schedule for a club, with optional filters.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"venue": {Type: schema.String, Desc: "Club id or club name", Required: true},
			"training_type": {Type: schema.String,
				Desc: "Optional: strength, bootcamp, reshape, assessment, stretching, upper, legs, glute, pull, push, arm"},
			"period":      {Type: schema.String, Desc: "Optional: today, tomorrow, or week"},
			"day_of_week": {Type: schema.String, Desc: "Optional: monday..sunday, overrides period"},
			"preferred_time": {Type: schema.String,
				Desc: "Optional: morning, afternoon, or evening"},
		}),
	}

	run := func(ctx context.Context, args map[string]any) (string, error) {
		venueRef := stringArg(args, "venue")
		venueID, venueName, ok := cfg.Venues.Resolve(venueRef)
		if !ok {
			return fmt.Sprintf("Unknown club %q. Available clubs: %s.",
				venueRef, strings.Join(cfg.Venues.Names(), ", ")), nil
		}

		local := now().In(loc)
		weekStart, weekEnd := weekBounds(local)

		all, err := events.EventsByDates(ctx, venueID, weekStart.UTC(), weekEnd.UTC())
		if err != nil {
			return "", fmt.Errorf("fetch schedule for venue=%s: %w", venueID, err)
		}

		filtered := filterEvents(all, scheduleFilter{
			trainingType:  strings.ToLower(stringArg(args, "training_type")),
			period:        strings.ToLower(stringArg(args, "period")),
			dayOfWeek:     strings.ToLower(stringArg(args, "day_of_week")),
			preferredTime: strings.ToLower(stringArg(args, "preferred_time")),
			now:           local,
			loc:           loc,
		})
		if len(filtered) == 0 {
			return fmt.Sprintf("No matching sessions at %s for these filters. Try widening the filters.", venueName), nil
		}

		return formatSchedule(venueName, venueID, filtered, loc), nil
	}

	return Tool{Info: info, Run: run}
}

type scheduleFilter struct {
	trainingType  string
	period        string
	dayOfWeek     string
	preferredTime string
	now           time.Time
	loc           *time.Location
}

func filterEvents(events []contractx.ScheduleEvent, f scheduleFilter) []contractx.ScheduleEvent {
	out := make([]contractx.ScheduleEvent, 0, len(events))
	for _, ev := range events {
		if ev.Status == "finished" || strings.Contains(ev.Name, "[TEST]") {
			continue
		}
		local := ev.StartTime.In(f.loc)

		if day, ok := weekdayIndex[f.dayOfWeek]; ok {
			if local.Weekday() != day {
				continue
			}
		} else if f.period == "today" {
			if !sameDate(local, f.now) {
				continue
			}
		} else if f.period == "tomorrow" {
			if !sameDate(local, f.now.AddDate(0, 0, 1)) {
				continue
			}
		}

		if keywords, ok := trainingTypeKeywords[f.trainingType]; ok {
			if !containsAny(ev.Name, keywords) {
				continue
			}
		}

		if window, ok := timeOfDayWindows[f.preferredTime]; ok {
			hour := local.Hour()
			if hour < window.start || hour >= window.end {
				continue
			}
		}

		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

func formatSchedule(venueName, venueID string, events []contractx.ScheduleEvent, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Schedule for %s:\n", venueName)

	lastDate := ""
	for _, ev := range events {
		local := ev.StartTime.In(loc)
		date := local.Format("Monday, 2 January")
		if date != lastDate {
			fmt.Fprintf(&sb, "\n%s\n", date)
			lastDate = date
		}
		name := ev.Name
		if name == "" {
			name = "Training"
		}
		fmt.Fprintf(&sb, "  %s | %s [id:%s]\n", local.Format("15:04"), name, ev.ID)
	}

	fmt.Fprintf(&sb, "\nTo book: use the eventId from [id:...] with clubId %s.", venueID)
	return sb.String()
}

// weekBounds returns the local Monday 00:00 and Sunday 23:59:59 around t.
func weekBounds(t time.Time) (time.Time, time.Time) {
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	monday := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).
		AddDate(0, 0, -daysSinceMonday)
	sunday := monday.AddDate(0, 0, 7).Add(-time.Second)
	return monday, sunday
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
