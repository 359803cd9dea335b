package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	CalendarID   string
}

// BusySlot is one existing event inside a queried window.
type BusySlot struct {
	Summary string `json:"summary"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

type Availability struct {
	Date      string     `json:"date"`
	BusySlots []BusySlot `json:"busy_slots"`
	Message   string     `json:"message"`
}

type Booking struct {
	EventID string `json:"event_id"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Message string `json:"message"`
}

var ErrSlotConflict = errors.New("time slot conflicts with an existing calendar event")

// events is the slice of the Calendar API the service needs; it lets
// tests substitute a fake.
type events interface {
	List(ctx context.Context, calendarID, timeMin, timeMax string) ([]*gcal.Event, error)
	Insert(ctx context.Context, calendarID string, event *gcal.Event) (*gcal.Event, error)
}

// Service books appointment slots in the user's Google Calendar using
// an offline refresh token.
type Service struct {
	events     events
	calendarID string
	now        func() time.Time
}

func NewService(ctx context.Context, cfg Config) (*Service, error) {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gcal.CalendarScope},
		Endpoint:     google.Endpoint,
	}
	source := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	svc, err := gcal.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	calendarID := cfg.CalendarID
	if strings.TrimSpace(calendarID) == "" {
		calendarID = "primary"
	}
	return &Service{
		events:     &apiEvents{svc: svc},
		calendarID: calendarID,
		now:        time.Now,
	}, nil
}

// ensureFutureDate rolls a past date forward so spoken dates without a
// year ("March third") land on the next occurrence.
func (s *Service) ensureFutureDate(t time.Time) time.Time {
	now := s.now()
	if !t.Before(now) {
		return t
	}
	thisYear := time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, t.Location())
	if !thisYear.Before(now) {
		return thisYear
	}
	return time.Date(now.Year()+1, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, t.Location())
}

func parseWhen(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "Z"))
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time format: %q", s)
}

const apiTime = "2006-01-02T15:04:05"

// CheckAvailability lists existing events on the requested day.
func (s *Service) CheckAvailability(ctx context.Context, date, timeMin, timeMax string) (Availability, error) {
	target := s.now()
	if date != "" {
		if parsed, err := parseWhen(date); err == nil {
			target = s.ensureFutureDate(parsed)
		}
	}

	if timeMin == "" {
		dayStart := time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, target.Location())
		timeMin = dayStart.Format(apiTime) + "Z"
	}
	if timeMax == "" {
		dayEnd := time.Date(target.Year(), target.Month(), target.Day(), 23, 59, 0, 0, target.Location())
		timeMax = dayEnd.Format(apiTime) + "Z"
	}

	items, err := s.events.List(ctx, s.calendarID, timeMin, timeMax)
	if err != nil {
		return Availability{}, fmt.Errorf("list events: %w", err)
	}

	slots := make([]BusySlot, 0, len(items))
	for _, e := range items {
		slots = append(slots, BusySlot{
			Summary: orBusy(e.Summary),
			Start:   eventTime(e.Start),
			End:     eventTime(e.End),
		})
	}

	day := target.Format("2006-01-02")
	msg := fmt.Sprintf("On %s: no events; day is free.", day)
	if len(slots) > 0 {
		msg = fmt.Sprintf("On %s: %d existing event(s).", day, len(slots))
	}
	return Availability{Date: day, BusySlots: slots, Message: msg}, nil
}

// BookSlot creates a calendar event unless the window already has one.
func (s *Service) BookSlot(ctx context.Context, startTime, endTime, title, description string) (Booking, error) {
	start, err := parseWhen(startTime)
	if err != nil {
		return Booking{}, err
	}
	start = s.ensureFutureDate(start)

	var end time.Time
	if endTime != "" {
		if parsed, perr := parseWhen(endTime); perr == nil {
			end = s.ensureFutureDate(parsed)
		} else {
			end = start.Add(time.Hour)
		}
	} else {
		end = start.Add(time.Hour)
	}

	finalStart := start.Format(apiTime)
	finalEnd := end.Format(apiTime)

	conflicts, err := s.events.List(ctx, s.calendarID, finalStart+"Z", finalEnd+"Z")
	if err != nil {
		return Booking{}, fmt.Errorf("check conflicts: %w", err)
	}
	if len(conflicts) > 0 {
		summaries := make([]string, 0, len(conflicts))
		for _, e := range conflicts {
			summaries = append(summaries, orBusy(e.Summary))
		}
		return Booking{}, fmt.Errorf("%w: %s", ErrSlotConflict, strings.Join(summaries, ", "))
	}

	if title == "" {
		title = "Dental Appointment"
	}
	if description == "" {
		description = "Booked via AI assistant"
	}
	created, err := s.events.Insert(ctx, s.calendarID, &gcal.Event{
		Summary:     title,
		Description: description,
		Start:       &gcal.EventDateTime{DateTime: finalStart + "Z", TimeZone: "UTC"},
		End:         &gcal.EventDateTime{DateTime: finalEnd + "Z", TimeZone: "UTC"},
	})
	if err != nil {
		return Booking{}, fmt.Errorf("insert event: %w", err)
	}

	return Booking{
		EventID: created.Id,
		Start:   finalStart,
		End:     finalEnd,
		Message: fmt.Sprintf("Booked for %s to %s.", finalStart, finalEnd),
	}, nil
}

func orBusy(summary string) string {
	if summary == "" {
		return "Busy"
	}
	return summary
}

func eventTime(t *gcal.EventDateTime) string {
	if t == nil {
		return ""
	}
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

// apiEvents adapts the generated client to the events interface.
type apiEvents struct {
	svc *gcal.Service
}

func (a *apiEvents) List(ctx context.Context, calendarID, timeMin, timeMax string) ([]*gcal.Event, error) {
	res, err := a.svc.Events.List(calendarID).
		TimeMin(timeMin).
		TimeMax(timeMax).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

func (a *apiEvents) Insert(ctx context.Context, calendarID string, event *gcal.Event) (*gcal.Event, error) {
	return a.svc.Events.Insert(calendarID, event).Context(ctx).Do()
}
