package google

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
)

const dateLayout = "2006-01-02"

// Event is the local projection of a calendar event. Start is either a
// YYYY-MM-DD date or an RFC3339 date-time; both begin with the date.
type Event struct {
	ID      string
	Start   string
	Summary string
}

// CalendarClient is a Google Calendar API client bound to one calendar.
type CalendarClient struct {
	srv        *calendar.Service
	calendarID string
	timeZone   string
	logger     *zap.Logger
	now        func() time.Time
}

// NewCalendarClient creates a client for calendarID on an authenticated service.
func NewCalendarClient(srv *calendar.Service, calendarID, timeZone string, logger *zap.Logger) *CalendarClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarClient{srv: srv, calendarID: calendarID, timeZone: timeZone, logger: logger, now: time.Now}
}

// ListUpcoming returns at most limit single events starting from now, ordered by start time.
func (c *CalendarClient) ListUpcoming(ctx context.Context, limit int) ([]Event, error) {
	res, err := c.srv.Events.List(c.calendarID).
		TimeMin(c.now().UTC().Format(time.RFC3339)).
		MaxResults(int64(limit)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve events from calendar: %w", err)
	}

	events := make([]Event, 0, len(res.Items))
	for _, item := range res.Items {
		events = append(events, toEvent(item))
	}
	return events, nil
}

func toEvent(item *calendar.Event) Event {
	e := Event{ID: item.Id, Summary: item.Summary}
	if item.Start != nil {
		e.Start = item.Start.DateTime
		if e.Start == "" {
			e.Start = item.Start.Date
		}
	}
	if e.Summary == "" {
		e.Summary = "(untitled)"
	}
	return e
}

// CreateAllDay creates a full-day event on date (YYYY-MM-DD).
func (c *CalendarClient) CreateAllDay(ctx context.Context, summary, date string) (Event, error) {
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return Event{}, fmt.Errorf("invalid event date %q: %w", date, err)
	}
	// All-day end dates are exclusive.
	event := &calendar.Event{
		Summary: summary,
		Start:   &calendar.EventDateTime{Date: date, TimeZone: c.timeZone},
		End:     &calendar.EventDateTime{Date: day.AddDate(0, 0, 1).Format(dateLayout), TimeZone: c.timeZone},
	}
	created, err := c.srv.Events.Insert(c.calendarID, event).Context(ctx).Do()
	if err != nil {
		return Event{}, fmt.Errorf("unable to create event: %w", err)
	}
	c.logger.Info("calendar event created", zap.String("id", created.Id), zap.String("summary", summary), zap.String("date", date))
	return toEvent(created), nil
}

// DeleteEvent deletes an event from the calendar.
func (c *CalendarClient) DeleteEvent(ctx context.Context, eventID string) error {
	if err := c.srv.Events.Delete(c.calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to delete event %s: %w", eventID, err)
	}
	c.logger.Info("calendar event deleted", zap.String("id", eventID))
	return nil
}
