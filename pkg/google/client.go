// Package google is the calendar gateway: list, create and delete events on
// one Google Calendar.
package google

import (
	"context"
	"fmt"
	"net/http"

	"github.com/harrisonrobin/aide/pkg/auth"
	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const primaryCalendar = "primary"

// NewClient authenticates and resolves calendarName to its ID. An empty
// name or "primary" selects the account's main calendar.
func NewClient(ctx context.Context, a *auth.Authenticator, calendarName, timeZone string, logger *zap.Logger) (*CalendarClient, error) {
	httpClient, err := a.Client(ctx, auth.CalendarScopes)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client for Calendar API: %w", err)
	}
	return NewClientWithHTTP(ctx, httpClient, calendarName, timeZone, logger, option.WithHTTPClient(httpClient))
}

// NewClientWithHTTP is NewClient for an already authenticated HTTP client.
// Extra options are passed to calendar.NewService.
func NewClientWithHTTP(ctx context.Context, httpClient *http.Client, calendarName, timeZone string, logger *zap.Logger, opts ...option.ClientOption) (*CalendarClient, error) {
	if len(opts) == 0 {
		opts = []option.ClientOption{option.WithHTTPClient(httpClient)}
	}
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}

	calendarID, err := resolveCalendarID(ctx, srv, calendarName)
	if err != nil {
		return nil, err
	}
	return NewCalendarClient(srv, calendarID, timeZone, logger), nil
}

func resolveCalendarID(ctx context.Context, srv *calendar.Service, name string) (string, error) {
	if name == "" || name == primaryCalendar {
		return primaryCalendar, nil
	}

	list, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to retrieve calendar list: %w", err)
	}
	for _, item := range list.Items {
		if item.Summary == name {
			return item.Id, nil
		}
	}
	return "", fmt.Errorf("calendar '%s' not found", name)
}
