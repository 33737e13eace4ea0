package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/logging"
)

// GoogleCalendar implements Calendar against the Google Calendar API.
type GoogleCalendar struct {
	svc *gcal.Service
	log *logging.Logger
}

// NewGoogle builds a Google Calendar client from an OAuth client secret
// file and a stored token file. The token must have been obtained out of
// band (the `frontdesk calendar auth` flow writes it).
func NewGoogle(ctx context.Context, credentialsFile, tokenFile string, log *logging.Logger) (*GoogleCalendar, error) {
	secret, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading calendar credentials: %w", err)
	}

	cfg, err := google.ConfigFromJSON(secret, gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parsing calendar credentials: %w", err)
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("reading calendar token (run `frontdesk calendar auth`): %w", err)
	}

	svc, err := gcal.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}

	return &GoogleCalendar{svc: svc, log: log.Sub("calendar")}, nil
}

// ListBusy queries free/busy for one calendar.
func (g *GoogleCalendar) ListBusy(ctx context.Context, calendarID string, from, to time.Time) ([]domain.TimeWindow, error) {
	req := &gcal.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: calendarID}},
	}

	resp, err := g.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: freebusy query: %v", domain.ErrCalendarUnavailable, err)
	}

	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, fmt.Errorf("%w: calendar %s missing from freebusy response", domain.ErrCalendarUnavailable, calendarID)
	}

	busy := make([]domain.TimeWindow, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err1 := time.Parse(time.RFC3339, p.Start)
		end, err2 := time.Parse(time.RFC3339, p.End)
		if err1 != nil || err2 != nil {
			g.log.Warn().Str("start", p.Start).Str("end", p.End).Msg("skipping unparseable busy period")
			continue
		}
		busy = append(busy, domain.TimeWindow{Start: start, End: end})
	}
	return busy, nil
}

// CreateEvent inserts an opaque, private event on the doctor's calendar.
func (g *GoogleCalendar) CreateEvent(ctx context.Context, calendarID string, ev Event) (string, error) {
	created, err := g.svc.Events.Insert(calendarID, &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339)},
		Transparency: "opaque",
		Visibility:   "private",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("inserting calendar event: %w", err)
	}

	g.log.Info().Str("eventId", created.Id).Str("calendar", calendarID).Msg("calendar event created")
	return created.Id, nil
}

// CancelEvent deletes an event; an already-gone event is treated as
// cancelled.
func (g *GoogleCalendar) CancelEvent(ctx context.Context, calendarID, eventID string) error {
	err := g.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == 404 || apiErr.Code == 410) {
			g.log.Warn().Str("eventId", eventID).Msg("calendar event already gone")
			return nil
		}
		return fmt.Errorf("deleting calendar event: %w", err)
	}
	return nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	return tok, json.NewDecoder(f).Decode(tok)
}

// SaveToken writes an OAuth token for later runs.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("saving calendar token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// AuthURL returns the OAuth consent URL for the interactive auth flow.
func AuthURL(credentialsFile string) (string, *oauth2.Config, error) {
	secret, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", nil, fmt.Errorf("reading calendar credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(secret, gcal.CalendarScope)
	if err != nil {
		return "", nil, fmt.Errorf("parsing calendar credentials: %w", err)
	}
	return cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline), cfg, nil
}
