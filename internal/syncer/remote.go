package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"famcal/internal/model"
)

const remoteCallTimeout = 15 * time.Second

// HTTPRemote implements RemoteCalendar against a JSON REST calendar
// service:
//
//	GET    {base}/calendars/{cal}/events?from=&to=
//	POST   {base}/calendars/{cal}/events
//	PUT    {base}/calendars/{cal}/events/{id}
//	DELETE {base}/calendars/{cal}/events/{id}
//
// 404 and 410 map to ErrRemoteNotFound.
type HTTPRemote struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPRemote creates a client for the remote calendar service. token
// may be empty.
func NewHTTPRemote(baseURL, token string) *HTTPRemote {
	return &HTTPRemote{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: remoteCallTimeout},
	}
}

// remoteEventBody is the wire shape of an event on the remote service.
type remoteEventBody struct {
	ID          string `json:"id,omitempty"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Start       string `json:"start"`
	End         string `json:"end,omitempty"`
	Created     string `json:"created,omitempty"`
}

func (c *HTTPRemote) List(ctx context.Context, calendarID string, from, to time.Time) ([]RemoteEvent, error) {
	u := fmt.Sprintf("%s/calendars/%s/events?from=%s&to=%s",
		c.baseURL, url.PathEscape(calendarID),
		url.QueryEscape(from.UTC().Format(time.RFC3339)),
		url.QueryEscape(to.UTC().Format(time.RFC3339)),
	)
	var bodies []remoteEventBody
	if err := c.do(ctx, http.MethodGet, u, nil, &bodies); err != nil {
		return nil, err
	}

	out := make([]RemoteEvent, 0, len(bodies))
	for _, b := range bodies {
		re := RemoteEvent{
			ID:          b.ID,
			Summary:     b.Summary,
			Description: b.Description,
			Location:    b.Location,
		}
		re.Start, _ = time.Parse(time.RFC3339, b.Start)
		if b.End != "" {
			re.End, _ = time.Parse(time.RFC3339, b.End)
		}
		if b.Created != "" {
			re.Created, _ = time.Parse(time.RFC3339, b.Created)
		}
		out = append(out, re)
	}
	return out, nil
}

func (c *HTTPRemote) Create(ctx context.Context, calendarID string, ev *model.CanonicalEvent) (string, error) {
	u := fmt.Sprintf("%s/calendars/%s/events", c.baseURL, url.PathEscape(calendarID))
	var resp remoteEventBody
	if err := c.do(ctx, http.MethodPost, u, toBody(ev), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("remote create returned no event id")
	}
	return resp.ID, nil
}

func (c *HTTPRemote) Update(ctx context.Context, calendarID, remoteID string, ev *model.CanonicalEvent) error {
	u := fmt.Sprintf("%s/calendars/%s/events/%s",
		c.baseURL, url.PathEscape(calendarID), url.PathEscape(remoteID))
	return c.do(ctx, http.MethodPut, u, toBody(ev), nil)
}

func (c *HTTPRemote) Delete(ctx context.Context, calendarID, remoteID string) error {
	u := fmt.Sprintf("%s/calendars/%s/events/%s",
		c.baseURL, url.PathEscape(calendarID), url.PathEscape(remoteID))
	return c.do(ctx, http.MethodDelete, u, nil, nil)
}

func toBody(ev *model.CanonicalEvent) *remoteEventBody {
	b := &remoteEventBody{
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       ev.Start.Format(time.RFC3339),
	}
	if ev.HasEnd() {
		b.End = ev.End.Format(time.RFC3339)
	}
	return b
}

func (c *HTTPRemote) do(ctx context.Context, method, u string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrRemoteNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return errors.New(resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode remote response: %w", err)
		}
	}
	return nil
}
