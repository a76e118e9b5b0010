package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"famcal/internal/config"
	appLog "famcal/internal/log"
	"famcal/internal/model"
)

const apiFetchTimeout = 15 * time.Second

// APIAdapter fetches events from a third-party calendar API that serves
// a JSON array of event records.
type APIAdapter struct {
	src    config.SourceConfig
	window Window
	client *http.Client
}

// NewAPIAdapter creates an adapter for a JSON calendar API source.
func NewAPIAdapter(src config.SourceConfig, window Window) *APIAdapter {
	return &APIAdapter{
		src:    src,
		window: window,
		client: &http.Client{Timeout: apiFetchTimeout},
	}
}

func (a *APIAdapter) SourceID() string { return a.src.ID }

// apiEvent is the wire shape of one record from the calendar API.
type apiEvent struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Start       string `json:"start"` // RFC3339
	End         string `json:"end"`   // RFC3339, optional
}

func (a *APIAdapter) Fetch(ctx context.Context) ([]model.RawEvent, int, error) {
	if a.src.URL == "" {
		return nil, 0, errors.New("source URL is empty")
	}

	url := fmt.Sprintf("%s?from=%s&to=%s",
		a.src.URL,
		a.window.From.UTC().Format(time.RFC3339),
		a.window.To.UTC().Format(time.RFC3339),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, errors.New(resp.Status)
	}

	var records []apiEvent
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, 0, fmt.Errorf("decode API response: %w", err)
	}

	var (
		out     []model.RawEvent
		skipped int
	)
	for _, rec := range records {
		raw, perr := rec.toRaw(a.src.ID)
		if perr != nil {
			skipped++
			appLog.Error("api record unusable, skipping", perr, "source", a.src.ID, "id", rec.ID)
			continue
		}
		out = append(out, raw)
	}
	return out, skipped, nil
}

func (r apiEvent) toRaw(sourceID string) (model.RawEvent, error) {
	raw := model.RawEvent{
		SourceID:    sourceID,
		ProviderID:  r.ID,
		Summary:     r.Title,
		Description: r.Description,
		Location:    r.Location,
	}
	if r.Start != "" {
		start, err := time.Parse(time.RFC3339, r.Start)
		if err != nil {
			return model.RawEvent{}, fmt.Errorf("bad start %q: %w", r.Start, err)
		}
		raw.Start = start
	}
	if r.End != "" {
		end, err := time.Parse(time.RFC3339, r.End)
		if err != nil {
			return model.RawEvent{}, fmt.Errorf("bad end %q: %w", r.End, err)
		}
		raw.End = end
	}
	if raw.ProviderID == "" && raw.Start.IsZero() {
		return model.RawEvent{}, errors.New("missing both id and start")
	}
	return raw, nil
}

// BuildAdapters constructs one adapter per configured source.
func BuildAdapters(sources []config.SourceConfig, cacheDir string, window Window) []Adapter {
	adapters := make([]Adapter, 0, len(sources))
	for _, src := range sources {
		switch src.Kind {
		case "api":
			adapters = append(adapters, NewAPIAdapter(src, window))
		default:
			adapters = append(adapters, NewICSAdapter(src, cacheDir, window))
		}
	}
	return adapters
}
