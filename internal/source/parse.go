package source

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"famcal/internal/config"
	appLog "famcal/internal/log"
	"famcal/internal/model"
)

// maxInstancesPerEvent caps recurrence expansion so a pathological RRULE
// cannot flood the pipeline.
const maxInstancesPerEvent = 1000

// parseFeed parses an ICS payload into raw events, expanding recurring
// VEVENTs within the window. A malformed VEVENT is skipped and counted;
// it never aborts the rest of the feed.
func parseFeed(src config.SourceConfig, body []byte, window Window) ([]model.RawEvent, int, error) {
	if len(body) == 0 {
		return nil, 0, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}

	var (
		out     []model.RawEvent
		skipped int
	)
	for _, ve := range cal.Events() {
		events, perr := parseVEvent(src, ve, window)
		if perr != nil {
			skipped++
			appLog.Error("feed vevent unusable, skipping", perr, "source", src.ID)
			continue
		}
		out = append(out, events...)
	}

	appLog.Debug("feed parsed",
		"source", src.ID, "events", len(out), "skipped", skipped)
	return out, skipped, nil
}

// parseVEvent turns one VEVENT into zero or more raw events: one for a
// plain event, one per instance in the window for a recurring event.
func parseVEvent(src config.SourceConfig, ve *ical.VEvent, window Window) ([]model.RawEvent, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	uid := ""
	if uidProp != nil {
		uid = uidProp.Value
	}

	start, _ := ve.GetStartAt()
	end, _ := ve.GetEndAt()
	if uid == "" && start.IsZero() {
		return nil, errors.New("missing both UID and DTSTART")
	}

	base := model.RawEvent{
		SourceID:   src.ID,
		ProviderID: uid,
		Start:      start,
		End:        end,
		AllDay:     isAllDay(ve),
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		base.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		base.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		base.Location = p.Value
	}

	rruleProp := ve.GetProperty(ical.ComponentPropertyRrule)
	if rruleProp == nil || rruleProp.Value == "" || start.IsZero() {
		return []model.RawEvent{base}, nil
	}

	return expandRecurring(base, rruleProp.Value, exDates(ve), window)
}

// expandRecurring materializes instances of a recurring event inside the
// window. Each instance derives an instance-scoped provider id so the
// canonical uid stays unique per occurrence.
func expandRecurring(base model.RawEvent, rawRRule string, exdates []time.Time, window Window) ([]model.RawEvent, error) {
	r, err := rrule.StrToRRule(rawRRule)
	if err != nil {
		return nil, err
	}
	r.DTStart(base.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range exdates {
		set.ExDate(ex.In(base.Start.Location()))
	}

	from := window.From.In(base.Start.Location())
	to := window.To.In(base.Start.Location())
	starts := set.Between(from, to, true)
	if len(starts) > maxInstancesPerEvent {
		appLog.Error("recurrence expansion truncated", errors.New("instance cap reached"),
			"uid", base.ProviderID, "cap", maxInstancesPerEvent)
		starts = starts[:maxInstancesPerEvent]
	}

	dur := time.Duration(0)
	if !base.End.IsZero() {
		dur = base.End.Sub(base.Start)
	}

	out := make([]model.RawEvent, 0, len(starts))
	for _, instStart := range starts {
		inst := base
		inst.Start = instStart
		if dur > 0 {
			inst.End = instStart.Add(dur)
		} else {
			inst.End = time.Time{}
		}
		if base.ProviderID != "" {
			inst.ProviderID = base.ProviderID + "/" + instStart.UTC().Format(time.RFC3339)
		}
		out = append(out, inst)
	}
	return out, nil
}

// isAllDay reports whether DTSTART is a date value (VALUE=DATE or no
// time component).
func isAllDay(ve *ical.VEvent) bool {
	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return false
	}
	if params := p.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(p.Value, "T")
}

// exDates collects EXDATE values; entries that fail to parse are ignored.
func exDates(ve *ical.VEvent) []time.Time {
	var out []time.Time
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

// parseICSTime parses basic ICS DATE / DATE-TIME / UTC forms.
func parseICSTime(v string) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.Local)
	default:
		return time.ParseInLocation("20060102", v, time.Local)
	}
}
