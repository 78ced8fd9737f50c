package inference

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"smart-event-relay/internal/model"
	"smart-event-relay/internal/parser"
)

// Confidence is the fixed confidence assigned to inferred candidates
const Confidence = 0.8

const untitled = "Untitled Event"

type eventPayload struct {
	Title     *string    `json:"title"`
	StartDate *string    `json:"start_date"`
	StartTime *string    `json:"start_time"`
	EndDate   *string    `json:"end_date"`
	EndTime   *string    `json:"end_time"`
	Location  *string    `json:"location"`
	PrepItems stringList `json:"prep_items"`
}

// stringList accepts a JSON array of strings, a single string or null
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one = strings.TrimSpace(one); one != "" {
			*l = stringList{one}
		}
		return nil
	}
	var many []*string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	for _, s := range many {
		if s == nil {
			continue
		}
		if v := strings.TrimSpace(*s); v != "" {
			*l = append(*l, v)
		}
	}
	return nil
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// ParseResponse converts model output into an inference candidate. Prose or
// code fences around the JSON object are ignored.
func ParseResponse(raw string, msg parser.Message, loc *time.Location) (parser.Candidate, error) {
	if loc == nil {
		loc = time.UTC
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return parser.Candidate{}, fmt.Errorf("no JSON object in response")
	}

	var p eventPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &p); err != nil {
		return parser.Candidate{}, fmt.Errorf("invalid JSON: %w", err)
	}

	startDate := str(p.StartDate)
	if startDate == "" {
		return parser.Candidate{}, fmt.Errorf("missing start_date")
	}
	startTime := str(p.StartTime)
	startAt, err := combine(startDate, startTime, loc)
	if err != nil {
		return parser.Candidate{}, fmt.Errorf("invalid start: %w", err)
	}

	endDate, endTime := str(p.EndDate), str(p.EndTime)
	if endDate == "" {
		endDate = startDate
	}
	if endTime == "" {
		endTime = startTime
	}
	endAt, err := combine(endDate, endTime, loc)
	if err != nil {
		return parser.Candidate{}, fmt.Errorf("invalid end: %w", err)
	}
	if endAt.Before(startAt) {
		endAt = startAt
	}

	title := str(p.Title)
	if title == "" {
		title = parser.CleanTitle(msg.Subject)
	}
	if title == "" {
		title = untitled
	}

	return parser.Candidate{
		Title:      title,
		Start:      startAt.UTC(),
		End:        endAt.UTC(),
		Location:   str(p.Location),
		PrepItems:  []string(p.PrepItems),
		Confidence: Confidence,
		Provenance: model.ProvenanceInference,
	}, nil
}

func combine(date, clock string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, err
	}
	if clock == "" {
		return day, nil
	}
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, clock); err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", clock)
}
