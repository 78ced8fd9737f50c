package parser

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"smart-event-relay/internal/model"
)

const maxTitleLen = 255

var (
	isoDateRe      = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDateRe    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	dashDateRe     = regexp.MustCompile(`\b(\d{1,2})-(\d{1,2})-(\d{4})\b`)
	monthDateRe    = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	relativeDateRe = regexp.MustCompile(`(?i)\b(today|tonight|tomorrow)\b`)

	clockRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*([ap])\.?m\b\.?`)

	labelLocationRe  = regexp.MustCompile(`(?i)\b(?:location|venue|address)\s*:\s*([^\r\n]+)`)
	phraseLocationRe = regexp.MustCompile(`(?i)\b(?:held at|taking place at|located at)\s+([^\r\n]+)`)
	bareAtRe         = regexp.MustCompile(`\b[Aa]t\s+([A-Z][\w'&-]*(?:\s+(?:(?:of|the|and|&)\s+)*[A-Z][\w'&-]*)*)`)

	prepRe = regexp.MustCompile(`(?i)\b(?:remember to bring|don't forget to bring|what to bring|items needed|bring|pack)\b\s*:?\s*([^\r\n]+)`)

	clauseEndRe    = regexp.MustCompile(`[,;]|[.!?](?:\s|$)`)
	sentenceEndRe  = regexp.MustCompile(`[.!?](?:\s|$)`)
	itemSplitRe    = regexp.MustCompile(`\s*(?:[,;•]|\band\b)\s*`)
	titlePrefixRe  = regexp.MustCompile(`(?i)^\s*(?:(?:re|fwd?)\s*:|\[(?:reminder|event)\])\s*`)
	titleTrailerRe = regexp.MustCompile(`(?i)(?:[\s,;:-]+(?:on|at|from|this|next|is))+[\s,;:-]*$`)
)

// Words that follow a bare "at" without naming a place
var notPlaces = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
	"january": true, "february": true, "march": true, "april": true, "may": true, "june": true,
	"july": true, "august": true, "september": true, "october": true, "november": true, "december": true,
	"noon": true, "midnight": true,
}

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// Features are the fields pattern matching found in a message
type Features struct {
	Title     string
	HasDate   bool
	HasTime   bool
	Date      time.Time
	Start     time.Time
	End       time.Time
	Location  string
	PrepItems []string
}

// Candidate converts the features into a scored pattern candidate
func (f Features) Candidate() Candidate {
	c := Candidate{
		Title:      f.Title,
		Location:   f.Location,
		PrepItems:  f.PrepItems,
		Confidence: Score(f),
		Provenance: model.ProvenancePattern,
	}
	if !f.Start.IsZero() {
		c.Start = f.Start.UTC()
		c.End = f.End.UTC()
	}
	return c
}

// Parse runs pattern extraction and scoring over a message
func Parse(msg Message, loc *time.Location) Candidate {
	return Extract(msg, loc).Candidate()
}

// Extract finds the title, schedule, location and preparation items of a
// message. Dates and times are interpreted in loc, and relative day words
// are resolved against the message's received time. For every field the
// first match in document order wins.
func Extract(msg Message, loc *time.Location) Features {
	if loc == nil {
		loc = time.UTC
	}
	body := BodyText(msg.Body)
	text := msg.Subject + "\n" + body

	f := Features{Title: CleanTitle(msg.Subject)}
	if f.Title == "" {
		f.Title = titleFromBody(body)
	}

	if date, ok := firstDate(text, msg.ReceivedAt, loc); ok {
		f.HasDate = true
		f.Date = date
	}

	clocks := findClocks(text)
	f.HasTime = len(clocks) > 0

	if f.HasDate {
		f.Start = f.Date
		if f.HasTime {
			f.Start = clocks[0].on(f.Date)
		}
		f.End = f.Start
		if len(clocks) > 1 {
			end := clocks[1].on(f.Date)
			if end.Before(f.Start) {
				end = clocks[1].on(f.Date.AddDate(0, 0, 1))
			}
			f.End = end
		}
	}

	f.Location = findLocation(text)
	f.PrepItems = findPrepItems(text)
	return f
}

type dateMatch struct {
	pos  int
	date time.Time
}

func firstDate(text string, ref time.Time, loc *time.Location) (time.Time, bool) {
	var matches []dateMatch

	for _, m := range isoDateRe.FindAllStringSubmatchIndex(text, -1) {
		y, mo, d := atoi(text, m, 1), atoi(text, m, 2), atoi(text, m, 3)
		if t, ok := civilDate(y, time.Month(mo), d, loc); ok {
			matches = append(matches, dateMatch{m[0], t})
		}
	}
	for _, re := range []*regexp.Regexp{slashDateRe, dashDateRe} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			mo, d, y := atoi(text, m, 1), atoi(text, m, 2), atoi(text, m, 3)
			if t, ok := civilDate(y, time.Month(mo), d, loc); ok {
				matches = append(matches, dateMatch{m[0], t})
			}
		}
	}
	for _, m := range monthDateRe.FindAllStringSubmatchIndex(text, -1) {
		mo := months[strings.ToLower(text[m[2]:m[3]])]
		d, y := atoi(text, m, 2), atoi(text, m, 3)
		if t, ok := civilDate(y, mo, d, loc); ok {
			matches = append(matches, dateMatch{m[0], t})
		}
	}
	if !ref.IsZero() {
		local := ref.In(loc)
		today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		for _, m := range relativeDateRe.FindAllStringSubmatchIndex(text, -1) {
			t := today
			if strings.EqualFold(text[m[2]:m[3]], "tomorrow") {
				t = today.AddDate(0, 0, 1)
			}
			matches = append(matches, dateMatch{m[0], t})
		}
	}

	if len(matches) == 0 {
		return time.Time{}, false
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })
	return matches[0].date, true
}

func civilDate(y int, m time.Month, d int, loc *time.Location) (time.Time, bool) {
	if m < time.January || m > time.December || d < 1 {
		return time.Time{}, false
	}
	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if t.Month() != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func atoi(text string, m []int, group int) int {
	n, _ := strconv.Atoi(text[m[2*group]:m[2*group+1]])
	return n
}

type clock struct {
	hour, minute int
}

func (c clock) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.minute, 0, 0, day.Location())
}

func findClocks(text string) []clock {
	var out []clock
	for _, m := range clockRe.FindAllStringSubmatchIndex(text, -1) {
		h := atoi(text, m, 1)
		minute := 0
		if m[4] >= 0 {
			minute = atoi(text, m, 2)
		}
		if h < 1 || h > 12 || minute > 59 {
			continue
		}
		h %= 12
		if strings.EqualFold(text[m[6]:m[7]], "p") {
			h += 12
		}
		out = append(out, clock{hour: h, minute: minute})
	}
	return out
}

func findLocation(text string) string {
	best, bestPos := "", -1
	if m := labelLocationRe.FindStringSubmatchIndex(text); m != nil {
		best, bestPos = trimValue(text[m[2]:m[3]]), m[0]
	}
	if m := phraseLocationRe.FindStringSubmatchIndex(text); m != nil && (bestPos < 0 || m[0] < bestPos) {
		best, bestPos = trimValue(cutAt(text[m[2]:m[3]], clauseEndRe)), m[0]
	}
	if bestPos >= 0 && best != "" {
		return best
	}

	for _, m := range bareAtRe.FindAllStringSubmatch(text, -1) {
		place := trimValue(m[1])
		first := strings.ToLower(strings.Fields(place)[0])
		if notPlaces[first] {
			continue
		}
		return place
	}
	return ""
}

func findPrepItems(text string) []string {
	m := prepRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	line := cutAt(m[1], sentenceEndRe)

	var items []string
	for _, part := range itemSplitRe.Split(line, -1) {
		item := trimValue(part)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// CleanTitle strips reply, forward and tag prefixes from a subject line
func CleanTitle(subject string) string {
	title := strings.TrimSpace(subject)
	for {
		stripped := titlePrefixRe.ReplaceAllString(title, "")
		if stripped == title {
			break
		}
		title = strings.TrimSpace(stripped)
	}
	return truncate(title)
}

// titleFromBody uses the first body line up to the first scheduling or
// location phrase as the title.
func titleFromBody(body string) string {
	var line string
	for _, l := range strings.Split(body, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if line == "" {
		return ""
	}

	cut := len(line)
	for _, re := range []*regexp.Regexp{
		isoDateRe, slashDateRe, dashDateRe, monthDateRe, relativeDateRe,
		clockRe, labelLocationRe, phraseLocationRe, bareAtRe, prepRe,
	} {
		if loc := re.FindStringIndex(line); loc != nil && loc[0] < cut {
			cut = loc[0]
		}
	}

	title := titleTrailerRe.ReplaceAllString(line[:cut], "")
	return truncate(trimValue(title))
}

func cutAt(s string, re *regexp.Regexp) string {
	if loc := re.FindStringIndex(s); loc != nil {
		return s[:loc[0]]
	}
	return s
}

func trimValue(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), " \t.,;:!-")
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxTitleLen {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:maxTitleLen]))
}
