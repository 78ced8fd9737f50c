package parser

import (
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

var (
	htmlTagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	htmlBlockRe  = regexp.MustCompile(`(?i)<\s*(?:br|/p|/div|/li|/tr|/h[1-6])[^>]*>`)
	blankLinesRe = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
)

// BodyText returns the readable text of a stored message body. Bodies kept
// as full RFC 5322 messages are decoded to their text/plain part, or to
// tag-stripped text/html when no plain part exists. Anything else is
// returned as is.
func BodyText(raw string) string {
	if !looksLikeMIME(raw) {
		return raw
	}

	entity, err := message.Read(strings.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return raw
	}
	if entity.Header.Get("Content-Type") == "" && entity.Header.Get("Mime-Version") == "" {
		return raw
	}

	plain, htmlText := collectParts(entity)
	switch {
	case plain != "":
		return plain
	case htmlText != "":
		return stripHTML(htmlText)
	default:
		return raw
	}
}

func looksLikeMIME(raw string) bool {
	head := raw
	if i := strings.Index(raw, "\n\n"); i >= 0 {
		head = raw[:i]
	} else if i := strings.Index(raw, "\r\n\r\n"); i >= 0 {
		head = raw[:i]
	} else {
		return false
	}
	lower := strings.ToLower(head)
	return strings.Contains(lower, "content-type:") || strings.Contains(lower, "mime-version:")
}

// collectParts walks the entity and returns the first text/plain and text/html bodies
func collectParts(e *message.Entity) (plain, htmlText string) {
	if mr := e.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil && !message.IsUnknownCharset(err) {
				break
			}
			p, h := collectParts(part)
			if plain == "" {
				plain = p
			}
			if htmlText == "" {
				htmlText = h
			}
		}
		return plain, htmlText
	}

	mediaType, _, err := e.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}
	if disp, _, err := e.Header.ContentDisposition(); err == nil && disp == "attachment" {
		return "", ""
	}

	data, err := io.ReadAll(e.Body)
	if err != nil {
		return "", ""
	}
	switch mediaType {
	case "text/plain":
		return strings.TrimSpace(string(data)), ""
	case "text/html":
		return "", string(data)
	}
	return "", ""
}

func stripHTML(s string) string {
	s = htmlBlockRe.ReplaceAllString(s, "\n")
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	s = strings.Join(lines, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
