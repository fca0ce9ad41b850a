// Package mailbox turns unseen mail in an IMAP folder into issues.
package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/redmine-bridge/internal/model"
)

// Message is an inbound mail reduced to what issue creation needs.
type Message struct {
	UID       uint32
	MessageID string
	From      string
	Subject   string
	Date      time.Time
	Text      string
}

// keywordLine matches a pseudo-header such as "Tracker: Bug".
var keywordLine = regexp.MustCompile(`^(?i)(project|tracker|priority)\s*:\s*(.*?)\s*$`)

// IssueRequest maps the message onto a create-issue request. Leading
// "Project:", "Tracker:" and "Priority:" lines override the connection
// defaults and are removed from the description.
func (m Message) IssueRequest() model.IssueRequest {
	req := model.IssueRequest{Subject: strings.TrimSpace(m.Subject)}

	lines := strings.Split(strings.ReplaceAll(m.Text, "\r\n", "\n"), "\n")
	i := 0
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		match := keywordLine.FindStringSubmatch(line)
		if match == nil {
			break
		}
		value := model.ID(match[2])
		switch strings.ToLower(match[1]) {
		case "project":
			req.ProjectID = value
		case "tracker":
			req.TrackerID = value
		case "priority":
			req.PriorityID = value
		}
	}

	req.Description = strings.TrimSpace(stripSignature(strings.Join(lines[i:], "\n")))
	return req
}

// stripSignature drops everything after a "-- " signature delimiter.
func stripSignature(body string) string {
	if idx := strings.Index(body, "\n-- \n"); idx >= 0 {
		return body[:idx]
	}
	if strings.HasPrefix(body, "-- \n") {
		return ""
	}
	return body
}

// ParseMessage parses a raw RFC 5322 message. The first text/plain part
// becomes Text; other parts are ignored.
func ParseMessage(raw []byte) (Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return Message{}, fmt.Errorf("parsing message: %w", err)
	}
	defer mr.Close()

	var msg Message
	msg.Subject, _ = mr.Header.Subject()
	msg.MessageID, _ = mr.Header.MessageID()
	msg.Date, _ = mr.Header.Date()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return msg, fmt.Errorf("reading message part: %w", err)
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType != "" && !strings.HasPrefix(contentType, "text/plain") {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return msg, fmt.Errorf("reading text part: %w", err)
		}
		msg.Text = string(body)
		break
	}

	return msg, nil
}
