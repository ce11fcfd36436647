package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EmailDraft is the derived follow-up artifact for a committed lead.
type EmailDraft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ComposeDraft derives the follow-up email deterministically from a committed
// lead: the same lead always produces the same draft.
func ComposeDraft(lead Lead) EmailDraft {
	name := lead.Name
	if name == "" {
		name = "there"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	b.WriteString("Thanks for taking the time to chat today.")
	if lead.UseCase != "" {
		fmt.Fprintf(&b, " It sounds like %s is exactly the kind of thing we can help with", lead.UseCase)
		if lead.Company != "" {
			fmt.Fprintf(&b, " at %s", lead.Company)
		}
		b.WriteString(".")
	}
	b.WriteString("\n\n")
	if lead.BookedDemo != "" && lead.BookedDemo != NotBooked {
		fmt.Fprintf(&b, "You're confirmed for a demo: %s. A calendar invite is on its way.\n\n", lead.BookedDemo)
	} else {
		b.WriteString("If you'd like a closer look, grab any slot on our calendar and we'll walk through it together.\n\n")
	}
	b.WriteString("Best,\nThe team")

	subject := "Great talking with you"
	if lead.Company != "" {
		subject = fmt.Sprintf("Great talking with you, %s — next steps for %s", name, lead.Company)
	} else if lead.Name != "" {
		subject = fmt.Sprintf("Great talking with you, %s", name)
	}

	return EmailDraft{Subject: subject, Body: b.String()}
}

// WriteDraft composes and writes the draft for a lead under dir, keyed by the
// lead's contact identifier and timestamp so concurrent leads never collide.
// Returns the path written.
func WriteDraft(dir string, lead Lead) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("persist: create draft dir: %w", err)
	}

	contact := sanitizeContact(lead.Email)
	if contact == "" {
		contact = sanitizeContact(lead.Name)
	}
	if contact == "" {
		contact = "unknown"
	}

	ts, err := time.Parse(time.RFC3339, lead.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s.json", contact, ts.Format("20060102T150405Z")))

	data, err := json.MarshalIndent(ComposeDraft(lead), "", "  ")
	if err != nil {
		return "", fmt.Errorf("persist: marshal draft: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("persist: write draft: %w", err)
	}
	return path, nil
}

// sanitizeContact reduces a contact identifier to a filesystem-safe token.
func sanitizeContact(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '@' || r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return b.String()
}
