// Package leadtools builds the tool set for the sales development persona:
// FAQ answering, qualification capture, demo booking, and the final save.
// Handlers close over one session's lead record, so concurrent callers never
// cross-contaminate.
package leadtools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/solivox/solivox/internal/content"
	"github.com/solivox/solivox/internal/dialog"
	"github.com/solivox/solivox/internal/persist"
	"github.com/solivox/solivox/internal/toolhost"
	"github.com/solivox/solivox/pkg/types"
)

// Answerer resolves a visitor question to an FAQ entry. Satisfied by
// [content.SemanticIndex]; wrap a keyword-matched [content.FAQ] with
// [KeywordAnswerer].
type Answerer interface {
	Answer(ctx context.Context, utterance string) (content.FAQEntry, bool, error)
}

// KeywordAnswerer adapts the keyword-matched FAQ to the [Answerer] interface.
type KeywordAnswerer struct {
	FAQ *content.FAQ
}

var _ Answerer = KeywordAnswerer{}

// Answer implements [Answerer] without consulting ctx; keyword matching is
// purely local.
func (k KeywordAnswerer) Answer(_ context.Context, utterance string) (content.FAQEntry, bool, error) {
	entry, ok := k.FAQ.Answer(utterance)
	return entry, ok, nil
}

// DemoSlots are the demo times offered to qualified visitors.
var DemoSlots = []string{
	"Tuesday at 10am",
	"Tuesday at 2pm",
	"Wednesday at 11am",
	"Thursday at 3pm",
}

// faqMissReply is spoken when no FAQ entry matches the question.
const faqMissReply = "That's a good question — I don't have that in front of me, " +
	"but I'll make sure someone from our team follows up with the details."

// Fields returns the lead qualification fields in capture order. The demo
// slot is optional: leads save fine without a booking.
func Fields() []dialog.FieldSpec {
	return []dialog.FieldSpec{
		{ID: "name", Prompt: "May I have your name?", Required: true},
		{ID: "company", Prompt: "What company are you with?", Required: true},
		{ID: "email", Prompt: "What's the best email to reach you at?", Required: true, Lowercase: true, Validate: validateEmail},
		{ID: "role", Prompt: "And what's your role there?", Required: true},
		{ID: "use_case", Prompt: "What would you be using it for?", Required: true},
		{ID: "team_size", Prompt: "How big is the team that would use it?", Required: true},
		{ID: "timeline", Prompt: "When are you looking to get started?", Required: true},
		{ID: "booked_demo", Required: false},
	}
}

func validateEmail(raw string) error {
	if !strings.Contains(raw, "@") || !strings.Contains(raw, ".") {
		return fmt.Errorf("%q does not look like an email address", raw)
	}
	return nil
}

// New returns the SDR tool set bound to rec, answerer, and sink.
func New(rec *dialog.Record, answerer Answerer, sink persist.Sink, logger *slog.Logger) []toolhost.Tool {
	return []toolhost.Tool{
		{
			Definition: types.ToolDefinition{
				Name:        "answer_faq",
				Description: "Look up the answer to a visitor question about the product, pricing, integrations, security, or support.",
				Parameters: toolhost.ObjectSchema(map[string]any{
					"question": toolhost.StringProp("the visitor's question, verbatim"),
				}, "question"),
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				question := toolhost.StringArg(args, "question")
				entry, ok, err := answerer.Answer(ctx, question)
				if err != nil {
					return "", fmt.Errorf("answering faq: %w", err)
				}
				if !ok {
					logger.Debug("faq miss", "question", question)
					return faqMissReply, nil
				}
				return entry.Answer, nil
			},
		},
		{
			Definition: types.ToolDefinition{
				Name:        "collect_lead_info",
				Description: "Record one qualification detail the visitor shared. Fields: name, company, email, role, use_case, team_size, timeline.",
				Parameters: toolhost.ObjectSchema(map[string]any{
					"field": toolhost.StringProp("which qualification field the visitor answered"),
					"value": toolhost.StringProp("the visitor's answer, verbatim"),
				}, "field", "value"),
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				field := toolhost.StringArg(args, "field")
				value := toolhost.StringArg(args, "value")

				res, err := dialog.Apply(rec, field, value)
				if err != nil {
					return "", err
				}
				if res.Outcome == dialog.AlreadyCollected {
					return fmt.Sprintf("You already told me your %s — I have %s on file. %s",
						strings.ReplaceAll(field, "_", " "), res.Value.Text, nextQuestion(rec)), nil
				}
				if res.RecordComplete {
					return "That's everything I need. Would you like to book a quick demo while we're at it?", nil
				}
				return "Thanks! " + nextQuestion(rec), nil
			},
		},
		{
			Definition: types.ToolDefinition{
				Name:        "book_demo",
				Description: "Book a demo slot for the visitor. Call with no slot to hear the available times.",
				Parameters: toolhost.ObjectSchema(map[string]any{
					"slot": toolhost.StringProp("the slot the visitor picked, matching one of the offered times"),
				}),
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				slot := toolhost.StringArg(args, "slot")
				if slot == "" {
					return "I have " + joinSlots(DemoSlots) + " open. Which works for you?", nil
				}
				matched, ok := matchSlot(slot)
				if !ok {
					return "I don't have that time available — I can do " + joinSlots(DemoSlots) + ".", nil
				}
				res, err := dialog.Apply(rec, "booked_demo", matched)
				if err != nil {
					return "", err
				}
				if res.Outcome == dialog.AlreadyCollected {
					return fmt.Sprintf("You're already booked for %s.", res.Value.Text), nil
				}
				logger.Info("demo booked", "slot", matched)
				return fmt.Sprintf("You're all set for %s. I'll send a calendar invitation to your email.", matched), nil
			},
		},
		{
			Definition: types.ToolDefinition{
				Name:        "save_lead",
				Description: "Save the qualified lead. Call once the qualification questions are answered and the conversation is wrapping up.",
			},
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				if !rec.Complete() {
					return "Before I let you go — " + nextQuestion(rec), nil
				}
				if rec.Committed() {
					return "I've already got your details saved — you're all set.", nil
				}
				res, err := sink.Commit(ctx, rec)
				if err != nil {
					return "", fmt.Errorf("saving lead: %w", err)
				}
				rec.MarkCommitted()
				logger.Info("lead saved", "location", res.Location, "artifacts", len(res.Artifacts))
				return "Wonderful — I've passed your details along. You'll hear from us shortly. Anything else I can help with?", nil
			},
		},
	}
}

// matchSlot resolves the visitor's phrasing against [DemoSlots]. Matching is
// case-insensitive containment either way, so "tuesday at 2" hits
// "Tuesday at 2pm".
func matchSlot(spoken string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(spoken))
	if needle == "" {
		return "", false
	}
	for _, slot := range DemoSlots {
		hay := strings.ToLower(slot)
		if strings.Contains(hay, needle) || strings.Contains(needle, hay) {
			return slot, true
		}
	}
	return "", false
}

func joinSlots(slots []string) string {
	switch len(slots) {
	case 0:
		return "no slots"
	case 1:
		return slots[0]
	default:
		return strings.Join(slots[:len(slots)-1], ", ") + ", or " + slots[len(slots)-1]
	}
}

func nextQuestion(rec *dialog.Record) string {
	if next, ok := dialog.NextOpenField(rec); ok {
		return next.Prompt
	}
	return "Would you like to book a demo?"
}
