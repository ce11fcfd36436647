// Package ordertools builds the tool set for the coffee ordering persona.
// Every handler closes over one session's order record and sink, so two
// sessions never share ordering state.
package ordertools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/solivox/solivox/internal/dialog"
	"github.com/solivox/solivox/internal/persist"
	"github.com/solivox/solivox/internal/toolhost"
	"github.com/solivox/solivox/pkg/types"
)

// Fields returns the order field specs in the sequence the barista asks them.
func Fields() []dialog.FieldSpec {
	return []dialog.FieldSpec{
		{ID: "drink_type", Prompt: "What would you like to drink?", Required: true, Lowercase: true},
		{ID: "size", Prompt: "What size would you like — small, medium, or large?", Required: true, Lowercase: true},
		{ID: "milk", Prompt: "What kind of milk?", Required: true, Lowercase: true},
		{ID: "extras", Prompt: "Any extras, like an extra shot or syrup?", Required: true, List: true, NegativeSentinel: true, Lowercase: true},
		{ID: "name", Prompt: "And what name should I put on the cup?", Required: true},
	}
}

// New returns the barista tool set bound to rec and sink.
func New(rec *dialog.Record, sink persist.Sink, logger *slog.Logger) []toolhost.Tool {
	return []toolhost.Tool{
		{
			Definition: types.ToolDefinition{
				Name:        "record_order_field",
				Description: "Record one detail of the customer's coffee order. Fields: drink_type, size, milk, extras, name.",
				Parameters: toolhost.ObjectSchema(map[string]any{
					"field": toolhost.StringProp("which order field the customer answered"),
					"value": toolhost.StringProp("the customer's answer, verbatim"),
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
					logger.Debug("order field repeated", "field", field)
					return fmt.Sprintf("You already told me the %s — I have %s down. %s",
						strings.ReplaceAll(field, "_", " "), describeValue(res), nextQuestion(rec)), nil
				}
				if res.RecordComplete {
					return "Got everything! Want me to read the order back, or shall I place it?", nil
				}
				return nextQuestion(rec), nil
			},
		},
		{
			Definition: types.ToolDefinition{
				Name:        "confirm_order",
				Description: "Place the completed order. Call only after the customer confirms.",
			},
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				if !rec.Complete() {
					return "We're not quite done yet. " + nextQuestion(rec), nil
				}
				if rec.Committed() {
					return "That order is already in — it's being made right now.", nil
				}
				res, err := sink.Commit(ctx, rec)
				if err != nil {
					return "", fmt.Errorf("placing order: %w", err)
				}
				rec.MarkCommitted()
				logger.Info("order committed", "location", res.Location)
				return fmt.Sprintf("Perfect — one %s coming right up. We'll call your name when it's ready!",
					Summary(rec)), nil
			},
		},
		{
			Definition: types.ToolDefinition{
				Name:        "start_new_order",
				Description: "Clear the current order and start over. Use when the customer wants to order again or scrap their order.",
			},
			Handler: func(_ context.Context, _ map[string]any) (string, error) {
				rec.Reset()
				return "No problem, starting fresh. " + nextQuestion(rec), nil
			},
		},
	}
}

// Summary renders the order as a short spoken phrase, e.g.
// "medium oat milk latte with vanilla syrup for Alex".
func Summary(rec *dialog.Record) string {
	order := persist.OrderFromRecord(rec)
	var sb strings.Builder
	if order.Size != nil {
		sb.WriteString(*order.Size + " ")
	}
	if order.Milk != nil {
		sb.WriteString(*order.Milk + " milk ")
	}
	if order.DrinkType != nil {
		sb.WriteString(*order.DrinkType)
	}
	if len(order.Extras) > 0 {
		sb.WriteString(" with " + strings.Join(order.Extras, " and "))
	}
	if order.Name != nil {
		sb.WriteString(" for " + *order.Name)
	}
	return strings.TrimSpace(sb.String())
}

func nextQuestion(rec *dialog.Record) string {
	if next, ok := dialog.NextOpenField(rec); ok {
		return next.Prompt
	}
	return "Shall I place the order?"
}

func describeValue(res dialog.ApplyResult) string {
	if res.Field.List {
		if len(res.Value.List) == 0 {
			return "none"
		}
		return strings.Join(res.Value.List, " and ")
	}
	return res.Value.Text
}
