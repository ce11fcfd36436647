// Package tutortools builds the tool set for the tutoring persona: switching
// teaching modes, choosing a topic, and listing what can be studied. Mode and
// topic state lives in the session's flow controller.
package tutortools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/solivox/solivox/internal/content"
	"github.com/solivox/solivox/internal/flow"
	"github.com/solivox/solivox/internal/toolhost"
	"github.com/solivox/solivox/pkg/types"
)

// New returns the tutor tool set bound to ctrl and catalog.
func New(ctrl *flow.Controller, catalog *content.Catalog, logger *slog.Logger) []toolhost.Tool {
	// The controller starts in its coordinator mode; finish_topic returns
	// there once the student wraps up a topic.
	home := ctrl.Mode()
	return []toolhost.Tool{
		{
			Definition: types.ToolDefinition{
				Name:        "set_mode",
				Description: "Switch the tutoring mode. Modes: coordinator, learn, quiz, teach_back.",
				Parameters: toolhost.ObjectSchema(map[string]any{
					"mode": toolhost.StringProp("the mode to switch to"),
				}, "mode"),
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				mode := toolhost.StringArg(args, "mode")
				intro, err := ctrl.RequestMode(mode)
				switch {
				case errors.Is(err, flow.ErrUnknownMode):
					return fmt.Sprintf("I don't have a %q mode — you can pick %s.",
						mode, joinNames(ctrl.Modes())), nil
				case errors.Is(err, flow.ErrPreconditionNotMet):
					// The controller stayed where it was; intro carries the
					// mode's guidance on what to do first.
					logger.Debug("mode request deferred", "mode", mode)
					return intro, nil
				case err != nil:
					return "", err
				}
				logger.Info("mode switched", "mode", ctrl.Mode())
				return intro, nil
			},
		},
		{
			Definition: types.ToolDefinition{
				Name:        "choose_topic",
				Description: "Set the topic to study. The student can name it loosely; close pronunciations are fine.",
				Parameters: toolhost.ObjectSchema(map[string]any{
					"topic": toolhost.StringProp("the topic the student asked for, verbatim"),
				}, "topic"),
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				topic := toolhost.StringArg(args, "topic")
				reply, err := ctrl.RequestTopic(topic)
				if errors.Is(err, flow.ErrUnknownTopic) {
					return fmt.Sprintf("I don't have anything on %q yet. %s", topic, topicMenu(catalog)), nil
				}
				if err != nil {
					return "", err
				}
				return reply, nil
			},
		},
		{
			Definition: types.ToolDefinition{
				Name:        "finish_topic",
				Description: "Wrap up the current topic and return to the topic menu. Use when the student is done with a topic or wants to study something else.",
			},
			Handler: func(_ context.Context, _ map[string]any) (string, error) {
				ctrl.ClearTopic()
				intro, err := ctrl.RequestMode(home)
				if err != nil {
					return "", err
				}
				logger.Info("topic finished")
				return intro + " " + topicMenu(catalog), nil
			},
		},
		{
			Definition: types.ToolDefinition{
				Name:        "list_topics",
				Description: "List the topics available to study.",
			},
			Handler: func(_ context.Context, _ map[string]any) (string, error) {
				return topicMenu(catalog), nil
			},
		},
	}
}

// topicMenu renders the catalog as a spoken menu.
func topicMenu(catalog *content.Catalog) string {
	topics := catalog.Topics()
	var sb strings.Builder
	sb.WriteString("We can cover ")
	for i, t := range topics {
		switch {
		case i == 0:
		case i == len(topics)-1:
			sb.WriteString(", or ")
		default:
			sb.WriteString(", ")
		}
		sb.WriteString(t.Title)
	}
	sb.WriteString(". Which sounds good?")
	return sb.String()
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return "nothing"
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + ", or " + names[len(names)-1]
	}
}
