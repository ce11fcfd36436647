// Package flow implements the mode/topic controller: a cyclic finite state
// machine over the conversational modes a session type declares. Transitions
// go through RequestMode and RequestTopic only; no other component mutates the
// active mode. Task modes may be gated on a topic having been selected first.
package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/solivox/solivox/internal/content"
)

// Sentinel errors surfaced by the controller. All three are recovered at the
// session boundary and spoken as guidance; none of them changes state.
var (
	// ErrUnknownMode is returned when the requested mode is not configured.
	ErrUnknownMode = errors.New("flow: unknown mode")

	// ErrUnknownTopic is returned when the requested topic is not in the
	// topic table.
	ErrUnknownTopic = errors.New("flow: unknown topic")

	// ErrPreconditionNotMet is returned when a gated mode is requested before
	// a topic has been selected.
	ErrPreconditionNotMet = errors.New("flow: mode precondition not met")
)

// ModeSpec declares one conversational mode.
type ModeSpec struct {
	// Name identifies the mode (e.g. "coordinator", "quiz").
	Name string

	// Intro is the fixed introduction spoken on entering the mode. The
	// placeholders {topic}, {summary} and {sample_question} are filled from
	// the active topic.
	Intro string

	// RequiresTopic gates the mode on a prior RequestTopic.
	RequiresTopic bool

	// Guidance is spoken instead of transitioning when the gate blocks.
	Guidance string
}

// Controller is the per-session mode state machine. It is not safe for
// concurrent use; the session's control loop is its only caller.
type Controller struct {
	modes   map[string]ModeSpec
	order   []string
	catalog *content.Catalog

	current string
	topic   *content.Topic
}

// New creates a Controller with the given modes, starting in initial.
// catalog may be nil for session types without topics; gated modes then
// always fail their precondition.
func New(initial string, modes []ModeSpec, catalog *content.Catalog) (*Controller, error) {
	if len(modes) == 0 {
		return nil, errors.New("flow: at least one mode is required")
	}
	byName := make(map[string]ModeSpec, len(modes))
	order := make([]string, 0, len(modes))
	for _, m := range modes {
		if m.Name == "" {
			return nil, errors.New("flow: mode with empty name")
		}
		if _, dup := byName[m.Name]; dup {
			return nil, fmt.Errorf("flow: duplicate mode %q", m.Name)
		}
		byName[m.Name] = m
		order = append(order, m.Name)
	}
	if _, ok := byName[initial]; !ok {
		return nil, fmt.Errorf("flow: initial mode %q is not configured", initial)
	}
	return &Controller{
		modes:   byName,
		order:   order,
		catalog: catalog,
		current: initial,
	}, nil
}

// Mode returns the active mode name.
func (c *Controller) Mode() string { return c.current }

// Modes returns the configured mode names in declared order.
func (c *Controller) Modes() []string { return c.order }

// Topic returns the active topic, if one has been selected.
func (c *Controller) Topic() (content.Topic, bool) {
	if c.topic == nil {
		return content.Topic{}, false
	}
	return *c.topic, true
}

// RequestMode transitions to the named mode and returns its introduction
// text. An unknown name fails with ErrUnknownMode; a gated mode without an
// active topic fails with ErrPreconditionNotMet and carries the mode's
// guidance text. On failure the active mode is unchanged.
func (c *Controller) RequestMode(name string) (string, error) {
	spec, ok := c.modes[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
	if spec.RequiresTopic && c.topic == nil {
		return spec.Guidance, ErrPreconditionNotMet
	}
	c.current = name
	return c.renderIntro(spec), nil
}

// RequestTopic resolves the utterance against the topic table, sets the
// active topic, and returns an acknowledgement containing the topic summary.
// An unresolvable utterance fails with ErrUnknownTopic and leaves state
// unchanged.
func (c *Controller) RequestTopic(utterance string) (string, error) {
	if c.catalog == nil {
		return "", fmt.Errorf("%w: no topics configured", ErrUnknownTopic)
	}
	topic, ok := c.catalog.Resolve(utterance)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTopic, utterance)
	}
	c.topic = &topic
	return fmt.Sprintf("Great, let's work on %s. %s", topic.Title, topic.Summary), nil
}

// ClearTopic drops the active topic, re-arming any mode gates.
func (c *Controller) ClearTopic() { c.topic = nil }

// renderIntro fills the topic placeholders in the mode's intro text.
func (c *Controller) renderIntro(spec ModeSpec) string {
	if c.topic == nil || !strings.Contains(spec.Intro, "{") {
		return spec.Intro
	}
	return strings.NewReplacer(
		"{topic}", c.topic.Title,
		"{summary}", c.topic.Summary,
		"{sample_question}", c.topic.SampleQuestion,
	).Replace(spec.Intro)
}

// DefaultTutorModes returns the standard tutoring mode set: a coordinator
// plus three topic-gated task modes.
func DefaultTutorModes() []ModeSpec {
	const pickTopic = "Pick a topic first — say one of the topics from the list and then we can start."
	return []ModeSpec{
		{
			Name:  "coordinator",
			Intro: "I'm your tutor. Choose a topic, then say learn, quiz, or teach back.",
		},
		{
			Name:          "learn",
			Intro:         "Let's learn about {topic}. {summary}",
			RequiresTopic: true,
			Guidance:      pickTopic,
		},
		{
			Name:          "quiz",
			Intro:         "{sample_question}",
			RequiresTopic: true,
			Guidance:      pickTopic,
		},
		{
			Name:          "teach_back",
			Intro:         "Your turn: explain {topic} to me in your own words, as if I'd never heard of it.",
			RequiresTopic: true,
			Guidance:      pickTopic,
		},
	}
}
