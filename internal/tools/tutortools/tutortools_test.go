package tutortools

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/solivox/solivox/internal/content"
	"github.com/solivox/solivox/internal/flow"
	"github.com/solivox/solivox/internal/toolhost"
)

func newTutorRegistry(t *testing.T) (*toolhost.Registry, *flow.Controller, *content.Catalog) {
	t.Helper()
	catalog, err := content.NewCatalog(content.DefaultTopics())
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	ctrl, err := flow.New("coordinator", flow.DefaultTutorModes(), catalog)
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}
	reg := toolhost.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := reg.RegisterAll(New(ctrl, catalog, logger)); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	return reg, ctrl, catalog
}

func TestQuizBeforeTopicStaysInCoordinator(t *testing.T) {
	t.Parallel()

	reg, ctrl, _ := newTutorRegistry(t)

	reply, err := reg.Execute(context.Background(), "set_mode", map[string]any{"mode": "quiz"})
	if err != nil {
		t.Fatalf("set_mode: %v", err)
	}
	if ctrl.Mode() != "coordinator" {
		t.Errorf("mode = %q, want coordinator unchanged", ctrl.Mode())
	}
	if reply == "" {
		t.Error("deferred mode switch should explain what to do first")
	}
}

func TestQuizAfterTopicAsksSampleQuestion(t *testing.T) {
	t.Parallel()

	reg, ctrl, catalog := newTutorRegistry(t)
	ctx := context.Background()

	if _, err := reg.Execute(ctx, "choose_topic", map[string]any{"topic": "loops"}); err != nil {
		t.Fatalf("choose_topic: %v", err)
	}
	if topic, ok := ctrl.Topic(); !ok || topic.ID != "loops" {
		t.Fatalf("topic = %v, want loops", topic)
	}

	reply, err := reg.Execute(ctx, "set_mode", map[string]any{"mode": "quiz"})
	if err != nil {
		t.Fatalf("set_mode: %v", err)
	}
	if ctrl.Mode() != "quiz" {
		t.Errorf("mode = %q, want quiz", ctrl.Mode())
	}
	loops, _ := catalog.Lookup("loops")
	if !strings.Contains(reply, loops.SampleQuestion) {
		t.Errorf("quiz intro = %q, want the loops sample question", reply)
	}
}

func TestUnknownModeListsChoices(t *testing.T) {
	t.Parallel()

	reg, ctrl, _ := newTutorRegistry(t)

	reply, err := reg.Execute(context.Background(), "set_mode", map[string]any{"mode": "karaoke"})
	if err != nil {
		t.Fatalf("set_mode: %v", err)
	}
	if ctrl.Mode() != "coordinator" {
		t.Errorf("mode = %q, want coordinator unchanged", ctrl.Mode())
	}
	if !strings.Contains(reply, "quiz") || !strings.Contains(reply, "learn") {
		t.Errorf("reply = %q, want the available modes listed", reply)
	}
}

func TestUnknownTopicOffersMenu(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTutorRegistry(t)

	reply, err := reg.Execute(context.Background(), "choose_topic", map[string]any{"topic": "quantum gravity"})
	if err != nil {
		t.Fatalf("choose_topic: %v", err)
	}
	if !strings.Contains(reply, "Loops") && !strings.Contains(reply, "loops") {
		t.Errorf("reply = %q, want the topic menu", reply)
	}
}

func TestFuzzyTopicName(t *testing.T) {
	t.Parallel()

	reg, ctrl, _ := newTutorRegistry(t)

	if _, err := reg.Execute(context.Background(), "choose_topic", map[string]any{"topic": "lupes"}); err != nil {
		t.Fatalf("choose_topic: %v", err)
	}
	if topic, ok := ctrl.Topic(); !ok || topic.ID != "loops" {
		t.Errorf("topic = %v, want loops via phonetic match", topic)
	}
}

func TestFinishTopicReturnsToCoordinatorAndRearmsGate(t *testing.T) {
	t.Parallel()

	reg, ctrl, _ := newTutorRegistry(t)
	ctx := context.Background()

	if _, err := reg.Execute(ctx, "choose_topic", map[string]any{"topic": "loops"}); err != nil {
		t.Fatalf("choose_topic: %v", err)
	}
	if _, err := reg.Execute(ctx, "set_mode", map[string]any{"mode": "quiz"}); err != nil {
		t.Fatalf("set_mode: %v", err)
	}

	reply, err := reg.Execute(ctx, "finish_topic", nil)
	if err != nil {
		t.Fatalf("finish_topic: %v", err)
	}
	if ctrl.Mode() != "coordinator" {
		t.Errorf("mode = %q, want coordinator", ctrl.Mode())
	}
	if _, ok := ctrl.Topic(); ok {
		t.Error("topic should be cleared")
	}
	if !strings.Contains(reply, "Loops") && !strings.Contains(reply, "loops") {
		t.Errorf("reply = %q, want the topic menu", reply)
	}

	// Gated modes require a fresh topic again.
	if _, err := reg.Execute(ctx, "set_mode", map[string]any{"mode": "quiz"}); err != nil {
		t.Fatalf("set_mode after finish: %v", err)
	}
	if ctrl.Mode() != "coordinator" {
		t.Errorf("mode = %q, want coordinator until a topic is picked", ctrl.Mode())
	}
}

func TestListTopics(t *testing.T) {
	t.Parallel()

	reg, _, catalog := newTutorRegistry(t)

	reply, err := reg.Execute(context.Background(), "list_topics", nil)
	if err != nil {
		t.Fatalf("list_topics: %v", err)
	}
	for _, topic := range catalog.Topics() {
		if !strings.Contains(reply, topic.Title) {
			t.Errorf("menu %q missing topic %q", reply, topic.Title)
		}
	}
}
