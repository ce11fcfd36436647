package flow

import (
	"errors"
	"testing"

	"github.com/solivox/solivox/internal/content"
)

func newTutorController(t *testing.T) *Controller {
	t.Helper()
	cat, err := content.NewCatalog(content.DefaultTopics())
	if err != nil {
		t.Fatal(err)
	}
	c, err := New("coordinator", DefaultTutorModes(), cat)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestRequestModeUnknown(t *testing.T) {
	t.Parallel()

	c := newTutorController(t)
	_, err := c.RequestMode("karaoke")
	if !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("err = %v, want ErrUnknownMode", err)
	}
	if c.Mode() != "coordinator" {
		t.Fatalf("mode = %q after failed request, want coordinator", c.Mode())
	}
}

func TestRequestModeGatedBeforeTopic(t *testing.T) {
	t.Parallel()

	c := newTutorController(t)

	guidance, err := c.RequestMode("quiz")
	if !errors.Is(err, ErrPreconditionNotMet) {
		t.Fatalf("err = %v, want ErrPreconditionNotMet", err)
	}
	if guidance == "" {
		t.Fatal("gated request returned empty guidance")
	}
	if c.Mode() != "coordinator" {
		t.Fatalf("mode = %q after gated request, want coordinator", c.Mode())
	}
}

func TestTutorQuizScenario(t *testing.T) {
	t.Parallel()

	c := newTutorController(t)

	if _, err := c.RequestMode("quiz"); !errors.Is(err, ErrPreconditionNotMet) {
		t.Fatalf("quiz before topic: err = %v, want ErrPreconditionNotMet", err)
	}

	if _, err := c.RequestTopic("loops"); err != nil {
		t.Fatalf("RequestTopic(loops): %v", err)
	}

	intro, err := c.RequestMode("quiz")
	if err != nil {
		t.Fatalf("quiz after topic: %v", err)
	}
	if c.Mode() != "quiz" {
		t.Fatalf("mode = %q, want quiz", c.Mode())
	}

	topic, ok := c.Topic()
	if !ok {
		t.Fatal("no active topic after RequestTopic")
	}
	if intro != topic.SampleQuestion {
		t.Fatalf("quiz intro = %q, want sample question %q", intro, topic.SampleQuestion)
	}
}

func TestRequestTopicUnknown(t *testing.T) {
	t.Parallel()

	c := newTutorController(t)
	_, err := c.RequestTopic("astrophysics")
	if !errors.Is(err, ErrUnknownTopic) {
		t.Fatalf("err = %v, want ErrUnknownTopic", err)
	}
	if _, ok := c.Topic(); ok {
		t.Fatal("topic set after failed request")
	}
}

func TestModesAreCyclic(t *testing.T) {
	t.Parallel()

	c := newTutorController(t)
	if _, err := c.RequestTopic("functions"); err != nil {
		t.Fatal(err)
	}

	for _, mode := range []string{"learn", "quiz", "teach_back", "coordinator", "learn"} {
		if _, err := c.RequestMode(mode); err != nil {
			t.Fatalf("RequestMode(%q): %v", mode, err)
		}
		if c.Mode() != mode {
			t.Fatalf("mode = %q, want %q", c.Mode(), mode)
		}
	}
}

func TestIntroPlaceholders(t *testing.T) {
	t.Parallel()

	c := newTutorController(t)
	if _, err := c.RequestTopic("variables"); err != nil {
		t.Fatal(err)
	}
	intro, err := c.RequestMode("learn")
	if err != nil {
		t.Fatal(err)
	}
	topic, _ := c.Topic()
	want := "Let's learn about " + topic.Title + ". " + topic.Summary
	if intro != want {
		t.Fatalf("learn intro = %q, want %q", intro, want)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New("x", nil, nil); err == nil {
		t.Error("New with no modes succeeded")
	}
	if _, err := New("missing", []ModeSpec{{Name: "a"}}, nil); err == nil {
		t.Error("New with unconfigured initial mode succeeded")
	}
	if _, err := New("a", []ModeSpec{{Name: "a"}, {Name: "a"}}, nil); err == nil {
		t.Error("New with duplicate modes succeeded")
	}
}
