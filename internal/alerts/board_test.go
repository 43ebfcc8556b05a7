package alerts

import (
	"testing"

	"workwatch/internal/model"
)

func TestBoardDoesNotStack(t *testing.T) {
	b := NewBoard()
	ep := model.Episode{ID: "1", Source: "cam1", Condition: "phone", Cause: "Phone usage detected!"}
	if !b.Raise(ep) {
		t.Fatalf("expected first raise to open a prompt")
	}
	ep.ID = "2"
	if b.Raise(ep) {
		t.Fatalf("second raise must not open another prompt")
	}
	active := b.Active()
	if len(active) != 1 || active[0].Repeats != 1 || active[0].EpisodeID != "1" {
		t.Fatalf("unexpected prompts %+v", active)
	}
	if active[0].Message != "Phone usage detected!" {
		t.Fatalf("expected cause as message, got %q", active[0].Message)
	}
}

func TestBoardAck(t *testing.T) {
	b := NewBoard()
	var acked []model.Prompt
	b.OnAck(func(p model.Prompt) { acked = append(acked, p) })
	b.Raise(model.Episode{Source: "cam1", Condition: "food"})
	b.Raise(model.Episode{Source: "cam2", Condition: "food"})
	b.Raise(model.Episode{Source: "cam2", Condition: "drowsy"})

	closed, err := b.Ack("cam2", "food")
	if err != nil || len(closed) != 1 || closed[0].Source != "cam2" {
		t.Fatalf("unexpected ack result %+v %v", closed, err)
	}
	closed, err = b.Ack("", "food")
	if err != nil || len(closed) != 1 || closed[0].Source != "cam1" {
		t.Fatalf("unexpected ack result %+v %v", closed, err)
	}
	if _, err := b.Ack("", "food"); err != ErrNoPrompt {
		t.Fatalf("expected ErrNoPrompt, got %v", err)
	}
	if len(acked) != 2 {
		t.Fatalf("expected two ack callbacks, got %d", len(acked))
	}
	if active := b.Active(); len(active) != 1 || active[0].Condition != "drowsy" {
		t.Fatalf("unexpected remaining prompts %+v", active)
	}
}

func TestStoreRing(t *testing.T) {
	s := NewStore(2)
	s.Warn("sink", "a")
	s.Warn("sink", "b")
	s.Error("eventlog", "c")
	got := s.List(0)
	if len(got) != 2 || got[0].Message != "b" || got[1].Level != "error" {
		t.Fatalf("unexpected notices %+v", got)
	}
	if got := s.List(1); len(got) != 1 || got[0].Message != "c" {
		t.Fatalf("unexpected limited list %+v", got)
	}
	if len(s.Since(got[0].Timestamp)) == 0 {
		t.Fatalf("expected notices since timestamp")
	}
	s.Clear()
	if len(s.List(10)) != 0 {
		t.Fatalf("expected cleared store")
	}
}
