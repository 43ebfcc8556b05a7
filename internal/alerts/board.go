package alerts

import (
	"errors"
	"sort"
	"sync"
	"time"

	"workwatch/internal/model"
)

var ErrNoPrompt = errors.New("no active prompt")

// Board holds the operator prompts currently open. There is at most one
// prompt per source and condition; raising an open prompt again only bumps
// its repeat count.
type Board struct {
	mu      sync.Mutex
	prompts map[string]model.Prompt
	onAck   func(model.Prompt)
}

func NewBoard() *Board {
	return &Board{prompts: make(map[string]model.Prompt)}
}

// OnAck registers a callback run after a prompt is acknowledged.
func (b *Board) OnAck(fn func(model.Prompt)) {
	b.mu.Lock()
	b.onAck = fn
	b.mu.Unlock()
}

func promptKey(source, condition string) string {
	return source + "|" + condition
}

// Raise opens a prompt for the episode. It reports false when a prompt for
// the same condition was already open.
func (b *Board) Raise(ep model.Episode) bool {
	key := promptKey(ep.Source, ep.Condition)
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.prompts[key]; ok {
		p.Repeats++
		b.prompts[key] = p
		return false
	}
	msg := ep.Message
	if msg == "" {
		msg = ep.Cause
	}
	b.prompts[key] = model.Prompt{
		Source:    ep.Source,
		Condition: ep.Condition,
		Message:   msg,
		EpisodeID: ep.ID,
		RaisedAt:  time.Now().UTC(),
	}
	return true
}

// Ack closes the prompt for condition. An empty source closes the prompts of
// every source for that condition.
func (b *Board) Ack(source, condition string) ([]model.Prompt, error) {
	b.mu.Lock()
	var closed []model.Prompt
	for key, p := range b.prompts {
		if p.Condition != condition || (source != "" && p.Source != source) {
			continue
		}
		closed = append(closed, p)
		delete(b.prompts, key)
	}
	onAck := b.onAck
	b.mu.Unlock()
	if len(closed) == 0 {
		return nil, ErrNoPrompt
	}
	sortPrompts(closed)
	if onAck != nil {
		for _, p := range closed {
			onAck(p)
		}
	}
	return closed, nil
}

func (b *Board) Active() []model.Prompt {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Prompt, 0, len(b.prompts))
	for _, p := range b.prompts {
		out = append(out, p)
	}
	sortPrompts(out)
	return out
}

func (b *Board) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = make(map[string]model.Prompt)
}

func sortPrompts(ps []model.Prompt) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Source != ps[j].Source {
			return ps[i].Source < ps[j].Source
		}
		return ps[i].Condition < ps[j].Condition
	})
}
