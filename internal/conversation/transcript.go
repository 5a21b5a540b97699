package conversation

import (
	"time"

	"github.com/google/uuid"

	"magnus/internal/domain"
)

// Transcript is the append-only log of conversation turns.
type Transcript struct {
	turns    []domain.Turn
	onAppend func(index int)
	now      func() time.Time
}

// NewTranscript returns an empty transcript. onAppend, when set, runs after every append.
func NewTranscript(onAppend func(index int)) *Transcript {
	return &Transcript{onAppend: onAppend, now: time.Now}
}

// Append stores turn at the end of the log and returns its index.
func (t *Transcript) Append(turn domain.Turn) int {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.At.IsZero() {
		turn.At = t.now()
	}

	t.turns = append(t.turns, turn)
	index := len(t.turns) - 1
	if t.onAppend != nil {
		t.onAppend(index)
	}
	return index
}

func (t *Transcript) Len() int {
	return len(t.turns)
}

func (t *Transcript) At(index int) domain.Turn {
	return t.turns[index]
}

// Turns returns a copy of the log.
func (t *Transcript) Turns() []domain.Turn {
	out := make([]domain.Turn, len(t.turns))
	copy(out, t.turns)
	return out
}
