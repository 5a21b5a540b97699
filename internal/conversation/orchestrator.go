package conversation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"magnus/internal/domain"
)

// ErrAwaitingReply is returned when a submission arrives while a reply is still pending.
// The presentation layer disables its input surface, so only callers that bypass it see this.
var ErrAwaitingReply = errors.New("a reply is still pending")

// orchestrator turns user actions into exactly one outbound turn request.
type orchestrator struct {
	awaitingReply bool
	dispatch      func(req domain.TurnRequest)
}

// submit issues one request for modality. A blank typed submission is a silent no-op.
// It reports whether a request was issued.
func (o *orchestrator) submit(modality domain.Modality, text string, history []domain.Turn, speak bool) (bool, error) {
	if o.awaitingReply {
		return false, ErrAwaitingReply
	}

	req := domain.TurnRequest{
		ID:      uuid.NewString(),
		History: history,
		Speak:   speak,
	}

	switch modality {
	case domain.ModalityText:
		message := strings.TrimSpace(text)
		if message == "" {
			return false, nil
		}
		req.Message = &message
		o.awaitingReply = true
	case domain.ModalityMicrophone:
		// The user turn is not known yet; it arrives with the user event.
	default:
		return false, fmt.Errorf("unsupported modality %q", modality)
	}

	o.dispatch(req)
	return true, nil
}

// userTurnArrived locks input until the matching reply arrives.
func (o *orchestrator) userTurnArrived() {
	o.awaitingReply = true
}

func (o *orchestrator) replyArrived() {
	o.awaitingReply = false
}
