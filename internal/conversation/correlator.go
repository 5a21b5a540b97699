package conversation

import (
	"errors"
	"fmt"

	"magnus/internal/domain"
	"magnus/internal/ports"
)

var errMissingPayload = errors.New("event payload is missing")

// correlator subscribes to backend events and applies them to the transcript and flags.
type correlator struct {
	source ports.EventSource
	post   func(fn func()) bool

	transcript *Transcript
	input      *inputController
	orch       *orchestrator

	onReply    func(text string)
	onDropped  func(kind domain.EventKind, err error)
	afterEvent func()

	subscribed bool
	cancels    []func()
}

// subscribe registers the event handlers once. Later calls are no-ops.
func (c *correlator) subscribe() {
	if c.subscribed {
		return
	}
	c.subscribed = true

	for _, kind := range []domain.EventKind{domain.EventUser, domain.EventAssistant, domain.EventAction} {
		cancel := c.source.On(ports.BackendEventName(kind), func(data ...any) {
			event, err := decodeEvent(kind, data)
			c.post(func() {
				if err != nil {
					c.onDropped(kind, err)
					return
				}
				c.handle(event)
				if c.afterEvent != nil {
					c.afterEvent()
				}
			})
		})
		c.cancels = append(c.cancels, cancel)
	}
}

func (c *correlator) unsubscribe() {
	for _, cancel := range c.cancels {
		if cancel != nil {
			cancel()
		}
	}
	c.cancels = nil
}

// handle runs on the session loop, one event at a time.
func (c *correlator) handle(event domain.BackendEvent) {
	switch event.Kind {
	case domain.EventUser:
		c.transcript.Append(domain.Turn{Speaker: domain.SpeakerUser, Text: event.Message})
		c.input.resetMic()
		c.orch.userTurnArrived()
	case domain.EventAssistant:
		c.transcript.Append(domain.Turn{Speaker: domain.SpeakerAssistant, Text: event.Message})
		c.orch.replyArrived()
		if c.onReply != nil {
			c.onReply(event.Message)
		}
	case domain.EventAction:
		c.transcript.Append(domain.Turn{
			Speaker:            domain.SpeakerAssistant,
			Text:               event.Message,
			ExcludeFromContext: true,
		})
	}
}

// decodeEvent accepts a BackendEvent, a bare string, or a map with a string "message" key. Blank
// text is still text: a blank reply must release the input like any other.
func decodeEvent(kind domain.EventKind, data []any) (domain.BackendEvent, error) {
	if len(data) == 0 || data[0] == nil {
		return domain.BackendEvent{}, errMissingPayload
	}

	var message string
	switch payload := data[0].(type) {
	case domain.BackendEvent:
		if payload.Kind != "" && payload.Kind != kind {
			return domain.BackendEvent{}, fmt.Errorf("event kind %q delivered as %q", payload.Kind, kind)
		}
		message = payload.Message
	case string:
		message = payload
	case map[string]any:
		raw, ok := payload["message"]
		if !ok {
			return domain.BackendEvent{}, errMissingPayload
		}
		text, ok := raw.(string)
		if !ok {
			return domain.BackendEvent{}, fmt.Errorf("event message is %T, not text", raw)
		}
		message = text
	default:
		return domain.BackendEvent{}, fmt.Errorf("unsupported event payload %T", payload)
	}
	return domain.BackendEvent{Kind: kind, Message: message}, nil
}
