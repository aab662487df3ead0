package session

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	logx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/logger"
)

const defaultNotifyBuffer = 64

// Publisher delivers one encoded event, e.g. a QStash client.
type Publisher interface {
	Publish(ctx context.Context, body []byte) (string, error)
}

// Notifier forwards reset and contamination events to a Publisher from a
// background goroutine. Events arriving while the buffer is full are dropped.
type Notifier struct {
	publisher Publisher
	events    chan Event
}

func NewNotifier(publisher Publisher, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = defaultNotifyBuffer
	}
	return &Notifier{publisher: publisher, events: make(chan Event, buffer)}
}

// Hook is the EventHook to register with WithEventHook.
func (n *Notifier) Hook(ev Event) {
	if ev.Type != EventReset && ev.Type != EventContamination && ev.Type != EventSetupFailed {
		return
	}
	select {
	case n.events <- ev:
	default:
		log.Warn().Str(logx.SessionKeyField, ev.Key.String()).Str("event", string(ev.Type)).Msg("session notifier buffer full, event dropped")
	}
}

// Run publishes queued events until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.events:
			n.publish(ctx, ev)
		}
	}
}

func (n *Notifier) publish(ctx context.Context, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("encode session event")
		return
	}
	id, err := n.publisher.Publish(ctx, body)
	if err != nil {
		log.Warn().Err(err).Str(logx.SessionKeyField, ev.Key.String()).Msg("publish session event failed")
		return
	}
	log.Debug().Str(logx.SessionKeyField, ev.Key.String()).Str("message_id", id).Str("event", string(ev.Type)).Msg("session event published")
}
