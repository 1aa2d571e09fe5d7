// Package server turns inbound frames into persisted, broadcast events via the Pipeline.
package server

import (
	"context"
	"fmt"

	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/logger"
	"github.com/Tyrowin/gochat/internal/store"
)

// Pipeline handles one inbound frame at a time for a connection: parse,
// validate, then either answer a history request or persist and broadcast.
// An event is handed to the Broadcaster only after the store accepted it.
type Pipeline struct {
	store        store.Store
	registry     *Registry
	broadcaster  *Broadcaster
	historyLimit int
	log          *logger.Logger
}

// NewPipeline wires a pipeline over its collaborators.
func NewPipeline(st store.Store, registry *Registry, broadcaster *Broadcaster, historyLimit int, log *logger.Logger) *Pipeline {
	if historyLimit <= 0 {
		historyLimit = chat.DefaultHistoryLimit
	}
	return &Pipeline{
		store:        st,
		registry:     registry,
		broadcaster:  broadcaster,
		historyLimit: historyLimit,
		log:          log.With("component", "pipeline"),
	}
}

// Handle processes raw, sent by from. Failures are answered with an error
// envelope to from alone and returned to the caller; they never affect other
// connections.
func (p *Pipeline) Handle(ctx context.Context, from Peer, raw []byte) error {
	in, err := chat.ParseInbound(raw)
	if err != nil {
		p.reject(from, err)
		return err
	}

	if in.Type == chat.TypeGetHistory {
		return p.ReplayHistory(ctx, from, in.ResolvedChannel())
	}

	event, err := in.ToEvent()
	if err != nil {
		p.reject(from, err)
		return err
	}
	return p.publish(ctx, from, event)
}

// ReplayHistory moves from into channel and sends it the channel's recent
// events. Membership is taken before the query so nothing persisted in
// between is missed; clients drop duplicates by event id.
func (p *Pipeline) ReplayHistory(ctx context.Context, from Peer, channel string) error {
	p.registry.Join(from, channel)

	events, err := p.store.QueryRecent(ctx, channel, p.historyLimit)
	if err != nil {
		err = fmt.Errorf("load history for %s: %w", channel, err)
		p.reject(from, err)
		return err
	}

	frame, err := chat.EncodeHistory(channel, events)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := from.Send(frame); err != nil {
		return fmt.Errorf("send history to %s: %w", from.ID(), err)
	}
	p.log.Debug("History replayed", "peer", from.ID(), "channel", channel, "events", len(events))
	return nil
}

func (p *Pipeline) publish(ctx context.Context, from Peer, event chat.Event) error {
	p.registry.Join(from, event.Channel)

	if err := p.store.Append(ctx, &event); err != nil {
		err = fmt.Errorf("%w: %w", chat.ErrPersistenceFailed, err)
		p.reject(from, err)
		return err
	}

	delivered, err := p.broadcaster.Broadcast(event.Channel, event)
	if err != nil {
		return err
	}
	p.log.Debug("Event broadcast", "id", event.ID, "type", event.Type, "channel", event.Channel, "delivered", delivered)
	return nil
}

// reject tells from why its frame was dropped. A peer that cannot take the
// notice is left alone.
func (p *Pipeline) reject(from Peer, cause error) {
	frame, err := chat.EncodeError(cause)
	if err != nil {
		return
	}
	_ = from.Send(frame)
}
