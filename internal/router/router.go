// Package router implements the Router: a periodic loop that surfaces
// newly-delivered mailbox messages onto the EventBus and classifies the
// ones addressed to the configured human member for the UI notification
// queue. Delivery itself is synchronous (internal/mailbox.Send commits the
// row immediately); the Router's job narrows to broadcasting and
// classifying what already landed, per spec.md §4.6.
package router

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/foreman-dev/foreman/internal/eventbus"
	"github.com/foreman-dev/foreman/internal/mailbox"
	"github.com/foreman-dev/foreman/internal/store"
)

// defaultInterval matches the Dispatcher's poll cadence (spec.md §4.7).
const defaultInterval = 1 * time.Second

// Config configures a Router.
type Config struct {
	// Interval is the poll cadence. Zero means defaultInterval.
	Interval time.Duration
	// HumanMember is the participant name messages addressed to which are
	// pushed onto the UI notification queue as BossMessage events.
	HumanMember string
}

// Router polls every team's message log for rows it has not yet
// broadcast, publishing MessageDelivered (and, for human-addressed
// messages, BossMessage) events on the EventBus.
type Router struct {
	db  *store.DB
	bus *eventbus.Bus
	cfg Config

	// watermark tracks, per team, the highest message id already routed
	// so each poll broadcasts only newer messages. It is in-memory only:
	// a fresh daemon re-broadcasts from message id 0, which is
	// harmless since EventBus subscribers only care about live updates.
	watermark map[int64]int64
}

// New creates a Router. bus must not be nil.
func New(db *store.DB, bus *eventbus.Bus, cfg Config) *Router {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Router{
		db:        db,
		bus:       bus,
		cfg:       cfg,
		watermark: make(map[int64]int64),
	}
}

// Run polls until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce()
		}
	}
}

// pollOnce routes every team's unrouted messages once.
func (r *Router) pollOnce() {
	teams, err := r.db.ListTeams()
	if err != nil {
		log.Printf("[router] list teams: %v", err)
		return
	}
	for i := range teams {
		r.routeTeam(&teams[i])
	}
}

func (r *Router) routeTeam(team *store.Team) {
	msgs, err := r.db.QueryMessages(team.ID, store.MessageFilter{})
	if err != nil {
		log.Printf("[router] query messages for team %s: %v", team.Name, err)
		return
	}

	last := r.watermark[team.ID]
	newWatermark := last

	for _, msg := range msgs {
		if msg.ID <= last {
			continue
		}
		if msg.ID > newWatermark {
			newWatermark = msg.ID
		}
		r.route(team, msg)
	}

	r.watermark[team.ID] = newWatermark
}

func (r *Router) route(team *store.Team, msg store.Message) {
	r.bus.Publish(eventbus.Event{
		Type:      eventbus.MessageDelivered,
		Team:      team.Name,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
	})

	if _, err := r.db.GetParticipant(msg.Recipient); err != nil {
		r.handleBadRecipient(team, msg, err)
		return
	}

	if r.cfg.HumanMember != "" && msg.Recipient == r.cfg.HumanMember {
		r.bus.Publish(eventbus.Event{
			Type:      eventbus.BossMessage,
			Team:      team.Name,
			Sender:    msg.Sender,
			Recipient: msg.Recipient,
		})
	}
}

// handleBadRecipient records a delivery failure as an event message
// (never losing the original payload, per spec.md §4.6 item 3) and
// broadcasts RouteFailed so observers notice without polling logs.
func (r *Router) handleBadRecipient(team *store.Team, msg store.Message, resolveErr error) {
	reason := "unknown recipient"
	if !errors.Is(resolveErr, sql.ErrNoRows) {
		reason = resolveErr.Error()
	}

	body := "delivery failed for message to " + msg.Recipient + ": " + reason + "\noriginal: " + msg.Body
	mb := mailbox.New(r.db, team.ID)
	if _, err := mb.SendEvent("router", msg.Sender, body); err != nil {
		log.Printf("[router] record delivery failure for team %s: %v", team.Name, err)
	}

	r.bus.Publish(eventbus.Event{
		Type:      eventbus.RouteFailed,
		Team:      team.Name,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Error:     reason,
	})
}
