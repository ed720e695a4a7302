// Package mailbox is a thin layer over internal/store exposing the two
// logical queues — inbox and outbox — that spec.md §4.2 defines per
// participant per team.
package mailbox

import (
	"fmt"
	"sort"

	"github.com/foreman-dev/foreman/internal/store"
)

// Mailbox mediates message send/read operations for one team's store.
type Mailbox struct {
	db     *store.DB
	teamID int64
}

// New returns a Mailbox scoped to a single team.
func New(db *store.DB, teamID int64) *Mailbox {
	return &Mailbox{db: db, teamID: teamID}
}

// Send delivers a chat message immediately (this design's synchronous
// delivery; see spec Open Questions for a deferred variant) and returns
// its id.
func (m *Mailbox) Send(sender, recipient, body string) (int64, error) {
	id, err := m.db.SendMessage(m.teamID, sender, recipient, body, store.KindChat)
	if err != nil {
		return 0, fmt.Errorf("mailbox send: %w", err)
	}
	return id, nil
}

// SendEvent inserts a system event row, used by the Router to record
// delivery failures without losing the original payload.
func (m *Mailbox) SendEvent(sender, recipient, body string) (int64, error) {
	id, err := m.db.SendMessage(m.teamID, sender, recipient, body, store.KindEvent)
	if err != nil {
		return 0, fmt.Errorf("mailbox send event: %w", err)
	}
	return id, nil
}

// ReadInbox returns messages delivered to agent, ordered by delivered_at.
// unreadOnly restricts to messages not yet processed.
func (m *Mailbox) ReadInbox(agent string, unreadOnly bool) ([]store.Message, error) {
	msgs, err := m.db.QueryMessages(m.teamID, store.MessageFilter{
		Recipient:  &agent,
		UnreadOnly: unreadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	return msgs, nil
}

// ReadOutbox returns messages sent by agent. pendingOnly is preserved for
// a future deferred-delivery variant; in this design it always returns
// an empty slice because every send delivers synchronously.
func (m *Mailbox) ReadOutbox(agent string, pendingOnly bool) ([]store.Message, error) {
	msgs, err := m.db.QueryMessages(m.teamID, store.MessageFilter{
		Sender:      &agent,
		PendingOnly: pendingOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	return msgs, nil
}

// HasUnread reports whether agent has any unprocessed inbox messages.
func (m *Mailbox) HasUnread(agent string) (bool, error) {
	n, err := m.CountUnread(agent)
	return n > 0, err
}

// CountUnread returns the number of unprocessed messages addressed to
// agent.
func (m *Mailbox) CountUnread(agent string) (int, error) {
	n, err := m.db.CountUnread(m.teamID, agent)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// AgentsWithUnread returns the recipients on this team with at least one
// unread message.
func (m *Mailbox) AgentsWithUnread() ([]string, error) {
	names, err := m.db.AgentsWithUnread(m.teamID)
	if err != nil {
		return nil, fmt.Errorf("agents with unread: %w", err)
	}
	return names, nil
}

// MarkSeen marks the given message ids as seen. Called on the messages
// included in a turn before the turn begins.
func (m *Mailbox) MarkSeen(ids []int64) error {
	if err := m.db.MarkSeen(m.teamID, ids); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// MarkProcessed marks the given message ids as processed. The Dispatcher
// calls it at turn end for every message included in the turn, whether
// or not the agent replied to or acknowledged it.
func (m *Mailbox) MarkProcessed(ids []int64) error {
	if err := m.db.MarkProcessed(m.teamID, ids); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// RecentConversation returns the merged inbox+outbox between agent and
// peer (or agent's entire conversation if peer is empty), ordered by
// time, newest-limited to limit if positive.
func (m *Mailbox) RecentConversation(agent, peer string, limit int) ([]store.Message, error) {
	filter := store.MessageFilter{}
	if peer != "" {
		filter.Peer = &peer
	} else {
		filter.Peer = &agent
	}

	msgs, err := m.db.QueryMessages(m.teamID, filter)
	if err != nil {
		return nil, fmt.Errorf("recent conversation: %w", err)
	}

	var involving []store.Message
	for _, msg := range msgs {
		if peer == "" {
			if msg.Sender == agent || msg.Recipient == agent {
				involving = append(involving, msg)
			}
			continue
		}
		if (msg.Sender == agent && msg.Recipient == peer) || (msg.Sender == peer && msg.Recipient == agent) {
			involving = append(involving, msg)
		}
	}

	sort.Slice(involving, func(i, j int) bool { return involving[i].CreatedAt.Before(involving[j].CreatedAt) })

	if limit > 0 && len(involving) > limit {
		involving = involving[len(involving)-limit:]
	}
	return involving, nil
}
