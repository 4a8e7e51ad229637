// Package chat ties the message store, the fan-out hub and the typing
// tracker together and enforces the cross-cutting rules: sender must be a
// participant, empty sends are skipped, every durable write is published to
// the thread topic before the call returns, and a send clears the sender's
// typing state.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campuschat/pkg/fanout"
	"campuschat/pkg/logger"
	"campuschat/pkg/models"
	"campuschat/pkg/store"
	"campuschat/pkg/telemetry"
	"campuschat/pkg/utils"
	"campuschat/pkg/validation"
)

// Service is the messaging core consumed by the HTTP and WebSocket surface.
type Service struct {
	store     *store.Store
	hub       *fanout.Hub
	setTyping func(threadID, userID string, isTyping bool)
}

// New wires a service. typingSet may be nil, in which case send-side typing
// clears are skipped (used by narrow unit tests).
func New(st *store.Store, hub *fanout.Hub, typingSet func(threadID, userID string, isTyping bool)) *Service {
	return &Service{store: st, hub: hub, setTyping: typingSet}
}

// Thread returns thread metadata with its participant set. Only members may
// look a thread up.
func (s *Service) Thread(ctx context.Context, threadID, callerID string) (models.Thread, []models.Participant, error) {
	var zero models.Thread
	if callerID == "" {
		return zero, nil, models.ErrNotAuthenticated
	}
	th, err := s.store.GetThread(threadID)
	if errors.Is(err, store.ErrNotFound) {
		return zero, nil, models.ErrNotFound
	}
	if err != nil {
		return zero, nil, fmt.Errorf("load thread: %w", err)
	}
	parts, err := s.store.Participants(threadID)
	if err != nil {
		return zero, nil, fmt.Errorf("load participants: %w", err)
	}
	for _, p := range parts {
		if p.User == callerID {
			return th, parts, nil
		}
	}
	return zero, nil, models.ErrNotParticipant
}

// ThreadsFor lists the threads the caller participates in.
func (s *Service) ThreadsFor(ctx context.Context, callerID string) ([]models.Thread, error) {
	if callerID == "" {
		return nil, models.ErrNotAuthenticated
	}
	return s.store.ThreadsFor(callerID)
}

// Append persists a message and publishes it to the thread topic before
// returning. Whitespace-only content is skipped without error and without a
// fan-out event; the zero Message signals the skip. A successful send clears
// the sender's typing state.
func (s *Service) Append(ctx context.Context, threadID, senderID, content string) (models.Message, error) {
	var zero models.Message
	if senderID == "" {
		return zero, models.ErrNotAuthenticated
	}
	content = validation.NormalizeContent(content)
	if content == "" {
		telemetry.MessagesSkipped.Inc()
		return zero, nil
	}
	if err := validation.ValidateContent(content); err != nil {
		return zero, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	ok, err := s.store.IsParticipant(threadID, senderID)
	if err != nil {
		return zero, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		if _, terr := s.store.GetThread(threadID); errors.Is(terr, store.ErrNotFound) {
			return zero, models.ErrNotFound
		}
		return zero, models.ErrNotParticipant
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	msg := models.Message{
		ID:      utils.GenMessageID(),
		Thread:  threadID,
		Sender:  senderID,
		Content: content,
	}
	err = s.store.AppendMessage(&msg, func(m models.Message) {
		s.hub.Publish(threadID, models.Event{Type: models.EventMessage, Thread: threadID, Message: &m})
	})
	if err != nil {
		return zero, fmt.Errorf("append message: %w", err)
	}
	telemetry.MessagesAppended.Inc()

	// the sender's own message is now visible, so they are no longer typing
	if s.setTyping != nil {
		s.setTyping(threadID, senderID, false)
	}
	return msg, nil
}

// ListSince returns messages after cursor in append order. Callers hydrate
// history with it on open and again after any resubscribe to close gaps.
func (s *Service) ListSince(ctx context.Context, threadID, callerID, cursor string, limit int) ([]models.Message, string, error) {
	if callerID == "" {
		return nil, "", models.ErrNotAuthenticated
	}
	ok, err := s.store.IsParticipant(threadID, callerID)
	if err != nil {
		return nil, "", fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return nil, "", models.ErrNotParticipant
	}
	return s.store.ListSince(threadID, cursor, limit)
}

// MarkSeen flips a message's delivery state to seen on behalf of readerID.
// It is an idempotent no-op when the reader is the sender, when the state is
// already seen, or when the message no longer exists. The updated row is
// published to the thread topic.
func (s *Service) MarkSeen(ctx context.Context, messageID, readerID string) (models.Message, bool, error) {
	var zero models.Message
	if readerID == "" {
		return zero, false, models.ErrNotAuthenticated
	}
	cur, err := s.store.GetMessage(messageID)
	if errors.Is(err, store.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("load message: %w", err)
	}
	if ok, err := s.store.IsParticipant(cur.Thread, readerID); err != nil {
		return zero, false, fmt.Errorf("membership check: %w", err)
	} else if !ok {
		return zero, false, models.ErrNotParticipant
	}
	msg, changed, err := s.store.UpdateMessage(messageID, func(m *models.Message) bool {
		if m.Sender == readerID || m.Seen {
			return false
		}
		m.Seen = true
		m.SeenTS = time.Now().UTC().UnixNano()
		return true
	}, func(m models.Message) {
		s.hub.Publish(m.Thread, models.Event{Type: models.EventMessageUpdate, Thread: m.Thread, Message: &m})
	})
	if errors.Is(err, store.ErrNotFound) {
		// already-removed message: by contract a no-op
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("mark seen: %w", err)
	}
	if changed {
		telemetry.MessagesSeen.Inc()
		logger.Debug("message_seen", "id", messageID, "reader", readerID)
	}
	return msg, changed, nil
}

// Subscribe opens a fan-out subscription on a thread for a verified
// participant. The returned handle must be closed on every exit path.
func (s *Service) Subscribe(ctx context.Context, threadID, callerID string, buffer int) (*fanout.Subscription, error) {
	if callerID == "" {
		return nil, models.ErrNotAuthenticated
	}
	ok, err := s.store.IsParticipant(threadID, callerID)
	if err != nil {
		return nil, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return nil, models.ErrNotParticipant
	}
	return s.hub.Subscribe(threadID, buffer), nil
}

// SetTyping records the caller's typing state. Errors are deliberately not
// surfaced for non-members; typing is best-effort and non-durable.
func (s *Service) SetTyping(ctx context.Context, threadID, callerID string, isTyping bool) error {
	if callerID == "" {
		return models.ErrNotAuthenticated
	}
	ok, err := s.store.IsParticipant(threadID, callerID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return models.ErrNotParticipant
	}
	if s.setTyping != nil {
		s.setTyping(threadID, callerID, isTyping)
	}
	return nil
}
