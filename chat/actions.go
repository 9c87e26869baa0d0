package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klipach/chatsync/contract"
	"github.com/klipach/chatsync/gateway"
	"github.com/klipach/chatsync/validate"
)

// ErrWriteFailed marks a multi step write that was applied only in part.
// Nothing is rolled back.
var ErrWriteFailed = errors.New("write failed")

type Option func(*Actions)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Actions) {
		a.now = now
	}
}

// Actions issues the writes behind chat user actions. The live session
// subscriptions pick the results up, Actions never touches local state.
type Actions struct {
	gw  gateway.Gateway
	now func() time.Time
}

func NewActions(gw gateway.Gateway, opts ...Option) *Actions {
	a := &Actions{gw: gw, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CreateChat writes a new chat between users and adds it to the chat list of
// every participant. users must include creatorID.
//
// When adding the chat to a participant list fails, the returned error wraps
// ErrWriteFailed and the key of the already written chat is returned with it.
func (a *Actions) CreateChat(ctx context.Context, creatorID string, users []string) (string, error) {
	participants, err := participants(creatorID, users)
	if err != nil {
		return "", err
	}

	now := a.now().UTC()
	chat := contract.Chat{
		Users:     participants,
		CreatedBy: creatorID,
		UpdatedBy: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	key, err := a.gw.Append(ctx, gateway.Chats(), chat)
	if err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}

	for _, userID := range participants {
		if _, err := a.gw.Append(ctx, gateway.UserChats(userID), key); err != nil {
			return key, fmt.Errorf("%w: add chat %s to user %s: %w", ErrWriteFailed, key, userID, err)
		}
	}
	return key, nil
}

func participants(creatorID string, users []string) ([]string, error) {
	errs := validate.Errors{}
	if creatorID == "" {
		errs.Add("createdBy", []string{"Created by can't be blank"})
	}
	seen := make(map[string]bool, len(users))
	list := make([]string, 0, len(users))
	for _, u := range users {
		if u == "" {
			errs.Add("users", []string{"Users can't contain a blank id"})
			continue
		}
		if !seen[u] {
			seen[u] = true
			list = append(list, u)
		}
	}
	switch {
	case len(list) == 0:
		errs.Add("users", []string{"Users can't be blank"})
	case creatorID != "" && !seen[creatorID]:
		errs.Add("users", []string{"Users must include the creator"})
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// SendTextMessage appends a message to chatID and then refreshes the chat
// summary fields. The two writes are not atomic: the summary is a cache of
// the message list and readers have to tolerate it being stale. A failed
// summary refresh is reported wrapped in ErrWriteFailed.
func (a *Actions) SendTextMessage(ctx context.Context, chatID, senderID, text, replyTo string) error {
	text = strings.TrimSpace(text)
	errs := validate.Errors{}
	if chatID == "" {
		errs.Add("chatId", []string{"Chat id can't be blank"})
	}
	if senderID == "" {
		errs.Add("sentBy", []string{"Sent by can't be blank"})
	}
	if text == "" {
		errs.Add("text", []string{"Text can't be blank"})
	}
	if err := errs.Err(); err != nil {
		return err
	}

	msg := contract.Message{
		SentBy:  senderID,
		SentAt:  a.now().UTC(),
		Text:    text,
		ReplyTo: replyTo,
	}
	if _, err := a.gw.Append(ctx, gateway.Messages(chatID), msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	err := a.gw.Update(ctx, gateway.Chat(chatID), map[string]any{
		"updatedBy":         senderID,
		"updatedAt":         a.now().UTC(),
		"latestMessageText": text,
	})
	if err != nil {
		return fmt.Errorf("%w: refresh chat %s summary: %w", ErrWriteFailed, chatID, err)
	}
	return nil
}

// ToggleStarMessage stars the message for userID when it is not starred and
// un-stars it otherwise. It reports whether the message ends up starred.
//
// The read and the write are separate calls, so concurrent toggles from two
// devices resolve last write wins.
func (a *Actions) ToggleStarMessage(ctx context.Context, messageID, chatID, userID string) (bool, error) {
	errs := validate.Errors{}
	if messageID == "" {
		errs.Add("messageId", []string{"Message id can't be blank"})
	}
	if chatID == "" {
		errs.Add("chatId", []string{"Chat id can't be blank"})
	}
	if userID == "" {
		errs.Add("userId", []string{"User id can't be blank"})
	}
	if err := errs.Err(); err != nil {
		return false, err
	}

	path := gateway.StarredMessage(userID, chatID, messageID)
	snap, err := a.gw.ReadOnce(ctx, path)
	if err != nil {
		return false, fmt.Errorf("read starred state: %w", err)
	}

	if snap.Exists() {
		if err := a.gw.Remove(ctx, path); err != nil {
			return true, fmt.Errorf("un-star message: %w", err)
		}
		return false, nil
	}

	starred := contract.StarredMessage{
		MessageID: messageID,
		ChatID:    chatID,
		StarredAt: a.now().UTC(),
	}
	if err := a.gw.Write(ctx, path, starred); err != nil {
		return false, fmt.Errorf("star message: %w", err)
	}
	return true, nil
}
