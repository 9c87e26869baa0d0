// Package store holds the normalized local chat state. Every mutation is a
// pure function that takes the current slice and returns a new one, the input
// is never modified. Readers can therefore share a State without copying.
package store

import "github.com/klipach/chatsync/contract"

type (
	Users    map[string]contract.User
	Chats    map[string]contract.Chat
	Messages map[string]map[string]contract.Message
	Starred  map[string]map[string]contract.StarredMessage
)

// State is one consistent view over the four slices.
type State struct {
	Users    Users
	Chats    Chats
	Messages Messages
	Starred  Starred
}

func NewState() State {
	return State{
		Users:    Users{},
		Chats:    Chats{},
		Messages: Messages{},
		Starred:  Starred{},
	}
}

// ApplyUserDelta inserts or overwrites every incoming user by its UserID.
// Entries are never removed.
func ApplyUserDelta(current Users, newUsers []contract.User) Users {
	next := make(Users, len(current)+len(newUsers))
	for k, v := range current {
		next[k] = v
	}
	for _, u := range newUsers {
		if u.UserID == "" {
			continue
		}
		next[u.UserID] = u
	}
	return next
}

// ApplyChatsDelta replaces the chats slice with chats.
func ApplyChatsDelta(_ Chats, chats Chats) Chats {
	next := make(Chats, len(chats))
	for k, v := range chats {
		next[k] = v
	}
	return next
}

// ApplyMessagesDelta replaces the messages of chatID only. A nil or empty
// messages map means the chat has no messages yet.
func ApplyMessagesDelta(current Messages, chatID string, messages map[string]contract.Message) Messages {
	next := make(Messages, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	sub := make(map[string]contract.Message, len(messages))
	for k, v := range messages {
		sub[k] = v
	}
	next[chatID] = sub
	return next
}

// ApplyStarredDelta replaces the starred slice with starred.
func ApplyStarredDelta(_ Starred, starred Starred) Starred {
	next := make(Starred, len(starred))
	for chatID, msgs := range starred {
		sub := make(map[string]contract.StarredMessage, len(msgs))
		for k, v := range msgs {
			sub[k] = v
		}
		next[chatID] = sub
	}
	return next
}
