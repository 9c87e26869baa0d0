package store

import (
	"sort"

	"github.com/klipach/chatsync/contract"
)

// SortedChats returns the chats most recently updated first.
func SortedChats(chats Chats) []contract.Chat {
	list := make([]contract.Chat, 0, len(chats))
	for _, c := range chats {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return list[i].Key < list[j].Key
	})
	return list
}

// SortedMessages returns the messages of one chat oldest first.
func SortedMessages(messages map[string]contract.Message) []contract.Message {
	list := make([]contract.Message, 0, len(messages))
	for _, m := range messages {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].SentAt.Equal(list[j].SentAt) {
			return list[i].SentAt.Before(list[j].SentAt)
		}
		return list[i].Key < list[j].Key
	})
	return list
}

// ReplyTarget returns the message m replies to, or nil when m is not a reply
// or the referenced message is gone.
func ReplyTarget(messages map[string]contract.Message, m contract.Message) *contract.Message {
	if m.ReplyTo == "" {
		return nil
	}
	target, ok := messages[m.ReplyTo]
	if !ok {
		return nil
	}
	return &target
}

// OtherParticipant returns the first participant that is not me.
func OtherParticipant(chat contract.Chat, me string) string {
	for _, u := range chat.Users {
		if u != me {
			return u
		}
	}
	return ""
}

// ChatTitle is the full name of the other participant, empty while that
// profile is not cached yet.
func (s State) ChatTitle(chat contract.Chat, me string) string {
	other, ok := s.Users[OtherParticipant(chat, me)]
	if !ok {
		return ""
	}
	return other.FullName()
}

func (s State) IsStarred(chatID, messageID string) bool {
	_, ok := s.Starred[chatID][messageID]
	return ok
}

// ChatMessages is SortedMessages over the messages of chatID.
func (s State) ChatMessages(chatID string) []contract.Message {
	return SortedMessages(s.Messages[chatID])
}
