package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrMalformed = errors.New("malformed record")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// DecodeUser decodes a users/{key} record. A record without userId takes the
// key; a record whose userId disagrees with the key is rejected.
func DecodeUser(key string, raw json.RawMessage) (User, error) {
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return User{}, malformed("user %s: %v", key, err)
	}
	if u.UserID == "" {
		u.UserID = key
	}
	if u.UserID == "" || (key != "" && u.UserID != key) {
		return User{}, malformed("user %s: userId %q", key, u.UserID)
	}
	return u, nil
}

// DecodeUsers decodes a map of users keyed by id, for example a search
// result. Malformed entries are returned in dropped.
func DecodeUsers(raw json.RawMessage) (users map[string]User, dropped map[string]error, err error) {
	var entries map[string]json.RawMessage
	if err := decodeObject(raw, &entries); err != nil {
		return nil, nil, malformed("users: %v", err)
	}
	users = make(map[string]User, len(entries))
	for k, v := range entries {
		u, err := DecodeUser(k, v)
		if err != nil {
			if dropped == nil {
				dropped = map[string]error{}
			}
			dropped[k] = err
			continue
		}
		users[k] = u
	}
	return users, dropped, nil
}

// DecodeChat decodes a chats/{key} record. Participants and timestamps are
// required.
func DecodeChat(key string, raw json.RawMessage) (Chat, error) {
	var c Chat
	if err := json.Unmarshal(raw, &c); err != nil {
		return Chat{}, malformed("chat %s: %v", key, err)
	}
	c.Key = key
	switch {
	case len(c.Users) == 0:
		return Chat{}, malformed("chat %s: no users", key)
	case c.CreatedAt.IsZero() || c.UpdatedAt.IsZero():
		return Chat{}, malformed("chat %s: missing timestamps", key)
	}
	for _, u := range c.Users {
		if u == "" {
			return Chat{}, malformed("chat %s: empty user id", key)
		}
	}
	return c, nil
}

// DecodeMessage decodes one messages/{chatId}/{key} record.
func DecodeMessage(key string, raw json.RawMessage) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, malformed("message %s: %v", key, err)
	}
	m.Key = key
	switch {
	case m.SentBy == "":
		return Message{}, malformed("message %s: no sender", key)
	case m.SentAt.IsZero():
		return Message{}, malformed("message %s: no sentAt", key)
	}
	return m, nil
}

// DecodeMessages decodes the full message list of a chat. Malformed entries
// are left out and reported in dropped, valid siblings are kept.
func DecodeMessages(raw json.RawMessage) (messages map[string]Message, dropped map[string]error, err error) {
	var entries map[string]json.RawMessage
	if err := decodeObject(raw, &entries); err != nil {
		return nil, nil, malformed("messages: %v", err)
	}
	messages = make(map[string]Message, len(entries))
	for k, v := range entries {
		m, err := DecodeMessage(k, v)
		if err != nil {
			if dropped == nil {
				dropped = map[string]error{}
			}
			dropped[k] = err
			continue
		}
		messages[k] = m
	}
	return messages, dropped, nil
}

// DecodeChatIDs decodes a userChats/{userId} list. The remote list is either
// an object of push keys to chat ids or an array. Ids are returned in key
// order without duplicates; non-string entries are skipped.
func DecodeChatIDs(raw json.RawMessage) ([]string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var values []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, malformed("chat ids: %v", err)
		}
	case '{':
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, malformed("chat ids: %v", err)
		}
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			values = append(values, entries[k])
		}
	default:
		return nil, malformed("chat ids: unexpected %s", raw)
	}

	seen := make(map[string]bool, len(values))
	ids := make([]string, 0, len(values))
	for _, v := range values {
		var id string
		if err := json.Unmarshal(v, &id); err != nil || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// DecodeStarred decodes a userStarredMessages/{userId} index of
// chatId -> messageId -> record. Malformed records are skipped.
func DecodeStarred(raw json.RawMessage) (map[string]map[string]StarredMessage, error) {
	var chats map[string]map[string]json.RawMessage
	if err := decodeObject(raw, &chats); err != nil {
		return nil, malformed("starred messages: %v", err)
	}
	starred := make(map[string]map[string]StarredMessage, len(chats))
	for chatID, msgs := range chats {
		for msgID, v := range msgs {
			var s StarredMessage
			if err := json.Unmarshal(v, &s); err != nil {
				continue
			}
			if s.MessageID == "" {
				s.MessageID = msgID
			}
			if s.ChatID == "" {
				s.ChatID = chatID
			}
			if s.MessageID != msgID || s.ChatID != chatID {
				continue
			}
			if starred[chatID] == nil {
				starred[chatID] = map[string]StarredMessage{}
			}
			starred[chatID][msgID] = s
		}
	}
	return starred, nil
}

// decodeObject treats an absent value as an empty object.
func decodeObject(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
