package gateway

import "strings"

const (
	usersRoot           = "users"
	chatsRoot           = "chats"
	messagesRoot        = "messages"
	userChatsRoot       = "userChats"
	userStarredMsgsRoot = "userStarredMessages"
)

func Users() string { return usersRoot }

func User(userID string) string { return Join(usersRoot, userID) }

func Chats() string { return chatsRoot }

func Chat(chatID string) string { return Join(chatsRoot, chatID) }

func Messages(chatID string) string { return Join(messagesRoot, chatID) }

func UserChats(userID string) string { return Join(userChatsRoot, userID) }

func StarredMessages(userID string) string {
	return Join(userStarredMsgsRoot, userID)
}

func StarredMessage(userID, chatID, messageID string) string {
	return Join(userStarredMsgsRoot, userID, chatID, messageID)
}

// Join builds a path from segments, dropping empty ones.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Split returns the non-empty segments of path.
func Split(path string) []string {
	var parts []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// Key is the last segment of path.
func Key(path string) string {
	parts := Split(path)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}
