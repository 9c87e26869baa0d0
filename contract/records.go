package contract

import "time"

// User is the record stored at users/{userId}.
type User struct {
	UserID         string `json:"userId" firestore:"userId"`
	FirstName      string `json:"firstName" firestore:"firstName"`
	LastName       string `json:"lastName" firestore:"lastName"`
	FirstLast      string `json:"firstLast" firestore:"firstLast"`
	Email          string `json:"email,omitempty" firestore:"email,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty" firestore:"profilePicture,omitempty"`
	About          string `json:"about,omitempty" firestore:"about,omitempty"`
}

// FullName is what chat lists show as a title.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Chat is the record stored at chats/{chatId}. Key is not stored, it comes
// from the path.
type Chat struct {
	Key               string    `json:"-" firestore:"-"`
	Users             []string  `json:"users" firestore:"users"`
	CreatedBy         string    `json:"createdBy" firestore:"createdBy"`
	UpdatedBy         string    `json:"updatedBy" firestore:"updatedBy"`
	CreatedAt         time.Time `json:"createdAt" firestore:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt" firestore:"updatedAt"`
	LatestMessageText string    `json:"latestMessageText,omitempty" firestore:"latestMessageText,omitempty"`
}

// HasUser reports whether userID participates in the chat.
func (c Chat) HasUser(userID string) bool {
	for _, u := range c.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// Message is the record stored at messages/{chatId}/{messageKey}.
type Message struct {
	Key     string    `json:"-" firestore:"-"`
	SentBy  string    `json:"sentBy" firestore:"sentBy"`
	SentAt  time.Time `json:"sentAt" firestore:"sentAt"`
	Text    string    `json:"text" firestore:"text"`
	ReplyTo string    `json:"replyTo,omitempty" firestore:"replyTo,omitempty"`
}

// StarredMessage is the record stored at
// userStarredMessages/{userId}/{chatId}/{messageId}.
type StarredMessage struct {
	MessageID string    `json:"messageId" firestore:"messageId"`
	ChatID    string    `json:"chatId" firestore:"chatId"`
	StarredAt time.Time `json:"starredAt" firestore:"starredAt"`
}
