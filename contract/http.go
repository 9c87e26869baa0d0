package contract

type SendRequest struct {
	ChatID  string   `json:"chat_id"`
	Users   []string `json:"users"`
	Text    string   `json:"text"`
	ReplyTo string   `json:"reply_to"`
}

type SendResponse struct {
	ChatID string `json:"chat_id"`
	Error  string `json:"error,omitempty"`
	// Text echoes the composed message on failure so the client can keep it.
	Text string `json:"text,omitempty"`
}

type StarRequest struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

type StarResponse struct {
	Starred bool `json:"starred"`
}

type ChatItem struct {
	ChatID    string `json:"chat_id"`
	Title     string `json:"title"`
	SubTitle  string `json:"sub_title"`
	Image     string `json:"image,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

type ChatsResponse struct {
	Chats   []ChatItem `json:"chats"`
	Loading bool       `json:"loading"`
}

type MessageItem struct {
	Key       string `json:"key"`
	SentBy    string `json:"sent_by"`
	SentAt    string `json:"sent_at"`
	Text      string `json:"text"`
	HTML      string `json:"html"`
	Own       bool   `json:"own"`
	Starred   bool   `json:"starred"`
	ReplyTo   string `json:"reply_to,omitempty"`
	ReplyText string `json:"reply_text,omitempty"`
}

type MessagesResponse struct {
	Messages []MessageItem `json:"messages"`
}

type UserItem struct {
	UserID         string `json:"user_id"`
	Title          string `json:"title"`
	SubTitle       string `json:"sub_title,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

type SearchResponse struct {
	Users []UserItem `json:"users"`
}

type ProfileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	About     string `json:"about"`
	// Image is an optional base64 encoded profile picture.
	Image string `json:"image,omitempty"`
}

type ErrorResponse struct {
	Error  string              `json:"error"`
	Fields map[string][]string `json:"fields,omitempty"`
}
