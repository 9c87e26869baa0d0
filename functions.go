package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/klipach/chatsync/auth"
	"github.com/klipach/chatsync/config"
	"github.com/klipach/chatsync/contract"
	"github.com/klipach/chatsync/filter"
	"github.com/klipach/chatsync/gateway"
	"github.com/klipach/chatsync/log"
	"github.com/klipach/chatsync/session"
	"github.com/klipach/chatsync/store"
	"github.com/klipach/chatsync/user"
	"github.com/klipach/chatsync/validate"
)

const (
	userIDLogField = "userID"
	chatIDLogField = "chatID"
	bodyLogField   = "body"

	traceHeader  = "X-Cloud-Trace-Context"
	newChatTitle = "New Chat"
	maxBodyBytes = 8 << 20
)

func init() {
	functions.HTTP("Chats", Chats)
	functions.HTTP("Messages", Messages)
	functions.HTTP("Send", Send)
	functions.HTTP("Star", Star)
	functions.HTTP("SearchUsers", SearchUsers)
	functions.HTTP("Profile", Profile)
}

var (
	defaultOnce   sync.Once
	defaultServer *Server
	defaultErr    error
)

// server builds the process wide Server from the environment on first use.
func server(ctx context.Context) (*Server, error) {
	defaultOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			defaultErr = err
			return
		}
		flush := setupLogging(ctx, cfg)
		b, err := NewBackend(context.Background(), cfg)
		if err != nil {
			defaultErr = err
			return
		}
		if flush != nil {
			b.closers = append(b.closers, flush)
		}
		defaultServer = NewServer(b)
	})
	return defaultServer, defaultErr
}

// setupLogging installs the default handler. It returns the flush func of
// the Cloud Logging client, if one was opened.
func setupLogging(ctx context.Context, cfg *config.Config) func() error {
	level := log.ParseLevel(cfg.Log.Level)
	if !cfg.Log.Cloud {
		log.SetDefault(log.NewCloudLoggingHandlerTo(os.Stdout, level))
		return nil
	}
	h, flush, err := log.NewClientHandler(ctx, cfg.Firebase.ProjectID, "chatsync", level)
	if err != nil {
		log.LoggerFromContext(ctx).Error("error while creating logging client, using stdout", log.Err(err))
		log.SetDefault(log.NewCloudLoggingHandlerTo(os.Stdout, level))
		return nil
	}
	log.SetDefault(h)
	return flush
}

func entry(handler func(*Server, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := server(r.Context())
		if err != nil {
			logger := log.LoggerFromContext(r.Context())
			logger.Error("error while initializing backend", log.Err(err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		handler(s, w, r)
	}
}

var (
	Chats       = entry((*Server).Chats)
	Messages    = entry((*Server).Messages)
	Send        = entry((*Server).Send)
	Star        = entry((*Server).Star)
	SearchUsers = entry((*Server).SearchUsers)
	Profile     = entry((*Server).Profile)
)

type Server struct {
	b *Backend
}

func NewServer(b *Backend) *Server {
	return &Server{b: b}
}

// begin checks the method, authenticates the caller and returns a context
// carrying a logger scoped to the user.
func (s *Server) begin(w http.ResponseWriter, r *http.Request, method, name string) (context.Context, *slog.Logger, string, bool) {
	ctx := r.Context()
	if traceID := s.traceID(r); traceID != "" {
		ctx = log.WithTraceID(ctx, traceID)
	}
	logger := log.LoggerFromContext(ctx).With(slog.String("function", name))
	logger.Info("function called")

	if r.Method != method {
		logger.Error("invalid method: " + r.Method)
		http.Error(w, "Method Not Implemented", http.StatusNotImplemented)
		return nil, nil, "", false
	}

	userID, err := auth.Authenticate(r, s.b.Verifier)
	if err != nil {
		writeError(w, logger, "error while authenticating", err)
		return nil, nil, "", false
	}
	logger = logger.With(slog.String(userIDLogField, userID))
	return log.WithLogger(ctx, logger), logger, userID, true
}

func (s *Server) traceID(r *http.Request) string {
	header := r.Header.Get(traceHeader)
	if header == "" || s.b.ProjectID == "" {
		return ""
	}
	traceID, _, _ := strings.Cut(header, "/")
	return "projects/" + s.b.ProjectID + "/traces/" + traceID
}

func decodeBody(r *http.Request, logger *slog.Logger, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	logger.Debug("incoming request", slog.Int(bodyLogField, len(data)))
	if err := json.Unmarshal(data, v); err != nil {
		return &validate.FieldError{Fields: validate.Errors{"body": {"Body is not valid JSON"}}}
	}
	return nil
}

// Chats opens a live session for the caller, waits for the chat list to load
// and returns it most recently updated first.
func (s *Server) Chats(w http.ResponseWriter, r *http.Request) {
	ctx, logger, userID, ok := s.begin(w, r, http.MethodGet, "Chats")
	if !ok {
		return
	}

	sess := session.New(s.b.Gateway, userID, session.WithUserFetcher(s.b.Fetcher))
	if err := sess.Start(ctx); err != nil {
		writeError(w, logger, "error while starting session", err)
		return
	}
	defer sess.Close()

	waitCtx, cancel := context.WithTimeout(ctx, s.b.LoadTimeout)
	err := sess.WaitLoaded(waitCtx)
	cancel()
	loading := false
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("chats still loading, returning partial list", slog.Duration("timeout", s.b.LoadTimeout))
		loading = true
	case err != nil:
		writeError(w, logger, "error while loading chats", err)
		return
	}

	st := sess.State()
	fetched := map[string]*contract.User{}
	resp := contract.ChatsResponse{Chats: []contract.ChatItem{}, Loading: loading}
	for _, c := range store.SortedChats(st.Chats) {
		item := contract.ChatItem{
			ChatID:    c.Key,
			SubTitle:  c.LatestMessageText,
			UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
		}
		if item.SubTitle == "" {
			item.SubTitle = newChatTitle
		}
		if other := s.participant(ctx, logger, st.Users, fetched, store.OtherParticipant(c, userID)); other != nil {
			item.Title = other.FullName()
			item.Image = other.ProfilePicture
		}
		resp.Chats = append(resp.Chats, item)
	}
	writeJSON(w, logger, http.StatusOK, resp)
}

// participant returns the profile of userID from the session store, fetching
// it once per request when the session has not got to it yet.
func (s *Server) participant(ctx context.Context, logger *slog.Logger, users store.Users, fetched map[string]*contract.User, userID string) *contract.User {
	if userID == "" {
		return nil
	}
	if u, ok := users[userID]; ok {
		return &u
	}
	if u, ok := fetched[userID]; ok {
		return u
	}
	u, err := s.b.Fetcher.FetchUser(ctx, userID)
	if err != nil {
		logger.Warn("error while fetching participant", slog.String("participant", userID), log.Err(err))
	}
	fetched[userID] = u
	return u
}

// Messages returns the messages of one chat oldest first.
func (s *Server) Messages(w http.ResponseWriter, r *http.Request) {
	ctx, logger, userID, ok := s.begin(w, r, http.MethodGet, "Messages")
	if !ok {
		return
	}
	chatID := r.URL.Query().Get("chat_id")
	logger = logger.With(slog.String(chatIDLogField, chatID))
	if chatID == "" {
		writeError(w, logger, "missing chat id", validate.Errors{"chatId": {"Chat id can't be blank"}}.Err())
		return
	}
	if _, err := s.memberChat(ctx, chatID, userID); err != nil {
		writeError(w, logger, "error while reading chat", err)
		return
	}

	snap, err := s.b.Gateway.ReadOnce(ctx, gateway.Messages(chatID))
	if err != nil {
		writeError(w, logger, "error while reading messages", err)
		return
	}
	msgs, dropped, err := contract.DecodeMessages(snap.Value)
	if err != nil {
		writeError(w, logger, "error while decoding messages", err)
		return
	}
	for key, derr := range dropped {
		logger.Warn("dropping message", slog.String("key", key), log.Err(derr))
	}

	starSnap, err := s.b.Gateway.ReadOnce(ctx, gateway.StarredMessages(userID))
	if err != nil {
		writeError(w, logger, "error while reading starred messages", err)
		return
	}
	starred, err := contract.DecodeStarred(starSnap.Value)
	if err != nil {
		logger.Warn("error while decoding starred messages", log.Err(err))
	}
	st := store.State{Messages: store.ApplyMessagesDelta(nil, chatID, msgs), Starred: starred}

	resp := contract.MessagesResponse{Messages: []contract.MessageItem{}}
	for _, m := range st.ChatMessages(chatID) {
		item := contract.MessageItem{
			Key:     m.Key,
			SentBy:  m.SentBy,
			SentAt:  m.SentAt.Format(time.RFC3339),
			Text:    m.Text,
			HTML:    filter.RenderMessage(m.Text),
			Own:     m.SentBy == userID,
			Starred: st.IsStarred(chatID, m.Key),
			ReplyTo: m.ReplyTo,
		}
		if target := store.ReplyTarget(msgs, m); target != nil {
			item.ReplyText = target.Text
		}
		resp.Messages = append(resp.Messages, item)
	}
	writeJSON(w, logger, http.StatusOK, resp)
}

func (s *Server) memberChat(ctx context.Context, chatID, userID string) (contract.Chat, error) {
	snap, err := s.b.Gateway.ReadOnce(ctx, gateway.Chat(chatID))
	if err != nil {
		return contract.Chat{}, err
	}
	if !snap.Exists() {
		return contract.Chat{}, errChatNotFound
	}
	c, err := contract.DecodeChat(chatID, snap.Value)
	if err != nil {
		return contract.Chat{}, err
	}
	if !c.HasUser(userID) {
		return contract.Chat{}, errNotParticipant
	}
	return c, nil
}

// Send posts a text message, creating the chat first when no chat id is
// given. On failure the composed text is echoed back.
func (s *Server) Send(w http.ResponseWriter, r *http.Request) {
	ctx, logger, userID, ok := s.begin(w, r, http.MethodPost, "Send")
	if !ok {
		return
	}
	var req contract.SendRequest
	if err := decodeBody(r, logger, &req); err != nil {
		writeError(w, logger, "error while decoding request", err)
		return
	}

	fail := func(msg string, chatID string, err error) {
		code, text := statusFor(err)
		if code >= http.StatusInternalServerError {
			code, text = http.StatusBadGateway, "Bad Gateway"
		}
		logger.Error(msg, log.Err(err), slog.Int("status", code))
		writeJSON(w, logger, code, contract.SendResponse{ChatID: chatID, Error: text, Text: req.Text})
	}

	chatID := req.ChatID
	if chatID == "" {
		users := append([]string{userID}, req.Users...)
		key, err := s.b.Actions.CreateChat(ctx, userID, users)
		if err != nil {
			fail("error while creating chat", key, err)
			return
		}
		chatID = key
		logger.Info("chat created", slog.String(chatIDLogField, chatID))
	} else if _, err := s.memberChat(ctx, chatID, userID); err != nil {
		fail("error while reading chat", chatID, err)
		return
	}

	if err := s.b.Actions.SendTextMessage(ctx, chatID, userID, req.Text, req.ReplyTo); err != nil {
		fail("error while sending message", chatID, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, contract.SendResponse{ChatID: chatID})
}

// Star toggles the starred flag of one message for the caller.
func (s *Server) Star(w http.ResponseWriter, r *http.Request) {
	ctx, logger, userID, ok := s.begin(w, r, http.MethodPost, "Star")
	if !ok {
		return
	}
	var req contract.StarRequest
	if err := decodeBody(r, logger, &req); err != nil {
		writeError(w, logger, "error while decoding request", err)
		return
	}
	errs := validate.Errors{}
	if req.ChatID == "" {
		errs.Add("chatId", []string{"Chat id can't be blank"})
	}
	if req.MessageID == "" {
		errs.Add("messageId", []string{"Message id can't be blank"})
	}
	if err := errs.Err(); err != nil {
		writeError(w, logger, "invalid star request", err)
		return
	}

	starred, err := s.b.Actions.ToggleStarMessage(ctx, req.MessageID, req.ChatID, userID)
	if err != nil {
		writeError(w, logger, "error while toggling star", err)
		return
	}
	writeJSON(w, logger, http.StatusOK, contract.StarResponse{Starred: starred})
}

// SearchUsers returns the users whose names start with q, the caller
// excluded, ordered by name.
func (s *Server) SearchUsers(w http.ResponseWriter, r *http.Request) {
	ctx, logger, userID, ok := s.begin(w, r, http.MethodGet, "SearchUsers")
	if !ok {
		return
	}
	found, err := s.b.Users.SearchUsers(ctx, r.URL.Query().Get("q"), userID)
	if err != nil {
		writeError(w, logger, "error while searching users", err)
		return
	}
	resp := contract.SearchResponse{Users: make([]contract.UserItem, 0, len(found))}
	for _, u := range found {
		resp.Users = append(resp.Users, userItem(u))
	}
	sort.Slice(resp.Users, func(i, j int) bool {
		if resp.Users[i].Title != resp.Users[j].Title {
			return resp.Users[i].Title < resp.Users[j].Title
		}
		return resp.Users[i].UserID < resp.Users[j].UserID
	})
	writeJSON(w, logger, http.StatusOK, resp)
}

func userItem(u contract.User) contract.UserItem {
	return contract.UserItem{
		UserID:         u.UserID,
		Title:          u.FullName(),
		SubTitle:       u.About,
		ProfilePicture: u.ProfilePicture,
	}
}

// Profile updates the caller's names and about text and, when an image is
// sent, the profile picture.
func (s *Server) Profile(w http.ResponseWriter, r *http.Request) {
	ctx, logger, userID, ok := s.begin(w, r, http.MethodPost, "Profile")
	if !ok {
		return
	}
	var req contract.ProfileRequest
	if err := decodeBody(r, logger, &req); err != nil {
		writeError(w, logger, "error while decoding request", err)
		return
	}

	p := user.Profile{FirstName: req.FirstName, LastName: req.LastName, About: req.About}
	if req.Image != "" {
		if s.b.Images == nil {
			writeError(w, logger, "profile image sent", errUploadDisabled)
			return
		}
		url, err := s.b.Images.UploadProfileImage(ctx, userID, req.Image)
		if err != nil {
			writeError(w, logger, "error while uploading profile image", err)
			return
		}
		p.ProfilePicture = url
	}

	u, err := s.b.Users.UpdateProfile(ctx, userID, p)
	if err != nil {
		writeError(w, logger, "error while updating profile", err)
		return
	}
	if s.b.Invalidator != nil {
		if err := s.b.Invalidator.Invalidate(ctx, userID); err != nil {
			logger.Warn("error while invalidating cached profile", log.Err(err))
		}
	}
	if u == nil {
		u = &contract.User{UserID: userID, FirstName: p.FirstName, LastName: p.LastName, About: p.About, ProfilePicture: p.ProfilePicture}
	}
	writeJSON(w, logger, http.StatusOK, userItem(*u))
}
