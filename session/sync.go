package session

import (
	"context"
	"log/slog"

	"github.com/klipach/chatsync/contract"
	"github.com/klipach/chatsync/gateway"
	"github.com/klipach/chatsync/log"
	"github.com/klipach/chatsync/store"
)

func (s *Session) onChatIDs(gen uint64, snap gateway.Snapshot) {
	ids, err := contract.DecodeChatIDs(snap.Value)

	s.mu.Lock()
	if !s.activeLocked(gen) {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.logger.Warn("dropping chat list update", log.Err(err))
		s.mu.Unlock()
		return
	}
	s.chatIDs = ids
	s.listResolved = true
	var fresh []string
	for _, id := range ids {
		if !s.subscribed[id] {
			s.subscribed[id] = true
			fresh = append(fresh, id)
		}
	}
	s.checkLoadedLocked()
	s.notifyLocked()
	ctx := s.ctx
	s.mu.Unlock()

	for _, id := range fresh {
		s.subscribeChat(ctx, gen, id)
	}
}

func (s *Session) subscribeChat(ctx context.Context, gen uint64, chatID string) {
	h, err := s.gw.Subscribe(ctx, gateway.Chat(chatID), func(snap gateway.Snapshot) {
		s.onChatDetail(gen, chatID, snap)
	})
	if err != nil {
		s.subscribeFailed(gen, chatID, err)
		return
	}
	if !s.track(gen, h) {
		return
	}

	h, err = s.gw.Subscribe(ctx, gateway.Messages(chatID), func(snap gateway.Snapshot) {
		s.onMessages(gen, chatID, snap)
	})
	if err != nil {
		s.subscribeFailed(gen, chatID, err)
		return
	}
	s.track(gen, h)
}

// subscribeFailed forgets chatID so the next chat list update retries it.
// The detail subscription, if it was opened, stays tracked.
func (s *Session) subscribeFailed(gen uint64, chatID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked(gen) {
		return
	}
	s.logger.Error("error while subscribing to chat", slog.String(chatIDLogField, chatID), log.Err(err))
	delete(s.subscribed, chatID)
}

func (s *Session) onChatDetail(gen uint64, chatID string, snap gateway.Snapshot) {
	s.mu.Lock()
	if !s.activeLocked(gen) {
		s.mu.Unlock()
		return
	}
	s.detailSeen[chatID] = true

	var missing []string
	if snap.Exists() {
		chat, err := contract.DecodeChat(chatID, snap.Value)
		if err != nil {
			s.logger.Warn("dropping chat detail", slog.String(chatIDLogField, chatID), log.Err(err))
		} else {
			merged := make(store.Chats, len(s.state.Chats)+1)
			for k, v := range s.state.Chats {
				merged[k] = v
			}
			merged[chatID] = chat
			s.state.Chats = store.ApplyChatsDelta(s.state.Chats, merged)

			for _, uid := range chat.Users {
				if _, ok := s.state.Users[uid]; ok || s.fetching[uid] {
					continue
				}
				s.fetching[uid] = true
				missing = append(missing, uid)
			}
		}
	} else {
		s.logger.Debug("chat detail absent", slog.String(chatIDLogField, chatID))
	}
	s.checkLoadedLocked()
	s.notifyLocked()
	ctx := s.ctx
	s.mu.Unlock()

	for _, uid := range missing {
		go s.fetchUser(ctx, gen, uid)
	}
}

func (s *Session) fetchUser(ctx context.Context, gen uint64, userID string) {
	u, err := s.users.FetchUser(ctx, userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked(gen) {
		return
	}
	delete(s.fetching, userID)
	if err != nil {
		s.logger.Warn("error while fetching user", slog.String(keyLogField, userID), log.Err(err))
		return
	}
	if u == nil {
		s.logger.Warn("chat participant not found", slog.String(keyLogField, userID))
		return
	}
	s.state.Users = store.ApplyUserDelta(s.state.Users, []contract.User{*u})
	s.notifyLocked()
}

func (s *Session) onMessages(gen uint64, chatID string, snap gateway.Snapshot) {
	msgs, dropped, err := contract.DecodeMessages(snap.Value)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked(gen) {
		return
	}
	if err != nil {
		s.logger.Warn("dropping messages update", slog.String(chatIDLogField, chatID), log.Err(err))
		return
	}
	for key, derr := range dropped {
		s.logger.Warn("dropping message", slog.String(chatIDLogField, chatID), slog.String(keyLogField, key), log.Err(derr))
	}
	s.state.Messages = store.ApplyMessagesDelta(s.state.Messages, chatID, msgs)
	s.notifyLocked()
}

func (s *Session) onStarred(gen uint64, snap gateway.Snapshot) {
	starred, err := contract.DecodeStarred(snap.Value)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked(gen) {
		return
	}
	if err != nil {
		s.logger.Warn("dropping starred messages update", log.Err(err))
		return
	}
	s.state.Starred = store.ApplyStarredDelta(s.state.Starred, starred)
	s.notifyLocked()
}
