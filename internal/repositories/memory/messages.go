package memory

import (
	"context"
	"fmt"
	"slices"

	"zenj-service/internal/models"
	"zenj-service/internal/repositories"
)

func (s *Store) InsertMessage(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; ok {
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	log := s.logs[msg.ConversationID]
	if n := len(log); n > 0 && s.messages[log[n-1]].Seq >= msg.Seq {
		return fmt.Errorf("seq %d not after tail of %s", msg.Seq, msg.ConversationID)
	}
	s.messages[msg.ID] = msg.Clone()
	s.logs[msg.ConversationID] = append(log, msg.ID)
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return m.Clone(), nil
}

func (s *Store) TailMessage(_ context.Context, conversationID string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[conversationID]
	if len(log) == 0 {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return s.messages[log[len(log)-1]].Clone(), nil
}

// ListMessages relies on the log slice being ordered by seq.
func (s *Store) ListMessages(_ context.Context, conversationID string, afterSeq int64, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[conversationID]
	start, _ := slices.BinarySearchFunc(log, afterSeq+1, func(id string, seq int64) int {
		return int(s.messages[id].Seq - seq)
	})
	var out []models.Message
	for _, id := range log[start:] {
		if len(out) == limit {
			break
		}
		out = append(out, s.messages[id].Clone())
	}
	return out, nil
}

func (s *Store) RecentMessages(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[conversationID]
	if len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]models.Message, 0, len(log))
	for _, id := range log {
		out = append(out, s.messages[id].Clone())
	}
	return out, nil
}

func (s *Store) FindByClientID(_ context.Context, conversationID string, clientID string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if clientID == "" {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	for _, id := range s.logs[conversationID] {
		if m := s.messages[id]; m.ClientMessageID == clientID {
			return m.Clone(), nil
		}
	}
	return models.Message{}, repositories.ErrMessageNotFound
}

func (s *Store) UpdateStatus(_ context.Context, id string, status models.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return repositories.ErrMessageNotFound
	}
	if status.Rank() > m.Status.Rank() {
		m.Status = status
		s.messages[id] = m
	}
	return nil
}

func (s *Store) AddReaction(_ context.Context, id string, emoji string, actorName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return repositories.ErrMessageNotFound
	}
	if slices.Contains(m.Reactions[emoji], actorName) {
		return nil
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], actorName)
	s.messages[id] = m
	return nil
}

func (s *Store) DeleteConversation(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.logs[conversationID] {
		delete(s.messages, id)
	}
	delete(s.logs, conversationID)
	return nil
}
