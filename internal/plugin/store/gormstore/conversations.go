package gormstore

import (
	"context"
	"time"

	"github.com/chatstack/messaging-service/internal/access"
	"github.com/chatstack/messaging-service/internal/model"
	"github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// participantUsers loads the user records for a conversation's participant set.
func (s *Store) participantUsers(ctx context.Context, conversationID uuid.UUID) ([]model.User, error) {
	var users []model.User
	err := s.db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON cp.user_id = users.id").
		Where("cp.conversation_id = ?", conversationID).
		Order("cp.created_at ASC, users.id ASC").
		Find(&users).Error
	return users, err
}

func (s *Store) conversationDetail(ctx context.Context, conv *model.Conversation) (*store.ConversationDetail, error) {
	participants, err := s.participantUsers(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	var messages []model.Message
	err = s.db.WithContext(ctx).
		Preload("Sender").
		Where("conversation_id = ?", conv.ID).
		Order("sent_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []model.Message{}
	}
	if participants == nil {
		participants = []model.User{}
	}
	return &store.ConversationDetail{
		ConversationSummary: store.ConversationSummary{
			ID:           conv.ID,
			Participants: participants,
			CreatedAt:    conv.CreatedAt,
		},
		Messages: messages,
	}, nil
}

// CreateConversation creates a conversation with the given participant set.
// The creator is always part of the set, whether listed or not.
func (s *Store) CreateConversation(ctx context.Context, requester access.Requester, participantIDs []uuid.UUID) (*store.ConversationDetail, error) {
	ids := lo.Uniq(participantIDs)
	if !lo.Contains(ids, requester.ID) {
		ids = append(ids, requester.ID)
	}
	if err := s.requireUsersExist(ctx, ids); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	conv := model.Conversation{ID: uuid.New(), CreatedAt: now}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		rows := lo.Map(ids, func(id uuid.UUID, _ int) model.ConversationParticipant {
			return model.ConversationParticipant{ConversationID: conv.ID, UserID: id, CreatedAt: now}
		})
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, s.translate(err)
	}
	return s.conversationDetail(ctx, &conv)
}

// ListConversations returns the conversations visible to the requester:
// all of them for admins, otherwise those the requester participates in.
func (s *Store) ListConversations(ctx context.Context, requester access.Requester) ([]store.ConversationSummary, error) {
	q := s.db.WithContext(ctx).Model(&model.Conversation{})
	if !requester.Admin {
		q = q.Where("id IN (?)", s.db.
			Model(&model.ConversationParticipant{}).
			Select("conversation_id").
			Where("user_id = ?", requester.ID))
	}

	var convs []model.Conversation
	if err := q.Order("created_at DESC, id ASC").Find(&convs).Error; err != nil {
		return nil, err
	}

	summaries := make([]store.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		participants, err := s.participantUsers(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		if participants == nil {
			participants = []model.User{}
		}
		summaries = append(summaries, store.ConversationSummary{
			ID:           conv.ID,
			Participants: participants,
			CreatedAt:    conv.CreatedAt,
		})
	}
	return summaries, nil
}

// GetConversation loads a conversation with its messages. Participants and
// admins only; the conversation is loaded first so an unknown id stays a 404
// for everyone.
func (s *Store) GetConversation(ctx context.Context, requester access.Requester, conversationID uuid.UUID) (*store.ConversationDetail, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ids, err := s.participantIDs(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if !access.CanViewConversation(requester, ids) {
		return nil, &store.ForbiddenError{}
	}
	return s.conversationDetail(ctx, conv)
}

// ReplaceParticipants sets the conversation's participant set to exactly the
// given users. The set may never become empty.
func (s *Store) ReplaceParticipants(ctx context.Context, requester access.Requester, conversationID uuid.UUID, participantIDs []uuid.UUID) (*store.ConversationDetail, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	current, err := s.participantIDs(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if !access.CanMutateConversation(requester, current) {
		return nil, &store.ForbiddenError{}
	}

	next := lo.Uniq(participantIDs)
	if len(next) == 0 {
		return nil, &store.ValidationError{Field: "participant_ids", Message: "must not be empty"}
	}
	if err := s.requireUsersExist(ctx, next); err != nil {
		return nil, err
	}

	toAdd, toRemove := lo.Difference(next, current)
	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(toRemove) > 0 {
			err := tx.Where("conversation_id = ? AND user_id IN ?", conv.ID, toRemove).
				Delete(&model.ConversationParticipant{}).Error
			if err != nil {
				return err
			}
		}
		for _, id := range toAdd {
			row := model.ConversationParticipant{ConversationID: conv.ID, UserID: id, CreatedAt: now}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.translate(err)
	}
	return s.conversationDetail(ctx, conv)
}

// DeleteConversation removes a conversation together with its participant
// rows, messages, message history, and message notifications.
func (s *Store) DeleteConversation(ctx context.Context, requester access.Requester, conversationID uuid.UUID) error {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	ids, err := s.participantIDs(ctx, conv.ID)
	if err != nil {
		return err
	}
	if !access.CanMutateConversation(requester, ids) {
		return &store.ForbiddenError{}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messageIDs := tx.Model(&model.Message{}).
			Select("id").
			Where("conversation_id = ?", conv.ID)
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&model.Notification{}).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&model.MessageHistory{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conv.ID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conv.ID).Delete(&model.ConversationParticipant{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Conversation{}, "id = ?", conv.ID).Error
	})
}

// AddParticipant adds a user to the conversation. Adding an existing
// participant is a no-op success.
func (s *Store) AddParticipant(ctx context.Context, requester access.Requester, conversationID, userID uuid.UUID) (*store.ConversationDetail, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	current, err := s.participantIDs(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if !access.CanMutateConversation(requester, current) {
		return nil, &store.ForbiddenError{}
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	if !lo.Contains(current, userID) {
		row := model.ConversationParticipant{
			ConversationID: conv.ID,
			UserID:         userID,
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return nil, s.translate(err)
		}
	}
	return s.conversationDetail(ctx, conv)
}

// RemoveParticipant removes a user from the conversation. Removing a
// non-member is a no-op success; removing the last participant is refused.
func (s *Store) RemoveParticipant(ctx context.Context, requester access.Requester, conversationID, userID uuid.UUID) (*store.ConversationDetail, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	current, err := s.participantIDs(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if !access.CanMutateConversation(requester, current) {
		return nil, &store.ForbiddenError{}
	}

	if lo.Contains(current, userID) {
		if len(current) == 1 {
			return nil, &store.ValidationError{Field: "user_id", Message: "cannot remove the last participant"}
		}
		err := s.db.WithContext(ctx).
			Where("conversation_id = ? AND user_id = ?", conv.ID, userID).
			Delete(&model.ConversationParticipant{}).Error
		if err != nil {
			return nil, err
		}
	}
	return s.conversationDetail(ctx, conv)
}
