package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatstack/messaging-service/internal/access"
	"github.com/chatstack/messaging-service/internal/model"
	"github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// escapeLike escapes LIKE metacharacters so user input matches literally.
// Queries using the result must carry an ESCAPE '\' clause.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// ListMessages returns one page of messages matching the query. Non-admin
// requesters only ever see messages from conversations they participate in.
func (s *Store) ListMessages(ctx context.Context, requester access.Requester, query store.MessageQuery) (*store.MessagePage, error) {
	query.Normalize(s.defaultPageSize, s.maxPageSize)

	if query.ConversationID != nil {
		// Scoped listing: resolve the conversation first so an unknown id is
		// a 404 and an off-limits one a 403, instead of a silently empty page.
		conv, err := s.loadConversation(ctx, *query.ConversationID)
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
	}

	q := s.db.WithContext(ctx).Model(&model.Message{})
	if !requester.Admin {
		q = q.Where("conversation_id IN (?)", s.db.
			Model(&model.ConversationParticipant{}).
			Select("conversation_id").
			Where("user_id = ?", requester.ID))
	}
	if query.ConversationID != nil {
		q = q.Where("conversation_id = ?", *query.ConversationID)
	}
	if query.SenderID != nil {
		q = q.Where("sender_id = ?", *query.SenderID)
	}
	if query.SentAfter != nil {
		q = q.Where("sent_at >= ?", *query.SentAfter)
	}
	if query.SentBefore != nil {
		q = q.Where("sent_at < ?", *query.SentBefore)
	}
	if query.LastNDays != nil {
		if *query.LastNDays < 0 {
			return nil, &store.ValidationError{Field: "last_n_days", Message: "must not be negative"}
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -*query.LastNDays)
		q = q.Where("sent_at >= ?", cutoff)
	}
	if query.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(query.Search)) + "%"
		q = q.Where(`LOWER(message_body) LIKE ? ESCAPE '\'`, pattern)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, err
	}

	var results []model.Message
	err := q.Preload("Sender").
		Order("sent_at ASC, id ASC").
		Offset((query.Page - 1) * query.PageSize).
		Limit(query.PageSize).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return store.NewMessagePage(results, count, query.Page, query.PageSize), nil
}

// SendMessage stores a new message and fans out notifications to the other
// participants. Only participants may send; admin is not enough here.
func (s *Store) SendMessage(ctx context.Context, requester access.Requester, conversationID uuid.UUID, body string) (*model.Message, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	participants, err := s.participantIDs(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if !access.CanSendMessage(requester, participants) {
		return nil, &store.ForbiddenError{}
	}
	if strings.TrimSpace(body) == "" {
		return nil, &store.ValidationError{Field: "message_body", Message: "must not be empty"}
	}

	sender, err := s.GetUser(ctx, requester.ID)
	if err != nil {
		return nil, err
	}

	msg := model.Message{
		ID:             uuid.New(),
		SenderID:       requester.ID,
		ConversationID: conv.ID,
		Body:           body,
		SentAt:         time.Now().UTC(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return fanOutNotifications(tx, participants, &msg, model.NotificationNewMessage,
			fmt.Sprintf("New message from %s %s", sender.FirstName, sender.LastName))
	})
	if err != nil {
		return nil, s.translate(err)
	}
	msg.Sender = sender
	return &msg, nil
}

// fanOutNotifications writes one notification per participant other than the
// message sender.
func fanOutNotifications(tx *gorm.DB, participants []uuid.UUID, msg *model.Message, kind model.NotificationType, content string) error {
	now := time.Now().UTC()
	var rows []model.Notification
	for _, userID := range participants {
		if userID == msg.SenderID {
			continue
		}
		msgID := msg.ID
		rows = append(rows, model.Notification{
			ID:        uuid.New(),
			UserID:    userID,
			MessageID: &msgID,
			Type:      kind,
			Content:   content,
			CreatedAt: now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.Create(&rows).Error
}

// loadMessage fetches a message with its sender, plus the participant set of
// its conversation for access checks.
func (s *Store) loadMessage(ctx context.Context, messageID uuid.UUID) (*model.Message, []uuid.UUID, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).Preload("Sender").First(&msg, "id = ?", messageID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, &store.NotFoundError{Resource: "message", ID: messageID.String()}
		}
		return nil, nil, err
	}
	participants, err := s.participantIDs(ctx, msg.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	return &msg, participants, nil
}

// GetMessage loads a single message, visible to conversation participants and
// admins.
func (s *Store) GetMessage(ctx context.Context, requester access.Requester, messageID uuid.UUID) (*model.Message, error) {
	msg, participants, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !access.CanViewMessage(requester, participants) {
		return nil, &store.ForbiddenError{}
	}
	return msg, nil
}

// UpdateMessage replaces a message body. The previous body is recorded in
// message history within the same transaction, and the other participants are
// notified of the edit.
func (s *Store) UpdateMessage(ctx context.Context, requester access.Requester, messageID uuid.UUID, body string) (*model.Message, error) {
	msg, participants, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !access.CanModifyMessage(requester, msg.SenderID) {
		return nil, &store.ForbiddenError{}
	}
	if strings.TrimSpace(body) == "" {
		return nil, &store.ValidationError{Field: "message_body", Message: "must not be empty"}
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		history := model.MessageHistory{
			ID:        uuid.New(),
			MessageID: msg.ID,
			OldBody:   msg.Body,
			EditedAt:  now,
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
		err := tx.Model(&model.Message{}).
			Where("id = ?", msg.ID).
			Updates(map[string]any{"message_body": body, "edited": true}).Error
		if err != nil {
			return err
		}
		senderName := "someone"
		if msg.Sender != nil {
			senderName = msg.Sender.FirstName + " " + msg.Sender.LastName
		}
		return fanOutNotifications(tx, participants, msg, model.NotificationMessageEdited,
			fmt.Sprintf("Message from %s was edited", senderName))
	})
	if err != nil {
		return nil, s.translate(err)
	}
	msg.Body = body
	msg.Edited = true
	return msg, nil
}

// DeleteMessage removes a message together with its history and notifications.
func (s *Store) DeleteMessage(ctx context.Context, requester access.Requester, messageID uuid.UUID) error {
	msg, _, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if !access.CanModifyMessage(requester, msg.SenderID) {
		return &store.ForbiddenError{}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", msg.ID).Delete(&model.Notification{}).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id = ?", msg.ID).Delete(&model.MessageHistory{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Message{}, "id = ?", msg.ID).Error
	})
}

// ListMessageHistory returns the edit history of a message, newest first.
func (s *Store) ListMessageHistory(ctx context.Context, requester access.Requester, messageID uuid.UUID) ([]model.MessageHistory, error) {
	msg, participants, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !access.CanViewMessage(requester, participants) {
		return nil, &store.ForbiddenError{}
	}

	history := []model.MessageHistory{}
	err = s.db.WithContext(ctx).
		Where("message_id = ?", msg.ID).
		Order("edited_at DESC, id ASC").
		Find(&history).Error
	if err != nil {
		return nil, err
	}
	return history, nil
}
