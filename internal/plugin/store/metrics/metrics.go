// Package metrics wraps a MessagingStore with Prometheus instrumentation.
package metrics

import (
	"context"
	"time"

	"github.com/chatstack/messaging-service/internal/access"
	"github.com/chatstack/messaging-service/internal/model"
	"github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/chatstack/messaging-service/internal/security"
	"github.com/google/uuid"
)

// Wrap decorates a store so every operation records its latency under the
// operation name. No-op passthrough when metrics are not initialized.
func Wrap(inner store.MessagingStore) store.MessagingStore {
	return &instrumentedStore{inner: inner}
}

type instrumentedStore struct {
	inner store.MessagingStore
}

var _ store.MessagingStore = (*instrumentedStore)(nil)

func observe(operation string, start time.Time) {
	if security.StoreLatency != nil {
		security.StoreLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

func (s *instrumentedStore) Authenticate(ctx context.Context, subject string) (access.Requester, error) {
	defer observe("authenticate", time.Now())
	return s.inner.Authenticate(ctx, subject)
}

func (s *instrumentedStore) CreateUser(ctx context.Context, requester access.Requester, req store.CreateUserRequest) (*model.User, error) {
	defer observe("create_user", time.Now())
	return s.inner.CreateUser(ctx, requester, req)
}

func (s *instrumentedStore) ListUsers(ctx context.Context, page, pageSize int) ([]model.User, int64, error) {
	defer observe("list_users", time.Now())
	return s.inner.ListUsers(ctx, page, pageSize)
}

func (s *instrumentedStore) GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	defer observe("get_user", time.Now())
	return s.inner.GetUser(ctx, userID)
}

func (s *instrumentedStore) CreateConversation(ctx context.Context, requester access.Requester, participantIDs []uuid.UUID) (*store.ConversationDetail, error) {
	defer observe("create_conversation", time.Now())
	return s.inner.CreateConversation(ctx, requester, participantIDs)
}

func (s *instrumentedStore) ListConversations(ctx context.Context, requester access.Requester) ([]store.ConversationSummary, error) {
	defer observe("list_conversations", time.Now())
	return s.inner.ListConversations(ctx, requester)
}

func (s *instrumentedStore) GetConversation(ctx context.Context, requester access.Requester, conversationID uuid.UUID) (*store.ConversationDetail, error) {
	defer observe("get_conversation", time.Now())
	return s.inner.GetConversation(ctx, requester, conversationID)
}

func (s *instrumentedStore) ReplaceParticipants(ctx context.Context, requester access.Requester, conversationID uuid.UUID, participantIDs []uuid.UUID) (*store.ConversationDetail, error) {
	defer observe("replace_participants", time.Now())
	return s.inner.ReplaceParticipants(ctx, requester, conversationID, participantIDs)
}

func (s *instrumentedStore) DeleteConversation(ctx context.Context, requester access.Requester, conversationID uuid.UUID) error {
	defer observe("delete_conversation", time.Now())
	return s.inner.DeleteConversation(ctx, requester, conversationID)
}

func (s *instrumentedStore) AddParticipant(ctx context.Context, requester access.Requester, conversationID, userID uuid.UUID) (*store.ConversationDetail, error) {
	defer observe("add_participant", time.Now())
	return s.inner.AddParticipant(ctx, requester, conversationID, userID)
}

func (s *instrumentedStore) RemoveParticipant(ctx context.Context, requester access.Requester, conversationID, userID uuid.UUID) (*store.ConversationDetail, error) {
	defer observe("remove_participant", time.Now())
	return s.inner.RemoveParticipant(ctx, requester, conversationID, userID)
}

func (s *instrumentedStore) ListMessages(ctx context.Context, requester access.Requester, query store.MessageQuery) (*store.MessagePage, error) {
	defer observe("list_messages", time.Now())
	return s.inner.ListMessages(ctx, requester, query)
}

func (s *instrumentedStore) SendMessage(ctx context.Context, requester access.Requester, conversationID uuid.UUID, body string) (*model.Message, error) {
	defer observe("send_message", time.Now())
	msg, err := s.inner.SendMessage(ctx, requester, conversationID, body)
	if err == nil && security.MessagesSentTotal != nil {
		security.MessagesSentTotal.Inc()
	}
	return msg, err
}

func (s *instrumentedStore) GetMessage(ctx context.Context, requester access.Requester, messageID uuid.UUID) (*model.Message, error) {
	defer observe("get_message", time.Now())
	return s.inner.GetMessage(ctx, requester, messageID)
}

func (s *instrumentedStore) UpdateMessage(ctx context.Context, requester access.Requester, messageID uuid.UUID, body string) (*model.Message, error) {
	defer observe("update_message", time.Now())
	return s.inner.UpdateMessage(ctx, requester, messageID, body)
}

func (s *instrumentedStore) DeleteMessage(ctx context.Context, requester access.Requester, messageID uuid.UUID) error {
	defer observe("delete_message", time.Now())
	return s.inner.DeleteMessage(ctx, requester, messageID)
}

func (s *instrumentedStore) ListMessageHistory(ctx context.Context, requester access.Requester, messageID uuid.UUID) ([]model.MessageHistory, error) {
	defer observe("list_message_history", time.Now())
	return s.inner.ListMessageHistory(ctx, requester, messageID)
}

func (s *instrumentedStore) ListNotifications(ctx context.Context, requester access.Requester, unreadOnly bool, page, pageSize int) ([]model.Notification, int64, error) {
	defer observe("list_notifications", time.Now())
	return s.inner.ListNotifications(ctx, requester, unreadOnly, page, pageSize)
}

func (s *instrumentedStore) MarkNotificationRead(ctx context.Context, requester access.Requester, notificationID uuid.UUID) (*model.Notification, error) {
	defer observe("mark_notification_read", time.Now())
	return s.inner.MarkNotificationRead(ctx, requester, notificationID)
}

func (s *instrumentedStore) PurgeReadNotifications(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	defer observe("purge_read_notifications", time.Now())
	return s.inner.PurgeReadNotifications(ctx, cutoff, limit)
}
