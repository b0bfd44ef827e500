package gormstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chatstack/messaging-service/internal/access"
	"github.com/chatstack/messaging-service/internal/config"
	"github.com/chatstack/messaging-service/internal/model"
	"github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	cfg := config.DefaultConfig()
	s := New(db, &cfg, nil)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

var adminRequester = access.Requester{ID: uuid.New(), Admin: true}

func createTestUser(t *testing.T, s *Store, role model.Role) *model.User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), adminRequester, store.CreateUserRequest{
		FirstName: "Test",
		LastName:  "User",
		Email:     fmt.Sprintf("%s@example.com", uuid.NewString()),
		Role:      role,
	})
	require.NoError(t, err)
	return user
}

func requesterFor(u *model.User) access.Requester {
	return access.Requester{ID: u.ID, Admin: u.Role == model.RoleAdmin}
}

func TestAuthenticate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, model.RoleGuest)
	admin := createTestUser(t, s, model.RoleAdmin)

	t.Run("by id", func(t *testing.T) {
		r, err := s.Authenticate(ctx, user.ID.String())
		require.NoError(t, err)
		assert.Equal(t, user.ID, r.ID)
		assert.False(t, r.Admin)
	})

	t.Run("by email", func(t *testing.T) {
		r, err := s.Authenticate(ctx, admin.Email)
		require.NoError(t, err)
		assert.Equal(t, admin.ID, r.ID)
		assert.True(t, r.Admin)
	})

	t.Run("unknown subject", func(t *testing.T) {
		_, err := s.Authenticate(ctx, "nobody@example.com")
		var authErr *store.AuthenticationError
		require.ErrorAs(t, err, &authErr)
	})
}

func TestCreateUserValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("requires admin", func(t *testing.T) {
		guest := createTestUser(t, s, model.RoleGuest)
		_, err := s.CreateUser(ctx, requesterFor(guest), store.CreateUserRequest{
			FirstName: "A", LastName: "B", Email: "ab@example.com",
		})
		var forbidden *store.ForbiddenError
		require.ErrorAs(t, err, &forbidden)
	})

	t.Run("rejects bad email", func(t *testing.T) {
		_, err := s.CreateUser(ctx, adminRequester, store.CreateUserRequest{
			FirstName: "A", LastName: "B", Email: "not-an-email",
		})
		var validation *store.ValidationError
		require.ErrorAs(t, err, &validation)
		assert.Equal(t, "email", validation.Field)
	})

	t.Run("rejects duplicate email", func(t *testing.T) {
		req := store.CreateUserRequest{FirstName: "A", LastName: "B", Email: "dup@example.com"}
		_, err := s.CreateUser(ctx, adminRequester, req)
		require.NoError(t, err)
		_, err = s.CreateUser(ctx, adminRequester, req)
		require.Error(t, err)
	})

	t.Run("defaults to guest role", func(t *testing.T) {
		user, err := s.CreateUser(ctx, adminRequester, store.CreateUserRequest{
			FirstName: "A", LastName: "B", Email: "guest-default@example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, model.RoleGuest, user.Role)
	})
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, model.RoleGuest)
	bob := createTestUser(t, s, model.RoleGuest)
	carol := createTestUser(t, s, model.RoleGuest)

	conv, err := s.CreateConversation(ctx, requesterFor(alice), []uuid.UUID{bob.ID})
	require.NoError(t, err)
	// The creator is always in the participant set.
	assert.Len(t, conv.Participants, 2)

	t.Run("participant can view", func(t *testing.T) {
		got, err := s.GetConversation(ctx, requesterFor(bob), conv.ID)
		require.NoError(t, err)
		assert.Equal(t, conv.ID, got.ID)
		assert.Empty(t, got.Messages)
	})

	t.Run("outsider is forbidden", func(t *testing.T) {
		_, err := s.GetConversation(ctx, requesterFor(carol), conv.ID)
		var forbidden *store.ForbiddenError
		require.ErrorAs(t, err, &forbidden)
	})

	t.Run("unknown id is not found for everyone", func(t *testing.T) {
		_, err := s.GetConversation(ctx, requesterFor(carol), uuid.New())
		var notFound *store.NotFoundError
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("admin can view without membership", func(t *testing.T) {
		_, err := s.GetConversation(ctx, adminRequester, conv.ID)
		require.NoError(t, err)
	})

	t.Run("list scoped to membership", func(t *testing.T) {
		summaries, err := s.ListConversations(ctx, requesterFor(carol))
		require.NoError(t, err)
		assert.Empty(t, summaries)

		summaries, err = s.ListConversations(ctx, requesterFor(alice))
		require.NoError(t, err)
		assert.Len(t, summaries, 1)
	})

	t.Run("add participant is idempotent", func(t *testing.T) {
		got, err := s.AddParticipant(ctx, requesterFor(alice), conv.ID, carol.ID)
		require.NoError(t, err)
		assert.Len(t, got.Participants, 3)

		got, err = s.AddParticipant(ctx, requesterFor(alice), conv.ID, carol.ID)
		require.NoError(t, err)
		assert.Len(t, got.Participants, 3)
	})

	t.Run("remove participant tolerates non-members", func(t *testing.T) {
		got, err := s.RemoveParticipant(ctx, requesterFor(alice), conv.ID, carol.ID)
		require.NoError(t, err)
		assert.Len(t, got.Participants, 2)

		got, err = s.RemoveParticipant(ctx, requesterFor(alice), conv.ID, carol.ID)
		require.NoError(t, err)
		assert.Len(t, got.Participants, 2)
	})

	t.Run("replace participants", func(t *testing.T) {
		got, err := s.ReplaceParticipants(ctx, requesterFor(alice), conv.ID, []uuid.UUID{alice.ID, carol.ID})
		require.NoError(t, err)
		assert.Len(t, got.Participants, 2)

		_, err = s.ReplaceParticipants(ctx, requesterFor(alice), conv.ID, nil)
		var validation *store.ValidationError
		require.ErrorAs(t, err, &validation)
	})

	t.Run("cannot remove last participant", func(t *testing.T) {
		got, err := s.ReplaceParticipants(ctx, requesterFor(alice), conv.ID, []uuid.UUID{alice.ID})
		require.NoError(t, err)
		require.Len(t, got.Participants, 1)

		_, err = s.RemoveParticipant(ctx, requesterFor(alice), conv.ID, alice.ID)
		var validation *store.ValidationError
		require.ErrorAs(t, err, &validation)
	})
}

func TestDeleteConversationCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, model.RoleGuest)
	bob := createTestUser(t, s, model.RoleGuest)

	conv, err := s.CreateConversation(ctx, requesterFor(alice), []uuid.UUID{bob.ID})
	require.NoError(t, err)
	msg, err := s.SendMessage(ctx, requesterFor(alice), conv.ID, "hello")
	require.NoError(t, err)
	_, err = s.UpdateMessage(ctx, requesterFor(alice), msg.ID, "hello again")
	require.NoError(t, err)

	require.NoError(t, s.DeleteConversation(ctx, requesterFor(alice), conv.ID))

	for _, table := range []string{"messages", "conversation_participants", "message_history", "notifications"} {
		var n int64
		require.NoError(t, s.DB().Table(table).Count(&n).Error)
		assert.Zero(t, n, "table %s should be empty", table)
	}

	_, err = s.GetConversation(ctx, requesterFor(alice), conv.ID)
	var notFound *store.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestSendMessageAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, model.RoleGuest)
	bob := createTestUser(t, s, model.RoleGuest)
	outsider := createTestUser(t, s, model.RoleGuest)

	conv, err := s.CreateConversation(ctx, requesterFor(alice), []uuid.UUID{bob.ID})
	require.NoError(t, err)

	t.Run("participant can send", func(t *testing.T) {
		msg, err := s.SendMessage(ctx, requesterFor(bob), conv.ID, "hi")
		require.NoError(t, err)
		assert.Equal(t, bob.ID, msg.Sender.ID)
		assert.False(t, msg.Edited)
	})

	t.Run("outsider forbidden", func(t *testing.T) {
		_, err := s.SendMessage(ctx, requesterFor(outsider), conv.ID, "hi")
		var forbidden *store.ForbiddenError
		require.ErrorAs(t, err, &forbidden)
	})

	t.Run("admin without membership forbidden", func(t *testing.T) {
		_, err := s.SendMessage(ctx, adminRequester, conv.ID, "hi")
		var forbidden *store.ForbiddenError
		require.ErrorAs(t, err, &forbidden)
	})

	t.Run("empty body rejected", func(t *testing.T) {
		_, err := s.SendMessage(ctx, requesterFor(alice), conv.ID, "   ")
		var validation *store.ValidationError
		require.ErrorAs(t, err, &validation)
	})

	t.Run("unknown conversation not found", func(t *testing.T) {
		_, err := s.SendMessage(ctx, requesterFor(alice), uuid.New(), "hi")
		var notFound *store.NotFoundError
		require.ErrorAs(t, err, &notFound)
	})
}

func TestMessageEditAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, model.RoleGuest)
	bob := createTestUser(t, s, model.RoleGuest)

	conv, err := s.CreateConversation(ctx, requesterFor(alice), []uuid.UUID{bob.ID})
	require.NoError(t, err)
	msg, err := s.SendMessage(ctx, requesterFor(alice), conv.ID, "first")
	require.NoError(t, err)

	t.Run("only sender or admin may edit", func(t *testing.T) {
		_, err := s.UpdateMessage(ctx, requesterFor(bob), msg.ID, "nope")
		var forbidden *store.ForbiddenError
		require.ErrorAs(t, err, &forbidden)
	})

	t.Run("edit records history and flag", func(t *testing.T) {
		updated, err := s.UpdateMessage(ctx, requesterFor(alice), msg.ID, "second")
		require.NoError(t, err)
		assert.True(t, updated.Edited)
		assert.Equal(t, "second", updated.Body)

		history, err := s.ListMessageHistory(ctx, requesterFor(bob), msg.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "first", history[0].OldBody)
	})

	t.Run("admin may edit", func(t *testing.T) {
		updated, err := s.UpdateMessage(ctx, adminRequester, msg.ID, "third")
		require.NoError(t, err)
		assert.Equal(t, "third", updated.Body)

		history, err := s.ListMessageHistory(ctx, requesterFor(alice), msg.ID)
		require.NoError(t, err)
		assert.Len(t, history, 2)
		assert.Equal(t, "second", history[0].OldBody) // newest first
	})

	t.Run("delete removes message and history", func(t *testing.T) {
		require.NoError(t, s.DeleteMessage(ctx, requesterFor(alice), msg.ID))
		_, err := s.GetMessage(ctx, requesterFor(alice), msg.ID)
		var notFound *store.NotFoundError
		require.ErrorAs(t, err, &notFound)
	})
}

func TestNotificationsFanOut(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, model.RoleGuest)
	bob := createTestUser(t, s, model.RoleGuest)
	carol := createTestUser(t, s, model.RoleGuest)

	conv, err := s.CreateConversation(ctx, requesterFor(alice), []uuid.UUID{bob.ID, carol.ID})
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, requesterFor(alice), conv.ID, "hello all")
	require.NoError(t, err)

	t.Run("recipients notified, sender not", func(t *testing.T) {
		got, total, err := s.ListNotifications(ctx, requesterFor(bob), false, 1, 10)
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		require.Len(t, got, 1)
		assert.Equal(t, model.NotificationNewMessage, got[0].Type)

		_, total, err = s.ListNotifications(ctx, requesterFor(alice), false, 1, 10)
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("mark read", func(t *testing.T) {
		got, _, err := s.ListNotifications(ctx, requesterFor(bob), true, 1, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)

		n, err := s.MarkNotificationRead(ctx, requesterFor(bob), got[0].ID)
		require.NoError(t, err)
		assert.True(t, n.Read)

		_, total, err := s.ListNotifications(ctx, requesterFor(bob), true, 1, 10)
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("cannot read someone else's notification", func(t *testing.T) {
		got, _, err := s.ListNotifications(ctx, requesterFor(carol), false, 1, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)

		_, err = s.MarkNotificationRead(ctx, requesterFor(bob), got[0].ID)
		var forbidden *store.ForbiddenError
		require.ErrorAs(t, err, &forbidden)
	})
}

func TestPurgeReadNotifications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, model.RoleGuest)

	old := time.Now().UTC().Add(-48 * time.Hour)
	rows := []model.Notification{
		{ID: uuid.New(), UserID: user.ID, Type: model.NotificationNewMessage, Content: "old read", Read: true, CreatedAt: old},
		{ID: uuid.New(), UserID: user.ID, Type: model.NotificationNewMessage, Content: "old unread", Read: false, CreatedAt: old},
		{ID: uuid.New(), UserID: user.ID, Type: model.NotificationNewMessage, Content: "fresh read", Read: true, CreatedAt: time.Now().UTC()},
	}
	require.NoError(t, s.DB().Create(&rows).Error)

	purged, err := s.PurgeReadNotifications(ctx, time.Now().UTC().Add(-24*time.Hour), 100)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	// Unread and fresh notifications survive.
	_, total, err := s.ListNotifications(ctx, requesterFor(user), false, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}
