package gormstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chatstack/messaging-service/internal/model"
	"github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedMessages inserts n messages one minute apart, oldest first, and returns
// the timestamp of the first one.
func seedMessages(t *testing.T, s *Store, conversationID, senderID uuid.UUID, n int) time.Time {
	t.Helper()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := make([]model.Message, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, model.Message{
			ID:             uuid.New(),
			SenderID:       senderID,
			ConversationID: conversationID,
			Body:           fmt.Sprintf("message %02d", i),
			SentAt:         base.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, s.DB().Create(&rows).Error)
	return base
}

func TestListMessagesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, model.RoleGuest)
	bob := createTestUser(t, s, model.RoleGuest)
	conv, err := s.CreateConversation(ctx, requesterFor(alice), []uuid.UUID{bob.ID})
	require.NoError(t, err)
	seedMessages(t, s, conv.ID, alice.ID, 25)

	t.Run("default page size", func(t *testing.T) {
		page, err := s.ListMessages(ctx, requesterFor(bob), store.MessageQuery{ConversationID: &conv.ID})
		require.NoError(t, err)
		assert.EqualValues(t, 25, page.Count)
		assert.Len(t, page.Results, 20)
		assert.Equal(t, 2, page.TotalPages)
		assert.Equal(t, 1, page.CurrentPage)
		assert.Nil(t, page.Previous)
		require.NotNil(t, page.Next)
		assert.Equal(t, 2, *page.Next)
		// Oldest first, stable ordering.
		assert.Equal(t, "message 00", page.Results[0].Body)
	})

	t.Run("second page", func(t *testing.T) {
		page, err := s.ListMessages(ctx, requesterFor(bob), store.MessageQuery{ConversationID: &conv.ID, Page: 2})
		require.NoError(t, err)
		assert.Len(t, page.Results, 5)
		assert.Nil(t, page.Next)
		require.NotNil(t, page.Previous)
		assert.Equal(t, 1, *page.Previous)
		assert.Equal(t, "message 24", page.Results[4].Body)
	})

	t.Run("page size capped at max", func(t *testing.T) {
		page, err := s.ListMessages(ctx, requesterFor(bob), store.MessageQuery{ConversationID: &conv.ID, PageSize: 500})
		require.NoError(t, err)
		assert.Len(t, page.Results, 25) // cap is 100, all fit on one page
		assert.Equal(t, 1, page.TotalPages)
	})

	t.Run("out of range page is empty with correct metadata", func(t *testing.T) {
		page, err := s.ListMessages(ctx, requesterFor(bob), store.MessageQuery{ConversationID: &conv.ID, Page: 9})
		require.NoError(t, err)
		assert.Empty(t, page.Results)
		assert.EqualValues(t, 25, page.Count)
		assert.Equal(t, 2, page.TotalPages)
		assert.Equal(t, 9, page.CurrentPage)
		assert.Nil(t, page.Next)
		require.NotNil(t, page.Previous)
		assert.Equal(t, 2, *page.Previous)
	})
}

func TestListMessagesFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, model.RoleGuest)
	bob := createTestUser(t, s, model.RoleGuest)
	conv, err := s.CreateConversation(ctx, requesterFor(alice), []uuid.UUID{bob.ID})
	require.NoError(t, err)
	base := seedMessages(t, s, conv.ID, alice.ID, 10)

	bobMsg, err := s.SendMessage(ctx, requesterFor(bob), conv.ID, "Hello WORLD from bob")
	require.NoError(t, err)

	t.Run("sender filter", func(t *testing.T) {
		page, err := s.ListMessages(ctx, requesterFor(alice), store.MessageQuery{
			ConversationID: &conv.ID,
			SenderID:       &bob.ID,
		})
		require.NoError(t, err)
		require.Len(t, page.Results, 1)
		assert.Equal(t, bobMsg.ID, page.Results[0].ID)
	})

	t.Run("sent_after inclusive, sent_before exclusive", func(t *testing.T) {
		after := base.Add(3 * time.Minute)
		before := base.Add(7 * time.Minute)
		page, err := s.ListMessages(ctx, requesterFor(alice), store.MessageQuery{
			ConversationID: &conv.ID,
			SentAfter:      &after,
			SentBefore:     &before,
		})
		require.NoError(t, err)
		// Messages 03, 04, 05, 06: lower bound included, upper excluded.
		require.Len(t, page.Results, 4)
		assert.Equal(t, "message 03", page.Results[0].Body)
		assert.Equal(t, "message 06", page.Results[3].Body)
	})

	t.Run("search is case insensitive", func(t *testing.T) {
		page, err := s.ListMessages(ctx, requesterFor(alice), store.MessageQuery{
			ConversationID: &conv.ID,
			Search:         "hello world",
		})
		require.NoError(t, err)
		require.Len(t, page.Results, 1)
		assert.Equal(t, bobMsg.ID, page.Results[0].ID)
	})

	t.Run("search escapes like metacharacters", func(t *testing.T) {
		_, err := s.SendMessage(ctx, requesterFor(bob), conv.ID, "50% off")
		require.NoError(t, err)

		page, err := s.ListMessages(ctx, requesterFor(alice), store.MessageQuery{
			ConversationID: &conv.ID,
			Search:         "50%",
		})
		require.NoError(t, err)
		require.Len(t, page.Results, 1)

		page, err = s.ListMessages(ctx, requesterFor(alice), store.MessageQuery{
			ConversationID: &conv.ID,
			Search:         "0% of",
		})
		require.NoError(t, err)
		assert.Len(t, page.Results, 1)
	})

	t.Run("last_n_days", func(t *testing.T) {
		n := 1
		page, err := s.ListMessages(ctx, requesterFor(alice), store.MessageQuery{
			ConversationID: &conv.ID,
			LastNDays:      &n,
		})
		require.NoError(t, err)
		// Only the two freshly sent messages fall inside the window.
		assert.EqualValues(t, 2, page.Count)
	})
}

func TestListMessagesScoping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, model.RoleGuest)
	bob := createTestUser(t, s, model.RoleGuest)
	outsider := createTestUser(t, s, model.RoleGuest)

	conv, err := s.CreateConversation(ctx, requesterFor(alice), []uuid.UUID{bob.ID})
	require.NoError(t, err)
	other, err := s.CreateConversation(ctx, requesterFor(outsider), nil)
	require.NoError(t, err)
	seedMessages(t, s, conv.ID, alice.ID, 3)
	seedMessages(t, s, other.ID, outsider.ID, 2)

	t.Run("flat listing scoped to membership", func(t *testing.T) {
		page, err := s.ListMessages(ctx, requesterFor(outsider), store.MessageQuery{})
		require.NoError(t, err)
		assert.EqualValues(t, 2, page.Count)
	})

	t.Run("admin sees everything", func(t *testing.T) {
		page, err := s.ListMessages(ctx, adminRequester, store.MessageQuery{})
		require.NoError(t, err)
		assert.EqualValues(t, 5, page.Count)
	})

	t.Run("scoped listing of off-limits conversation is forbidden", func(t *testing.T) {
		_, err := s.ListMessages(ctx, requesterFor(outsider), store.MessageQuery{ConversationID: &conv.ID})
		var forbidden *store.ForbiddenError
		require.ErrorAs(t, err, &forbidden)
	})

	t.Run("scoped listing of unknown conversation is not found", func(t *testing.T) {
		unknown := uuid.New()
		_, err := s.ListMessages(ctx, requesterFor(alice), store.MessageQuery{ConversationID: &unknown})
		var notFound *store.NotFoundError
		require.ErrorAs(t, err, &notFound)
	})
}
