package conversations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chatstack/messaging-service/internal/access"
	"github.com/chatstack/messaging-service/internal/config"
	"github.com/chatstack/messaging-service/internal/model"
	"github.com/chatstack/messaging-service/internal/plugin/store/gormstore"
	registrystore "github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/chatstack/messaging-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	router *gin.Engine
	store  *gormstore.Store
	alice  *model.User
	bob    *model.User
	carol  *model.User
}

// authAs stubs the auth chain: the X-Test-User header carries the requester's
// user id, X-Test-Admin grants the admin role.
func authAs(store registrystore.MessagingStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.GetHeader("X-Test-User"))
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(security.ContextKeyRequester, access.Requester{
			ID:    id,
			Admin: c.GetHeader("X-Test-Admin") == "true",
		})
		c.Next()
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	cfg := config.DefaultConfig()
	store := gormstore.New(db, &cfg, nil)
	require.NoError(t, store.Migrate(context.Background()))

	router := gin.New()
	MountRoutes(router, store, authAs(store))

	f := &fixture{router: router, store: store}
	f.alice = f.createUser(t, "alice")
	f.bob = f.createUser(t, "bob")
	f.carol = f.createUser(t, "carol")
	return f
}

func (f *fixture) createUser(t *testing.T, name string) *model.User {
	t.Helper()
	admin := access.Requester{ID: uuid.New(), Admin: true}
	user, err := f.store.CreateUser(context.Background(), admin, registrystore.CreateUserRequest{
		FirstName: name,
		LastName:  "Tester",
		Email:     fmt.Sprintf("%s@example.com", name),
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) doJSON(t *testing.T, method, path string, as *model.User, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", as.ID.String())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) createConversation(t *testing.T, as *model.User, participants ...*model.User) registrystore.ConversationDetail {
	t.Helper()
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ID.String())
	}
	w := f.doJSON(t, http.MethodPost, "/conversations", as, gin.H{"participant_ids": ids})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var conv registrystore.ConversationDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	return conv
}

func TestCreateConversation(t *testing.T) {
	f := newFixture(t)

	conv := f.createConversation(t, f.alice, f.bob)
	assert.Len(t, conv.Participants, 2)

	t.Run("malformed participant id", func(t *testing.T) {
		w := f.doJSON(t, http.MethodPost, "/conversations", f.alice, gin.H{"participant_ids": []string{"nope"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown participant id", func(t *testing.T) {
		w := f.doJSON(t, http.MethodPost, "/conversations", f.alice, gin.H{"participant_ids": []string{uuid.NewString()}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetConversation(t *testing.T) {
	f := newFixture(t)
	conv := f.createConversation(t, f.alice, f.bob)

	t.Run("participant", func(t *testing.T) {
		w := f.doJSON(t, http.MethodGet, "/conversations/"+conv.ID.String(), f.bob, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("outsider forbidden", func(t *testing.T) {
		w := f.doJSON(t, http.MethodGet, "/conversations/"+conv.ID.String(), f.carol, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		w := f.doJSON(t, http.MethodGet, "/conversations/"+uuid.NewString(), f.alice, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		w := f.doJSON(t, http.MethodGet, "/conversations/not-a-uuid", f.alice, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUpdateAndDeleteConversation(t *testing.T) {
	f := newFixture(t)
	conv := f.createConversation(t, f.alice, f.bob)

	t.Run("replace participants", func(t *testing.T) {
		w := f.doJSON(t, http.MethodPut, "/conversations/"+conv.ID.String(), f.alice, gin.H{
			"participant_ids": []string{f.alice.ID.String(), f.carol.ID.String()},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var got registrystore.ConversationDetail
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Len(t, got.Participants, 2)
	})

	t.Run("replace with empty set rejected", func(t *testing.T) {
		w := f.doJSON(t, http.MethodPut, "/conversations/"+conv.ID.String(), f.alice, gin.H{
			"participant_ids": []string{},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("delete", func(t *testing.T) {
		w := f.doJSON(t, http.MethodDelete, "/conversations/"+conv.ID.String(), f.alice, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = f.doJSON(t, http.MethodGet, "/conversations/"+conv.ID.String(), f.alice, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestMembershipActions(t *testing.T) {
	f := newFixture(t)
	conv := f.createConversation(t, f.alice, f.bob)
	base := "/conversations/" + conv.ID.String()

	t.Run("add participant", func(t *testing.T) {
		w := f.doJSON(t, http.MethodPost, base+"/add_participant", f.alice, gin.H{"user_id": f.carol.ID.String()})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var got registrystore.ConversationDetail
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Len(t, got.Participants, 3)
	})

	t.Run("outsider cannot manage members", func(t *testing.T) {
		outsider := f.createUser(t, "dave")
		w := f.doJSON(t, http.MethodPost, base+"/add_participant", outsider, gin.H{"user_id": outsider.ID.String()})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("remove participant", func(t *testing.T) {
		w := f.doJSON(t, http.MethodPost, base+"/remove_participant", f.alice, gin.H{"user_id": f.carol.ID.String()})
		require.Equal(t, http.StatusOK, w.Code)
		var got registrystore.ConversationDetail
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Len(t, got.Participants, 2)
	})

	t.Run("invalid user id", func(t *testing.T) {
		w := f.doJSON(t, http.MethodPost, base+"/add_participant", f.alice, gin.H{"user_id": "nope"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown user id", func(t *testing.T) {
		w := f.doJSON(t, http.MethodPost, base+"/add_participant", f.alice, gin.H{"user_id": uuid.NewString()})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestListConversationsScoped(t *testing.T) {
	f := newFixture(t)
	f.createConversation(t, f.alice, f.bob)
	f.createConversation(t, f.alice)

	w := f.doJSON(t, http.MethodGet, "/conversations", f.alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got []registrystore.ConversationSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 2)

	w = f.doJSON(t, http.MethodGet, "/conversations", f.carol, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Empty(t, got)
}
