// Package conversations mounts the conversation CRUD and membership routes.
package conversations

import (
	"context"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chatstack/messaging-service/internal/access"
	registrystore "github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/chatstack/messaging-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MountRoutes mounts conversation routes on the gin engine.
// Called after store initialization so the store is available.
func MountRoutes(r *gin.Engine, store registrystore.MessagingStore, middlewares ...gin.HandlerFunc) {
	g := r.Group("/conversations", middlewares...)

	g.GET("", func(c *gin.Context) {
		listConversations(c, store)
	})
	g.POST("", func(c *gin.Context) {
		createConversation(c, store)
	})
	g.GET("/:conversationId", func(c *gin.Context) {
		getConversation(c, store)
	})
	g.PUT("/:conversationId", func(c *gin.Context) {
		updateConversation(c, store)
	})
	g.DELETE("/:conversationId", func(c *gin.Context) {
		deleteConversation(c, store)
	})
	g.POST("/:conversationId/add_participant", func(c *gin.Context) {
		changeParticipant(c, store, store.AddParticipant)
	})
	g.POST("/:conversationId/remove_participant", func(c *gin.Context) {
		changeParticipant(c, store, store.RemoveParticipant)
	})
}

// participantsRequest is the body for create and full update. IDs arrive as
// strings so a malformed uuid is a validation error, not a bind error.
type participantsRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
}

func (req *participantsRequest) parse() ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(req.ParticipantIDs))
	for _, raw := range req.ParticipantIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, &registrystore.ValidationError{Field: "participant_ids", Message: "invalid uuid " + raw}
		}
		ids = append(ids, id)
	}
	return lo.Uniq(ids), nil
}

func listConversations(c *gin.Context, store registrystore.MessagingStore) {
	requester := security.GetRequester(c)
	summaries, err := store.ListConversations(c.Request.Context(), requester)
	if err != nil {
		handleError(c, err)
		return
	}
	if summaries == nil {
		summaries = []registrystore.ConversationSummary{}
	}
	c.JSON(http.StatusOK, summaries)
}

func createConversation(c *gin.Context, store registrystore.MessagingStore) {
	requester := security.GetRequester(c)
	var req participantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ids, err := req.parse()
	if err != nil {
		handleError(c, err)
		return
	}

	conv, err := store.CreateConversation(c.Request.Context(), requester, ids)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func getConversation(c *gin.Context, store registrystore.MessagingStore) {
	requester := security.GetRequester(c)
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}

	conv, err := store.GetConversation(c.Request.Context(), requester, convID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func updateConversation(c *gin.Context, store registrystore.MessagingStore) {
	requester := security.GetRequester(c)
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}

	var req participantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ids, err := req.parse()
	if err != nil {
		handleError(c, err)
		return
	}

	conv, err := store.ReplaceParticipants(c.Request.Context(), requester, convID, ids)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func deleteConversation(c *gin.Context, store registrystore.MessagingStore) {
	requester := security.GetRequester(c)
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}

	if err := store.DeleteConversation(c.Request.Context(), requester, convID); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func changeParticipant(
	c *gin.Context,
	store registrystore.MessagingStore,
	op func(ctx context.Context, requester access.Requester, conversationID, userID uuid.UUID) (*registrystore.ConversationDetail, error),
) {
	requester := security.GetRequester(c)
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		handleError(c, &registrystore.ValidationError{Field: "user_id", Message: "invalid uuid"})
		return
	}

	conv, err := op(c.Request.Context(), requester, convID, userID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		log.Error("Conversation API error", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
