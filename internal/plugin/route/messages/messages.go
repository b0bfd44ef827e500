// Package messages mounts the message routes: the filtered flat listing,
// per-conversation listing and sending, message CRUD, and edit history.
package messages

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	registrystore "github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/chatstack/messaging-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts message routes on the gin engine.
func MountRoutes(r *gin.Engine, store registrystore.MessagingStore, middlewares ...gin.HandlerFunc) {
	g := r.Group("/messages", middlewares...)

	g.GET("", func(c *gin.Context) {
		listMessages(c, store, nil)
	})
	g.POST("", func(c *gin.Context) {
		sendMessage(c, store, nil)
	})
	g.GET("/:messageId", func(c *gin.Context) {
		getMessage(c, store)
	})
	g.PUT("/:messageId", func(c *gin.Context) {
		updateMessage(c, store)
	})
	g.PATCH("/:messageId", func(c *gin.Context) {
		updateMessage(c, store)
	})
	g.DELETE("/:messageId", func(c *gin.Context) {
		deleteMessage(c, store)
	})
	g.GET("/:messageId/history", func(c *gin.Context) {
		listHistory(c, store)
	})

	// Nested under the parent conversation.
	nested := r.Group("/conversations/:conversationId/messages", middlewares...)
	nested.GET("", func(c *gin.Context) {
		withConversationParam(c, func(convID uuid.UUID) {
			listMessages(c, store, &convID)
		})
	})
	nested.POST("", func(c *gin.Context) {
		withConversationParam(c, func(convID uuid.UUID) {
			sendMessage(c, store, &convID)
		})
	})
}

func withConversationParam(c *gin.Context, fn func(convID uuid.UUID)) {
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}
	fn(convID)
}

// listMessages serves both the flat listing (conversationID nil, taken from
// the conversation_id query param if present) and the nested listing.
func listMessages(c *gin.Context, store registrystore.MessagingStore, conversationID *uuid.UUID) {
	requester := security.GetRequester(c)

	query := registrystore.MessageQuery{
		ConversationID: conversationID,
		Search:         firstQuery(c, "search", "message_body"),
		Page:           queryInt(c, "page", 1),
		PageSize:       queryInt(c, "page_size", 0),
	}

	if query.ConversationID == nil {
		id, ok := queryUUID(c, "conversation_id", "conversation")
		if ok == queryInvalid {
			handleError(c, &registrystore.ValidationError{Field: "conversation_id", Message: "invalid uuid"})
			return
		}
		if ok == queryPresent {
			query.ConversationID = &id
		}
	}
	if id, ok := queryUUID(c, "sender_id", "sender"); ok == queryPresent {
		query.SenderID = &id
	} else if ok == queryInvalid {
		handleError(c, &registrystore.ValidationError{Field: "sender_id", Message: "invalid uuid"})
		return
	}

	var err error
	if query.SentAfter, err = queryTime(c, "sent_after"); err != nil {
		handleError(c, &registrystore.ValidationError{Field: "sent_after", Message: "invalid timestamp"})
		return
	}
	if query.SentBefore, err = queryTime(c, "sent_before"); err != nil {
		handleError(c, &registrystore.ValidationError{Field: "sent_before", Message: "invalid timestamp"})
		return
	}
	if raw := c.Query("last_n_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			handleError(c, &registrystore.ValidationError{Field: "last_n_days", Message: "must be a non-negative integer"})
			return
		}
		query.LastNDays = &n
	}

	page, err := store.ListMessages(c.Request.Context(), requester, query)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func sendMessage(c *gin.Context, store registrystore.MessagingStore, conversationID *uuid.UUID) {
	requester := security.GetRequester(c)
	var req struct {
		Conversation string `json:"conversation"`
		Body         string `json:"message_body"`
		SenderID     string `json:"sender_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	convID := uuid.Nil
	if conversationID != nil {
		convID = *conversationID
	} else {
		id, err := uuid.Parse(req.Conversation)
		if err != nil {
			handleError(c, &registrystore.ValidationError{Field: "conversation", Message: "invalid uuid"})
			return
		}
		convID = id
	}

	// The sender is always the authenticated caller. A sender_id naming
	// someone else is rejected rather than silently rewritten.
	if req.SenderID != "" {
		senderID, err := uuid.Parse(req.SenderID)
		if err != nil || senderID != requester.ID {
			handleError(c, &registrystore.ValidationError{Field: "sender_id", Message: "must match the authenticated user"})
			return
		}
	}

	msg, err := store.SendMessage(c.Request.Context(), requester, convID, req.Body)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func getMessage(c *gin.Context, store registrystore.MessagingStore) {
	requester := security.GetRequester(c)
	msgID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "message not found"})
		return
	}

	msg, err := store.GetMessage(c.Request.Context(), requester, msgID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func updateMessage(c *gin.Context, store registrystore.MessagingStore) {
	requester := security.GetRequester(c)
	msgID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "message not found"})
		return
	}

	var req struct {
		Body string `json:"message_body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := store.UpdateMessage(c.Request.Context(), requester, msgID, req.Body)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func deleteMessage(c *gin.Context, store registrystore.MessagingStore) {
	requester := security.GetRequester(c)
	msgID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "message not found"})
		return
	}

	if err := store.DeleteMessage(c.Request.Context(), requester, msgID); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func listHistory(c *gin.Context, store registrystore.MessagingStore) {
	requester := security.GetRequester(c)
	msgID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "message not found"})
		return
	}

	history, err := store.ListMessageHistory(c.Request.Context(), requester, msgID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// --- query helpers ---

type queryState int

const (
	queryAbsent queryState = iota
	queryPresent
	queryInvalid
)

// queryUUID reads the first present key and parses it as a uuid.
func queryUUID(c *gin.Context, keys ...string) (uuid.UUID, queryState) {
	for _, key := range keys {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, queryInvalid
		}
		return id, queryPresent
	}
	return uuid.Nil, queryAbsent
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// queryTime parses a timestamp query param. Dates without a timezone are
// taken as UTC.
func queryTime(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return &t, nil
		}
	}
	return nil, errors.New("invalid timestamp " + raw)
}

func firstQuery(c *gin.Context, keys ...string) string {
	for _, key := range keys {
		if v := c.Query(key); v != "" {
			return v
		}
	}
	return ""
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
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
		log.Error("Message API error", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
