// Package notifications mounts the per-user notification routes.
package notifications

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	registrystore "github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/chatstack/messaging-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts notification routes on the gin engine.
func MountRoutes(r *gin.Engine, store registrystore.MessagingStore, middlewares ...gin.HandlerFunc) {
	g := r.Group("/notifications", middlewares...)

	g.GET("", func(c *gin.Context) {
		listNotifications(c, store)
	})
	g.POST("/:notificationId/read", func(c *gin.Context) {
		markRead(c, store)
	})
}

func listNotifications(c *gin.Context, store registrystore.MessagingStore) {
	requester := security.GetRequester(c)
	unreadOnly := c.Query("unread") == "true"
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 0)

	notifications, total, err := store.ListNotifications(c.Request.Context(), requester, unreadOnly, page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": total, "results": notifications})
}

func markRead(c *gin.Context, store registrystore.MessagingStore) {
	requester := security.GetRequester(c)
	id, err := uuid.Parse(c.Param("notificationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "notification not found"})
		return
	}

	n, err := store.MarkNotificationRead(c.Request.Context(), requester, id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
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
	var forbidden *registrystore.ForbiddenError
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		log.Error("Notification API error", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
