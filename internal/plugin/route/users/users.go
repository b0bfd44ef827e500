// Package users mounts the read-only user directory routes.
package users

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/chatstack/messaging-service/internal/model"
	registrystore "github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/chatstack/messaging-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts user routes on the gin engine.
func MountRoutes(r *gin.Engine, store registrystore.MessagingStore, middlewares ...gin.HandlerFunc) {
	g := r.Group("/users", middlewares...)

	g.GET("", func(c *gin.Context) {
		listUsers(c, store)
	})
	g.GET("/me", func(c *gin.Context) {
		getSelf(c, store)
	})
	g.GET("/:userId", func(c *gin.Context) {
		getUser(c, store)
	})
}

func listUsers(c *gin.Context, store registrystore.MessagingStore) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 0)

	users, total, err := store.ListUsers(c.Request.Context(), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	c.JSON(http.StatusOK, gin.H{"count": total, "results": users})
}

func getSelf(c *gin.Context, store registrystore.MessagingStore) {
	requester := security.GetRequester(c)
	user, err := store.GetUser(c.Request.Context(), requester.ID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func getUser(c *gin.Context, store registrystore.MessagingStore) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "user not found"})
		return
	}

	user, err := store.GetUser(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
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
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	default:
		log.Error("User API error", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
