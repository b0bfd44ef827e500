// Package admin mounts the administrative user management routes. All routes
// require the admin role and are audit logged.
package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/chatstack/messaging-service/internal/model"
	registrystore "github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/chatstack/messaging-service/internal/security"
	"github.com/gin-gonic/gin"
)

// MountRoutes mounts admin routes on the gin engine.
func MountRoutes(r *gin.Engine, store registrystore.MessagingStore, middlewares ...gin.HandlerFunc) {
	middlewares = append(middlewares, security.RequireAdmin(), security.AdminAuditMiddleware())
	g := r.Group("/admin", middlewares...)

	g.POST("/users", func(c *gin.Context) {
		createUser(c, store)
	})
	g.GET("/users", func(c *gin.Context) {
		listUsers(c, store)
	})
}

func createUser(c *gin.Context, store registrystore.MessagingStore) {
	requester := security.GetRequester(c)
	var req struct {
		FirstName   string  `json:"first_name"`
		LastName    string  `json:"last_name"`
		Email       string  `json:"email"`
		PhoneNumber *string `json:"phone_number"`
		Role        string  `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := store.CreateUser(c.Request.Context(), requester, registrystore.CreateUserRequest{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Role:        model.Role(req.Role),
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func listUsers(c *gin.Context, store registrystore.MessagingStore) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 0)

	users, total, err := store.ListUsers(c.Request.Context(), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": total, "results": users})
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
	var conflict *registrystore.ConflictError
	var validation *registrystore.ValidationError
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error("Admin API error", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
