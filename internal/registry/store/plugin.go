package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chatstack/messaging-service/internal/access"
	"github.com/chatstack/messaging-service/internal/model"
	"github.com/google/uuid"
)

// ConversationSummary is the list representation of a conversation.
type ConversationSummary struct {
	ID           uuid.UUID    `json:"conversation_id"`
	Participants []model.User `json:"participants"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ConversationDetail is the full conversation for get/create/update,
// including its messages in send order.
type ConversationDetail struct {
	ConversationSummary
	Messages []model.Message `json:"messages"`
}

// CreateUserRequest is the input for administrative user creation.
type CreateUserRequest struct {
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber *string
	Role        model.Role
}

// MessageQuery holds the recognized message listing filters plus the page
// token. Nil pointer fields mean "not filtered".
type MessageQuery struct {
	ConversationID *uuid.UUID
	SenderID       *uuid.UUID

	// SentAfter is an inclusive lower bound, SentBefore an exclusive upper
	// bound on the message timestamp.
	SentAfter  *time.Time
	SentBefore *time.Time

	// LastNDays is shorthand for SentAfter = now - n days.
	LastNDays *int

	// Search is a case-insensitive substring match against the message body.
	Search string

	Page     int
	PageSize int
}

// Normalize applies page defaults and the page size cap.
func (q *MessageQuery) Normalize(defaultPageSize, maxPageSize int) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
}

// MessagePage is one page of a filtered message listing.
// Count is the total number of matches before pagination. Next and Previous
// are adjacent page numbers, nil at either end of the range.
type MessagePage struct {
	Count       int64           `json:"count"`
	Results     []model.Message `json:"results"`
	Next        *int            `json:"next"`
	Previous    *int            `json:"previous"`
	TotalPages  int             `json:"total_pages"`
	CurrentPage int             `json:"current_page"`
}

// NewMessagePage assembles page metadata for a result slice. A page beyond
// the range yields empty results with correct count and total_pages; that is
// deliberate policy, not an error.
func NewMessagePage(results []model.Message, count int64, page, pageSize int) *MessagePage {
	totalPages := int((count + int64(pageSize) - 1) / int64(pageSize))
	if totalPages < 1 {
		totalPages = 1
	}
	p := &MessagePage{
		Count:       count,
		Results:     results,
		TotalPages:  totalPages,
		CurrentPage: page,
	}
	if p.Results == nil {
		p.Results = []model.Message{}
	}
	if page > 1 {
		prev := page - 1
		if prev > totalPages {
			prev = totalPages
		}
		p.Previous = &prev
	}
	if page < totalPages {
		next := page + 1
		p.Next = &next
	}
	return p
}

// MessagingStore is the primary data access interface. Implementations
// enforce the access rules from internal/access: operations load the target
// first (unknown id yields NotFoundError) and return ForbiddenError when the
// requester lacks permission for an entity that exists.
type MessagingStore interface {
	// Identity
	Authenticate(ctx context.Context, subject string) (access.Requester, error)
	CreateUser(ctx context.Context, requester access.Requester, req CreateUserRequest) (*model.User, error)
	ListUsers(ctx context.Context, page, pageSize int) ([]model.User, int64, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error)

	// Conversations
	CreateConversation(ctx context.Context, requester access.Requester, participantIDs []uuid.UUID) (*ConversationDetail, error)
	ListConversations(ctx context.Context, requester access.Requester) ([]ConversationSummary, error)
	GetConversation(ctx context.Context, requester access.Requester, conversationID uuid.UUID) (*ConversationDetail, error)
	ReplaceParticipants(ctx context.Context, requester access.Requester, conversationID uuid.UUID, participantIDs []uuid.UUID) (*ConversationDetail, error)
	DeleteConversation(ctx context.Context, requester access.Requester, conversationID uuid.UUID) error
	AddParticipant(ctx context.Context, requester access.Requester, conversationID, userID uuid.UUID) (*ConversationDetail, error)
	RemoveParticipant(ctx context.Context, requester access.Requester, conversationID, userID uuid.UUID) (*ConversationDetail, error)

	// Messages
	ListMessages(ctx context.Context, requester access.Requester, query MessageQuery) (*MessagePage, error)
	SendMessage(ctx context.Context, requester access.Requester, conversationID uuid.UUID, body string) (*model.Message, error)
	GetMessage(ctx context.Context, requester access.Requester, messageID uuid.UUID) (*model.Message, error)
	UpdateMessage(ctx context.Context, requester access.Requester, messageID uuid.UUID, body string) (*model.Message, error)
	DeleteMessage(ctx context.Context, requester access.Requester, messageID uuid.UUID) error
	ListMessageHistory(ctx context.Context, requester access.Requester, messageID uuid.UUID) ([]model.MessageHistory, error)

	// Notifications
	ListNotifications(ctx context.Context, requester access.Requester, unreadOnly bool, page, pageSize int) ([]model.Notification, int64, error)
	MarkNotificationRead(ctx context.Context, requester access.Requester, notificationID uuid.UUID) (*model.Notification, error)
	PurgeReadNotifications(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// Loader creates a MessagingStore from config carried in the context.
type Loader func(ctx context.Context) (MessagingStore, error)

// Plugin represents a store backend plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
