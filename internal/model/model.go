package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is the stored role of a user.
type Role string

const (
	RoleGuest Role = "guest"
	RoleHost  Role = "host"
	RoleAdmin Role = "admin"
)

// Valid reports whether the role is one of the recognized values.
func (r Role) Valid() bool {
	switch r {
	case RoleGuest, RoleHost, RoleAdmin:
		return true
	}
	return false
}

// User is an identity record. Users are referenced by messages and
// conversation participant rows but never owned by them.
type User struct {
	ID          uuid.UUID `json:"user_id"                gorm:"primaryKey;type:uuid"`
	FirstName   string    `json:"first_name"             gorm:"not null"`
	LastName    string    `json:"last_name"              gorm:"not null"`
	Email       string    `json:"email"                  gorm:"not null;uniqueIndex"`
	PhoneNumber *string   `json:"phone_number,omitempty"`
	Role        Role      `json:"role"                   gorm:"not null;default:'guest'"`
	CreatedAt   time.Time `json:"created_at"             gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Conversation is the bare conversation row. Its participant set lives in
// conversation_participants; API representations are assembled by the store.
type Conversation struct {
	ID        uuid.UUID `json:"conversation_id" gorm:"primaryKey;type:uuid"`
	CreatedAt time.Time `json:"created_at"      gorm:"not null"`
}

func (Conversation) TableName() string { return "conversations" }

// ConversationParticipant is one row of a conversation's membership set.
// The composite primary key enforces set semantics (no duplicate membership).
type ConversationParticipant struct {
	ConversationID uuid.UUID `json:"conversation_id" gorm:"primaryKey;type:uuid"`
	UserID         uuid.UUID `json:"user_id"         gorm:"primaryKey;type:uuid"`
	CreatedAt      time.Time `json:"created_at"      gorm:"not null"`
}

func (ConversationParticipant) TableName() string { return "conversation_participants" }

// Message is a single message in a conversation. Sender and parent
// conversation are immutable after creation; only the body may change.
type Message struct {
	ID             uuid.UUID `json:"message_id"       gorm:"primaryKey;type:uuid"`
	SenderID       uuid.UUID `json:"-"                gorm:"not null;type:uuid;index"`
	Sender         *User     `json:"sender,omitempty" gorm:"foreignKey:SenderID"`
	ConversationID uuid.UUID `json:"conversation"     gorm:"not null;type:uuid;index"`
	Body           string    `json:"message_body"     gorm:"not null;column:message_body"`
	SentAt         time.Time `json:"sent_at"          gorm:"not null;index"`
	Edited         bool      `json:"edited"           gorm:"not null;default:false"`
}

func (Message) TableName() string { return "messages" }

// MessageHistory records the pre-edit body of a message. A row is written in
// the same transaction as every body update.
type MessageHistory struct {
	ID        uuid.UUID `json:"history_id"  gorm:"primaryKey;type:uuid"`
	MessageID uuid.UUID `json:"message_id"  gorm:"not null;type:uuid;index"`
	OldBody   string    `json:"old_content" gorm:"not null;column:old_content"`
	EditedAt  time.Time `json:"edited_at"   gorm:"not null"`
}

func (MessageHistory) TableName() string { return "message_history" }

// NotificationType distinguishes why a notification was created.
type NotificationType string

const (
	NotificationNewMessage    NotificationType = "new_message"
	NotificationMessageEdited NotificationType = "message_edited"
)

// Notification is a per-user fan-out row created when something happens in a
// conversation the user participates in.
type Notification struct {
	ID        uuid.UUID        `json:"notification_id"      gorm:"primaryKey;type:uuid"`
	UserID    uuid.UUID        `json:"user_id"              gorm:"not null;type:uuid;index"`
	MessageID *uuid.UUID       `json:"message_id,omitempty" gorm:"type:uuid"`
	Type      NotificationType `json:"notification_type"    gorm:"not null"`
	Content   string           `json:"content"              gorm:"not null"`
	Read      bool             `json:"read"                 gorm:"not null;default:false;index"`
	CreatedAt time.Time        `json:"created_at"           gorm:"not null"`
}

func (Notification) TableName() string { return "notifications" }
