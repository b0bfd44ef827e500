// Package gormstore implements the messaging store on top of GORM. It is
// shared by the postgres and sqlite backends, which differ only in dialector
// and driver error translation.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/chatstack/messaging-service/internal/access"
	"github.com/chatstack/messaging-service/internal/config"
	"github.com/chatstack/messaging-service/internal/model"
	"github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrorTranslator maps driver-specific errors (unique constraint violations
// in particular) to the store error taxonomy. Returning the input unchanged
// is always safe.
type ErrorTranslator func(err error) error

// Store is the GORM-backed MessagingStore implementation.
type Store struct {
	db              *gorm.DB
	translate       ErrorTranslator
	defaultPageSize int
	maxPageSize     int
}

var _ store.MessagingStore = (*Store)(nil)

// New creates a Store over an open GORM handle. translate may be nil.
func New(db *gorm.DB, cfg *config.Config, translate ErrorTranslator) *Store {
	if translate == nil {
		translate = func(err error) error { return err }
	}
	defaultPageSize := 20
	maxPageSize := 100
	if cfg != nil {
		if cfg.DefaultPageSize > 0 {
			defaultPageSize = cfg.DefaultPageSize
		}
		if cfg.MaxPageSize > 0 {
			maxPageSize = cfg.MaxPageSize
		}
	}
	return &Store{
		db:              db,
		translate:       translate,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate creates or updates the schema for all messaging tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.ConversationParticipant{},
		&model.Message{},
		&model.MessageHistory{},
		&model.Notification{},
	)
}

// Authenticate resolves a token subject (user id or email) to a requester.
// An unknown subject is an authentication failure, not a missing resource.
func (s *Store) Authenticate(ctx context.Context, subject string) (access.Requester, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return access.Requester{}, &store.AuthenticationError{Message: "empty subject"}
	}

	var user model.User
	q := s.db.WithContext(ctx)
	if id, err := uuid.Parse(subject); err == nil {
		q = q.Where("id = ?", id)
	} else {
		q = q.Where("email = ?", subject)
	}
	if err := q.First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return access.Requester{}, &store.AuthenticationError{Message: fmt.Sprintf("unknown subject %q", subject)}
		}
		return access.Requester{}, err
	}
	return access.Requester{ID: user.ID, Admin: user.Role == model.RoleAdmin}, nil
}

// CreateUser creates a user record. Admin only.
func (s *Store) CreateUser(ctx context.Context, requester access.Requester, req store.CreateUserRequest) (*model.User, error) {
	if !requester.Admin {
		return nil, &store.ForbiddenError{}
	}
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.TrimSpace(req.Email)
	if req.FirstName == "" {
		return nil, &store.ValidationError{Field: "first_name", Message: "must not be empty"}
	}
	if req.LastName == "" {
		return nil, &store.ValidationError{Field: "last_name", Message: "must not be empty"}
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, &store.ValidationError{Field: "email", Message: "must be a valid email address"}
	}
	if req.Role == "" {
		req.Role = model.RoleGuest
	}
	if !req.Role.Valid() {
		return nil, &store.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", req.Role)}
	}

	user := model.User{
		ID:          uuid.New(),
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Role:        req.Role,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, s.translate(err)
	}
	return &user, nil
}

// ListUsers returns one page of users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context, page, pageSize int) ([]model.User, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var users []model.User
	err := s.db.WithContext(ctx).
		Order("created_at ASC, id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&users).Error
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// GetUser loads a single user by id.
func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &store.NotFoundError{Resource: "user", ID: userID.String()}
		}
		return nil, err
	}
	return &user, nil
}

// participantIDs returns the participant set of a conversation.
func (s *Store) participantIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).
		Model(&model.ConversationParticipant{}).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// loadConversation fetches the conversation row or a NotFoundError.
func (s *Store) loadConversation(ctx context.Context, conversationID uuid.UUID) (*model.Conversation, error) {
	var conv model.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &store.NotFoundError{Resource: "conversation", ID: conversationID.String()}
		}
		return nil, err
	}
	return &conv, nil
}

// requireUsersExist validates that every id names an existing user.
func (s *Store) requireUsersExist(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	var found []uuid.UUID
	err := s.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error
	if err != nil {
		return err
	}
	known := make(map[uuid.UUID]bool, len(found))
	for _, id := range found {
		known[id] = true
	}
	for _, id := range ids {
		if !known[id] {
			return &store.ValidationError{Field: "participant_ids", Message: fmt.Sprintf("unknown user %s", id)}
		}
	}
	return nil
}
