package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/chatstack/messaging-service/internal/access"
	"github.com/chatstack/messaging-service/internal/model"
	"github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ListNotifications returns one page of the requester's own notifications,
// newest first.
func (s *Store) ListNotifications(ctx context.Context, requester access.Requester, unreadOnly bool, page, pageSize int) ([]model.Notification, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	q := s.db.WithContext(ctx).Model(&model.Notification{}).Where("user_id = ?", requester.ID)
	if unreadOnly {
		q = q.Where("read = ?", false)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	notifications := []model.Notification{}
	err := q.Order("created_at DESC, id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&notifications).Error
	if err != nil {
		return nil, 0, err
	}
	return notifications, total, nil
}

// MarkNotificationRead marks a notification as read. Only the recipient (or
// an admin) may do so.
func (s *Store) MarkNotificationRead(ctx context.Context, requester access.Requester, notificationID uuid.UUID) (*model.Notification, error) {
	var n model.Notification
	if err := s.db.WithContext(ctx).First(&n, "id = ?", notificationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &store.NotFoundError{Resource: "notification", ID: notificationID.String()}
		}
		return nil, err
	}
	if n.UserID != requester.ID && !requester.Admin {
		return nil, &store.ForbiddenError{}
	}
	if !n.Read {
		err := s.db.WithContext(ctx).
			Model(&model.Notification{}).
			Where("id = ?", n.ID).
			Update("read", true).Error
		if err != nil {
			return nil, err
		}
		n.Read = true
	}
	return &n, nil
}

// PurgeReadNotifications deletes up to limit read notifications created
// before cutoff and reports how many were removed. Used by the retention
// sweeper.
func (s *Store) PurgeReadNotifications(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("read = ? AND created_at < ?", true, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.Notification{})
	return res.RowsAffected, res.Error
}
