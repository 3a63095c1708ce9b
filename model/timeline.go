package model

import (
	"context"

	"gorm.io/gorm"
)

// ClientTimeline returns the timeline of a client, newest entry first.
func (s *Store) ClientTimeline(ctx context.Context, clientID uint, page, perPage int) (*Page[ClientTimelineEntry], error) {
	if _, err := s.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	page, perPage = normalizePage(page, perPage)
	q := s.db.WithContext(ctx).Model(&ClientTimelineEntry{}).Where("client_id = ?", clientID)

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, classify("client timeline", err)
	}
	var rows []ClientTimelineEntry
	if err := q.Session(&gorm.Session{}).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&rows).Error; err != nil {
		return nil, classify("client timeline", err)
	}
	return newPage(rows, total, page, perPage), nil
}
