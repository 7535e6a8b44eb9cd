package repository

import (
	"github.com/creatorpulse/patreon-notify/internal/modules/feed/domain"
)

// Repository defines the interface for the dispatched-post archive.
type Repository interface {
	SavePost(post *domain.ParsedNotification) error
	GetRecentPosts(limit int) ([]*domain.ParsedNotification, error)
}
