package service

import (
	"fmt"
	"html"
	"time"

	"github.com/gorilla/feeds"
	"github.com/samber/oops"

	"github.com/creatorpulse/patreon-notify/internal/modules/feed/domain"
	"github.com/creatorpulse/patreon-notify/internal/modules/feed/repository"
)

const feedItemLimit = 50

// Service generates the RSS feed of dispatched posts.
type Service struct {
	repo repository.Repository
}

// New creates a new feed service over the post archive.
func New(repo repository.Repository) *Service {
	return &Service{repo: repo}
}

// GenerateFeed builds an RSS feed of the most recently dispatched posts.
func (s *Service) GenerateFeed(baseURL string) (*feeds.Feed, error) {
	posts, err := s.repo.GetRecentPosts(feedItemLimit)
	if err != nil {
		return nil, oops.With("context", "failed to load archived posts").Wrap(err)
	}

	feed := &feeds.Feed{
		Title:       "Patreon Notifications",
		Link:        &feeds.Link{Href: baseURL + "/feed.xml"},
		Description: "Posts that passed the notification filters",
		Updated:     time.Now(),
	}

	for _, post := range posts {
		feed.Items = append(feed.Items, s.postToFeedItem(post))
	}
	return feed, nil
}

func (s *Service) postToFeedItem(post *domain.ParsedNotification) *feeds.Item {
	description := post.Body
	if description == "" {
		description = post.Subject
	}

	item := &feeds.Item{
		Title:       post.Subject,
		Link:        &feeds.Link{Href: post.URL},
		Description: description,
		Author:      &feeds.Author{Name: post.Creator},
		Id:          post.ID,
		Content:     fmt.Sprintf("<p>%s</p>", html.EscapeString(description)),
	}
	if created, err := time.Parse(time.RFC3339, post.CreatedAt); err == nil {
		item.Created = created
	}
	if post.Thumbnail != "" {
		item.Content += fmt.Sprintf(`<p><img src="%s" alt=""/></p>`, html.EscapeString(post.Thumbnail))
	}
	return item
}
