package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/creatorpulse/patreon-notify/internal/modules/feed/domain"
)

// FileStorage implements Repository using the file system, one JSON document
// per dispatched post.
type FileStorage struct {
	basePath string
	mu       sync.RWMutex
}

// NewFileStorage creates a file-based post archive under basePath.
func NewFileStorage(basePath string) (Repository, error) {
	postsPath := filepath.Join(basePath, "posts")
	if err := os.MkdirAll(postsPath, 0755); err != nil {
		return nil, oops.With("base_path", basePath, "context", "failed to create posts directory").Wrap(err)
	}

	return &FileStorage{basePath: postsPath}, nil
}

func (s *FileStorage) SavePost(post *domain.ParsedNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.basePath, fmt.Sprintf("%s.json", sanitizeID(post.ID)))
	data, err := json.MarshalIndent(post, "", "  ")
	if err != nil {
		return oops.With("post_id", post.ID, "context", "failed to marshal post").Wrap(err)
	}

	return os.WriteFile(path, data, 0644)
}

func (s *FileStorage) GetRecentPosts(limit int) ([]*domain.ParsedNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*domain.ParsedNotification{}, nil
		}
		return nil, oops.With("posts_dir", s.basePath, "context", "failed to read posts directory").Wrap(err)
	}

	var posts []*domain.ParsedNotification
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.basePath, entry.Name()))
		if err != nil {
			continue
		}

		var post domain.ParsedNotification
		if err := json.Unmarshal(data, &post); err != nil {
			continue
		}
		posts = append(posts, &post)
	}

	// Timestamps are RFC 3339, so string order is chronological
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt > posts[j].CreatedAt
	})

	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// sanitizeID keeps archive file names flat even if an upstream ID ever
// contains a path separator.
func sanitizeID(id string) string {
	id = strings.ReplaceAll(id, string(os.PathSeparator), "_")
	return strings.ReplaceAll(id, "/", "_")
}
