// Package service implements the layered notification filter chain.
package service

import (
	"strings"

	"github.com/samber/lo"

	"github.com/creatorpulse/patreon-notify/internal/modules/feed/domain"
	"github.com/creatorpulse/patreon-notify/internal/shared/config"
)

// Stage identifies the filter that rejected an item.
type Stage string

// Filter stages, evaluated in this order.
const (
	StageCreator Stage = "creator"
	StageKeyword Stage = "keyword"
	StageContent Stage = "content_type"
)

// Service decides whether a parsed notification is delivered. The three
// predicates run in fixed order and an item passes only if all of them do;
// a rejection reports the stage that caused it.
type Service struct {
	cfg *config.Config
}

// New creates a filter service over the given configuration. The service
// only reads the configuration, never mutates it.
func New(cfg *config.Config) *Service {
	return &Service{cfg: cfg}
}

// Apply runs the full chain. The returned stage is only meaningful when the
// item is rejected.
func (s *Service) Apply(n domain.ParsedNotification) (bool, Stage) {
	if !s.MatchesCreator(n) {
		return false, StageCreator
	}
	if !s.MatchesKeywords(n) {
		return false, StageKeyword
	}
	if !s.MatchesContentType(n) {
		return false, StageContent
	}
	return true, ""
}

// MatchesCreator checks the creator whitelist and per-creator enable flag.
// An empty whitelist allows all creators.
func (s *Service) MatchesCreator(n domain.ParsedNotification) bool {
	if settings, ok := s.cfg.CreatorSettings[n.Creator]; ok && !settings.IsEnabled() {
		return false
	}

	if len(s.cfg.EnabledCreators) > 0 {
		return lo.Contains(s.cfg.EnabledCreators, n.Creator)
	}

	return true
}

// MatchesKeywords checks keyword filters over the lower-cased subject+body.
// Per-creator keywords fully replace the global list for that creator.
func (s *Service) MatchesKeywords(n domain.ParsedNotification) bool {
	text := strings.ToLower(n.Subject + " " + n.Body)

	if settings, ok := s.cfg.CreatorSettings[n.Creator]; ok && len(settings.Keywords) > 0 {
		return containsAny(text, settings.Keywords)
	}

	if len(s.cfg.GlobalKeywords) > 0 {
		return containsAny(text, s.cfg.GlobalKeywords)
	}

	return true
}

// MatchesContentType checks content-type filters. A per-creator content
// type list either matches or rejects outright, with no fallthrough to the
// global flags.
func (s *Service) MatchesContentType(n domain.ParsedNotification) bool {
	postType := strings.ToLower(n.PostType)

	if settings, ok := s.cfg.CreatorSettings[n.Creator]; ok {
		if len(settings.ContentTypes) > 0 {
			for _, allowed := range settings.ContentTypes {
				if strings.Contains(postType, strings.ToLower(allowed)) ||
					(allowed == "video_embed" && n.HasVideo) {
					return true
				}
			}
			return false
		}

		if settings.VideoOnly {
			return n.HasVideo
		}
	}

	filters := s.cfg.ContentFilters
	switch {
	case filters.VideoOnly:
		return n.HasVideo
	case filters.ImageOnly:
		return strings.Contains(postType, "image")
	case filters.TextOnly:
		return !n.HasVideo && !strings.Contains(postType, "image") && !strings.Contains(postType, "audio")
	case filters.AudioOnly:
		return strings.Contains(postType, "audio")
	case filters.ExcludeText:
		return n.HasVideo || strings.Contains(postType, "image") || strings.Contains(postType, "audio")
	}

	return true
}

func containsAny(text string, keywords []string) bool {
	return lo.SomeBy(keywords, func(keyword string) bool {
		return strings.Contains(text, strings.ToLower(keyword))
	})
}
