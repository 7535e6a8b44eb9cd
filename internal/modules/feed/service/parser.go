// Package service normalizes raw stream items into ParsedNotification
// records and generates the republication feed.
package service

import (
	"regexp"
	"strings"

	"github.com/creatorpulse/patreon-notify/internal/modules/feed/domain"
)

const bodyLimit = 200

// Patterns resolving a creator name from notification text, checked in
// order; for each, the subject is tried before the body.
var creatorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)posted by (.+?)(?:\s|$)`),
	regexp.MustCompile(`(?i)^(.+?) posted`),
	regexp.MustCompile(`(?i)^(.+?) just`),
}

var videoProviders = []string{"youtube", "vimeo", "twitch"}

var videoURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)youtube\.com/watch`),
	regexp.MustCompile(`(?i)youtu\.be/`),
	regexp.MustCompile(`(?i)vimeo\.com/`),
	regexp.MustCompile(`(?i)twitch\.tv/`),
}

// Parser converts raw feed items into the canonical record. It is a total
// function over its input: every optional field has an explicit default.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse normalizes a raw item using the given entity index for creator
// resolution.
func (p *Parser) Parse(item domain.RawItem, index *domain.EntityIndex) domain.ParsedNotification {
	if item.Type == "post" {
		return p.parsePost(item, index)
	}
	return p.parseOther(item)
}

func (p *Parser) parsePost(item domain.RawItem, index *domain.EntityIndex) domain.ParsedNotification {
	attrs := item.Attributes

	title := attrs.Title
	if title == "" {
		title = "Untitled"
	}

	thumbnail := ""
	if attrs.PostFile != nil {
		thumbnail = attrs.PostFile.URL
	}
	if thumbnail == "" && attrs.Embed != nil {
		thumbnail = attrs.Embed.Image
	}

	creator := domain.UnknownCreator
	if rel, ok := item.Relationships[domain.EntityTypeUser]; ok {
		if name, found := index.UserName(rel.Data.ID); found {
			creator = name
		}
	}
	if creator == domain.UnknownCreator {
		if rel, ok := item.Relationships[domain.EntityTypeCampaign]; ok {
			if name, found := index.CampaignName(rel.Data.ID); found {
				creator = name
			}
		}
	}

	return domain.ParsedNotification{
		ID:        item.ID,
		Kind:      item.Type,
		PostType:  attrs.PostType,
		Subject:   title,
		Body:      truncate(attrs.Content, bodyLimit),
		Creator:   creator,
		URL:       attrs.URL,
		Thumbnail: thumbnail,
		CreatedAt: attrs.PublishedAt,
		IsNewPost: true, // all stream items are posts
		HasVideo:  detectVideo(attrs.PostType, attrs.Content, attrs.Embed),
	}
}

func (p *Parser) parseOther(item domain.RawItem) domain.ParsedNotification {
	attrs := item.Attributes

	thumbnail := attrs.ThumbnailURL
	if thumbnail == "" {
		thumbnail = attrs.ImageURL
	}

	return domain.ParsedNotification{
		ID:        item.ID,
		Kind:      item.Type,
		PostType:  "",
		Subject:   attrs.Subject,
		Body:      attrs.Body,
		Creator:   extractCreatorName(attrs.Subject, attrs.Body),
		URL:       attrs.URL,
		Thumbnail: thumbnail,
		CreatedAt: attrs.CreatedAt,
		IsNewPost: true,
		HasVideo:  detectVideo(item.Type, attrs.Body, attrs.Embed),
	}
}

// extractCreatorName applies the text heuristics over subject then body;
// the first match wins.
func extractCreatorName(subject, body string) string {
	for _, pattern := range creatorPatterns {
		if m := pattern.FindStringSubmatch(subject); m != nil {
			return strings.TrimSpace(m[1])
		}
		if m := pattern.FindStringSubmatch(body); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return domain.UnknownCreator
}

// detectVideo reports whether a post carries video content, judged by its
// post type, embed provider, or video URLs in the content text.
func detectVideo(postType, content string, embed *domain.EmbedRef) bool {
	if strings.Contains(strings.ToLower(postType), "video") {
		return true
	}

	if embed != nil && embed.Provider != "" {
		provider := strings.ToLower(embed.Provider)
		for _, known := range videoProviders {
			if strings.Contains(provider, known) {
				return true
			}
		}
	}

	if content != "" {
		for _, pattern := range videoURLPatterns {
			if pattern.MatchString(content) {
				return true
			}
		}
	}

	return false
}

// truncate cuts s to at most limit characters.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
