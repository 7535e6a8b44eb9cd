// Package domain defines the types flowing through the notification pipeline.
package domain

import "fmt"

// StreamResponse is the decoded payload of the Patreon stream API: the feed
// items themselves plus a side channel of related entities.
type StreamResponse struct {
	Data     []RawItem   `json:"data"`
	Included []RawEntity `json:"included"`
}

// RawItem is one entry from the stream's data array. Its attribute shape
// varies by Type ("post" vs other notification-like events); absent fields
// decode to zero values.
type RawItem struct {
	ID            string                  `json:"id"`
	Type          string                  `json:"type"`
	Attributes    RawAttributes           `json:"attributes"`
	Relationships map[string]Relationship `json:"relationships"`
}

// RawAttributes is the union of attribute fields across item shapes.
type RawAttributes struct {
	// Post shape
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	PostType    string    `json:"post_type"`
	PublishedAt string    `json:"published_at"`
	PostFile    *FileRef  `json:"post_file"`
	Embed       *EmbedRef `json:"embed"`

	// Other notification shapes
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	CreatedAt    string `json:"created_at"`
	ThumbnailURL string `json:"thumbnail_url"`
	ImageURL     string `json:"image_url"`

	URL string `json:"url"`
}

// FileRef points at an attached file.
type FileRef struct {
	URL string `json:"url"`
}

// EmbedRef describes an embedded external resource.
type EmbedRef struct {
	Provider string `json:"provider"`
	Image    string `json:"image"`
}

// Relationship links an item to a related entity by ID.
type Relationship struct {
	Data RelationshipData `json:"data"`
}

// RelationshipData identifies the related entity.
type RelationshipData struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// RawEntity is one entry from the stream's included array.
type RawEntity struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Attributes EntityAttributes `json:"attributes"`
}

// EntityAttributes carries the naming fields of included users and campaigns.
type EntityAttributes struct {
	FullName     string `json:"full_name"`
	Vanity       string `json:"vanity"`
	CreationName string `json:"creation_name"`
}

// Entity types appearing in the included array.
const (
	EntityTypeUser     = "user"
	EntityTypeCampaign = "campaign"
)

// ParsedNotification is the canonical record produced by the parser and
// consumed by the filter chain and dispatcher. It is never mutated after
// construction; only its ID is persisted.
type ParsedNotification struct {
	ID        string `json:"id"`
	Kind      string `json:"type"`
	PostType  string `json:"post_type"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Creator   string `json:"creator"`
	URL       string `json:"url,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	CreatedAt string `json:"created_at"`
	IsNewPost bool   `json:"is_new_post"`
	HasVideo  bool   `json:"has_video"`
}

// UnknownCreator is the creator name used when no entity or heuristic
// resolves one.
const UnknownCreator = "Unknown Creator"

// EntityIndex maps user and campaign IDs to display names. It is updated
// from each fetch cycle's included array; same-key entries overwrite,
// entries from earlier cycles are never cleared.
type EntityIndex struct {
	users     map[string]string
	campaigns map[string]string
}

// NewEntityIndex returns an empty index.
func NewEntityIndex() *EntityIndex {
	return &EntityIndex{
		users:     make(map[string]string),
		campaigns: make(map[string]string),
	}
}

// Update merges the entities of one fetch cycle into the index. Display
// names prefer full_name (users) or creation_name (campaigns), then a vanity
// handle, then a synthetic fallback.
func (i *EntityIndex) Update(entities []RawEntity) {
	for _, entity := range entities {
		switch entity.Type {
		case EntityTypeUser:
			name := entity.Attributes.FullName
			if name == "" {
				name = entity.Attributes.Vanity
			}
			if name == "" {
				name = fmt.Sprintf("User %s", entity.ID)
			}
			i.users[entity.ID] = name
		case EntityTypeCampaign:
			name := entity.Attributes.CreationName
			if name == "" {
				name = fmt.Sprintf("Campaign %s", entity.ID)
			}
			i.campaigns[entity.ID] = name
		}
	}
}

// UserName looks up a user display name.
func (i *EntityIndex) UserName(id string) (string, bool) {
	name, ok := i.users[id]
	return name, ok
}

// CampaignName looks up a campaign display name.
func (i *EntityIndex) CampaignName(id string) (string, bool) {
	name, ok := i.campaigns[id]
	return name, ok
}
