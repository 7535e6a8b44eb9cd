// Package domain defines the types shared by notification channels.
package domain

// Metadata carries the optional attachment fields of a notification, used
// by channels that support rich messages.
type Metadata struct {
	Creator   string `json:"creator,omitempty"`
	URL       string `json:"url,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Channel URI schemes understood by the dispatcher.
const (
	SchemeTelegram = "tgram"
	SchemeDiscord  = "discord"
	SchemeSlack    = "slack"
	SchemeHTTP     = "http"
	SchemeHTTPS    = "https"
)
