package models

import "time"

// Post is a single scraped social-media item, attributed to a source and
// optionally to a token symbol.
//
// (Source, Link) is unique within a ScrapeStore. Comments and TokenSymbol
// may be filled in after the Post is first persisted; nothing else is
// mutated once TokenSymbol has been finalized.
type Post struct {
	ID           int64     `json:"id"`
	Source       string    `json:"source"`
	Platform     string    `json:"platform"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Author       string    `json:"author"`
	Timestamp    time.Time `json:"timestamp"`
	PostAge      string    `json:"postAge"`
	Upvotes      int       `json:"upvotes"`
	CommentCount int       `json:"commentCount"`
	Comments     []string  `json:"comments"`
	Link         string    `json:"link"`
	TokenSymbol  string    `json:"tokenSymbol,omitempty"`
}

// Key returns the (source, link) pair that uniquely identifies a Post
// within a store.
func (p Post) Key() PostKey {
	return PostKey{Source: p.Source, Link: p.Link}
}

// HasSymbol reports whether the post has been attributed to a token.
func (p Post) HasSymbol() bool {
	return p.TokenSymbol != ""
}

// PostKey is the (source, link) deduplication key for a Post.
type PostKey struct {
	Source string
	Link   string
}
