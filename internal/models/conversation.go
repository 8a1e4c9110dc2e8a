package models

import (
	"sort"
	"strings"
	"time"
)

// Conversation is a two-party chat with a denormalized summary of its latest message.
type Conversation struct {
	ID            string    `bson:"_id" json:"id"`
	Members       []string  `bson:"members" json:"members"`
	LastMessage   string    `bson:"lastMessage" json:"lastMessage"`
	LastSenderID  string    `bson:"lastSenderId,omitempty" json:"lastSenderId,omitempty"`
	LastMessageAt time.Time `bson:"lastMessageAt" json:"lastMessageAt"`
	CreatedAt     time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt" json:"updatedAt"`
}

// HasMember reports whether userID belongs to the conversation.
func (c Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Summary is the denormalized last-message snapshot written after each send.
type Summary struct {
	LastMessage   string
	LastSenderID  string
	LastMessageAt time.Time
}

// MemberKey returns a canonical key for an unordered member set.
func MemberKey(members []string) string {
	sorted := SortedMembers(members)
	return strings.Join(sorted, ":")
}

// SortedMembers returns a sorted copy of members.
func SortedMembers(members []string) []string {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	return sorted
}
