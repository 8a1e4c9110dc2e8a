package ws

import (
	"crypto/rand"
	"encoding/hex"
)

const (
	userRoomPrefix = "user:"
	convRoomPrefix = "conv:"
)

// UserRoom names the room holding every connection of one user.
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

// ConvRoom names the room holding connections that joined a conversation.
func ConvRoom(conversationID string) string {
	return convRoomPrefix + conversationID
}

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
