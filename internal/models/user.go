package models

// Identity is the verified caller extracted from a token. User profiles are
// owned by the external signup flow; the chat core only references ids.
type Identity struct {
	UserID      string
	DisplayName string
}
