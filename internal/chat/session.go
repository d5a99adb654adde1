package chat

// Session identifies the signed-in user of this gateway.
type Session struct {
	UserID      string
	DisplayName string
	Token       string
}

// Valid reports whether a user is signed in.
func (s Session) Valid() bool {
	return s.UserID != ""
}
