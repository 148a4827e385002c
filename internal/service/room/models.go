package room

type Member struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	// IsAdmin is derived from roster position, never stored: the member
	// at position 0 is the admin.
	IsAdmin bool `json:"isAdmin"`
}

// PlayerState is a playback snapshot as observed by one client. The
// server never holds one beyond forwarding it.
type PlayerState struct {
	VideoURL    string  `json:"url"`
	CurrentTime float64 `json:"currentTime"`
}
