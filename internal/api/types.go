package api

// User is the authenticated account record returned by /api/user/.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	IsStaff  bool   `json:"is_staff"`
}

// Settings is the server-side settings singleton. Only the fields the sync
// engine acts on are modeled; the rest round-trips untouched through
// UpdateSettings params.
type Settings struct {
	ID           int64  `json:"id"`
	IsDebug      bool   `json:"is_debug"`
	WebsocketURL string `json:"websocket_url"`
	Language     string `json:"language,omitempty"`
}

// qualityProfilesResponse wraps GET /api/quality-profiles/.
type qualityProfilesResponse struct {
	Profiles []string `json:"profiles"`
}

// mediaCategoriesResponse wraps GET /api/media-categories/.
type mediaCategoriesResponse struct {
	Categories []string `json:"categories"`
}

// authResponse wraps POST /api/auth/.
type authResponse struct {
	Token string `json:"token"`
}
