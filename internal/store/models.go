package store

import "time"

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Persistence keys. Each is an independent JSON blob.
const (
	KeyUsers       = "users"
	KeyCurrentUser = "currentUser"
	KeySessions    = "chat_sessions"
	KeySettings    = "ai_settings"
)

const GuestID = "guest"

type UserProfile struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	IsVerified     bool   `json:"isVerified"`
	ProfilePicture string `json:"profilePicture,omitempty"` // data URL
}

// GuestProfile is the process-wide default identity. It is never persisted.
var GuestProfile = UserProfile{ID: GuestID, Username: "Guest"}

func (p UserProfile) IsGuest() bool {
	return p.ID == GuestID
}

type Message struct {
	Role string `json:"role"` // "user" or "model"
	Text string `json:"text"`
}

type AISettings struct {
	Model             string  `json:"model"`
	SystemInstruction string  `json:"systemInstruction,omitempty"`
	Temperature       float32 `json:"temperature"`
	TopK              int32   `json:"topK"`
	TopP              float32 `json:"topP"`
	IntelligentMode   string  `json:"intelligentMode"`
	CodeStyle         bool    `json:"codeStyle"`
}

const DefaultModel = "gemini-1.5-flash-latest"

func DefaultAISettings() AISettings {
	return AISettings{
		Model:           DefaultModel,
		Temperature:     0.7,
		TopK:            40,
		TopP:            0.95,
		IntelligentMode: "balanced",
	}
}

type Session struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	TitleManual bool       `json:"titleManual,omitempty"` // set by rename; disables auto-titling
	Messages    []Message  `json:"messages"`
	Settings    AISettings `json:"settings"`
	IsPublic    bool       `json:"isPublic"`
	IsArchived  bool       `json:"isArchived"`
	OwnerID     string     `json:"ownerId"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share the message slice.
func (s Session) Clone() Session {
	c := s
	c.Messages = append([]Message(nil), s.Messages...)
	return c
}
