package models

import "time"

// Mode selects the assistant persona for a chat session.
type Mode string

const (
	ModeStudy    Mode = "study"
	ModeCoding   Mode = "coding"
	ModeWriting  Mode = "writing"
	ModeTutor    Mode = "tutor"
	ModeResearch Mode = "research"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeStudy, ModeCoding, ModeWriting, ModeTutor, ModeResearch:
		return true
	}
	return false
}

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// DefaultChatTitle is the placeholder title a fresh session carries until
// the first user message replaces it.
const DefaultChatTitle = "New Discussion"

type Preferences struct {
	Theme       string `json:"theme"`
	DefaultMode Mode   `json:"defaultMode"`
}

// User is the profile record issued by the identity provider. The ID is
// opaque and is the partition key for every stored entity.
type User struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Preferences Preferences `json:"preferences"`
}

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession is an ordered conversation transcript owned by one user.
// Messages are insertion-ordered and the whole session is replaced
// wholesale on save; individual messages are never deleted.
type ChatSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Mode      Mode      `json:"mode"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type AssetType string

const (
	AssetSummary AssetType = "summary"
	AssetQuiz    AssetType = "quiz"
	AssetSlides  AssetType = "slides"
)

func (t AssetType) Valid() bool {
	switch t {
	case AssetSummary, AssetQuiz, AssetSlides:
		return true
	}
	return false
}

type QuizQuestion struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

type Slide struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets"`
	Notes   string   `json:"notes,omitempty"`
}

type Flashcard struct {
	ID    string `json:"id"`
	Front string `json:"front"`
	Back  string `json:"back"`
}

// AssetContent holds the type-dependent payload of a LabAsset. Exactly one
// field is populated, matching the asset's Type.
type AssetContent struct {
	Summary string         `json:"summary,omitempty"`
	Quiz    []QuizQuestion `json:"quiz,omitempty"`
	Slides  []Slide        `json:"slides,omitempty"`
}

// LabAsset is a generated artifact (summary, quiz or slide deck) kept for
// later review. Immutable once created, except deletion.
type LabAsset struct {
	ID         string       `json:"id"`
	UserID     string       `json:"userId"`
	Title      string       `json:"title"`
	Type       AssetType    `json:"type"`
	Content    AssetContent `json:"content"`
	SourceName string       `json:"sourceName"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// AssetDraft is a LabAsset before the coordinator assigns identity.
type AssetDraft struct {
	Title      string       `json:"title"`
	Type       AssetType    `json:"type"`
	Content    AssetContent `json:"content"`
	SourceName string       `json:"sourceName"`
}

// Session is an authenticated identity-provider session.
type Session struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
