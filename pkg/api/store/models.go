package store

import (
	"time"
)

// LocalCredential is a username/password account kept in the local table.
type LocalCredential struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Salt         string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null" json:"role"`
	ContactEmail *string   `json:"contact_email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity is the shared identity row every principal id stored as a
// foreign key must have. Rows are inserted once and never updated.
type Identity struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"not null" json:"email"`
	Source    string    `gorm:"not null" json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName keeps identity rows in the users table.
func (Identity) TableName() string {
	return "users"
}

// Board names.
const (
	BoardNotices  = "notices"
	BoardProjects = "projects"
	BoardIdeas    = "ideas"
)

// BoardPost is an entry on one of the team boards.
type BoardPost struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Board       string    `gorm:"index;not null" json:"board"`
	Title       string    `gorm:"not null" json:"title"`
	Body        string    `json:"body"`
	Status      string    `json:"status,omitempty"`
	AuthorID    string    `gorm:"index;not null" json:"author_id"`
	AuthorLabel string    `json:"author_label"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Comment is a reply to a board post.
type Comment struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	PostID      uint       `gorm:"index;not null" json:"post_id"`
	Post        *BoardPost `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	AuthorID    string     `gorm:"index;not null" json:"author_id"`
	Author      *Identity  `gorm:"foreignKey:AuthorID;references:ID" json:"-"`
	AuthorLabel string     `json:"author_label"`
	Body        string     `gorm:"not null" json:"body"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Like records that a principal liked a post. A principal likes a post at
// most once.
type Like struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	PostID    uint       `gorm:"uniqueIndex:idx_likes_post_user;not null" json:"post_id"`
	Post      *BoardPost `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	UserID    string     `gorm:"uniqueIndex:idx_likes_post_user;not null" json:"user_id"`
	User      *Identity  `gorm:"foreignKey:UserID;references:ID" json:"-"`
	CreatedAt time.Time  `json:"created_at"`
}

// CalendarEvent is an entry on the shared calendar.
type CalendarEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"not null" json:"title"`
	Description string    `json:"description"`
	StartsAt    time.Time `gorm:"index;not null" json:"starts_at"`
	EndsAt      time.Time `gorm:"not null" json:"ends_at"`
	AllDay      bool      `json:"all_day"`
	AuthorID    string    `gorm:"index;not null" json:"author_id"`
	AuthorLabel string    `json:"author_label"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChatRoom is a conversation between its members.
type ChatRoom struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	OwnerID   string    `gorm:"index;not null" json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMember links a principal to a room.
type ChatMember struct {
	RoomID   uint      `gorm:"primaryKey" json:"room_id"`
	Room     *ChatRoom `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	UserID   string    `gorm:"primaryKey" json:"user_id"`
	User     *Identity `gorm:"foreignKey:UserID;references:ID" json:"-"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// ChatMessage is a message posted to a room.
type ChatMessage struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RoomID      uint      `gorm:"index;not null" json:"room_id"`
	Room        *ChatRoom `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	AuthorID    string    `gorm:"not null" json:"author_id"`
	Author      *Identity `gorm:"foreignKey:AuthorID;references:ID" json:"-"`
	AuthorLabel string    `json:"author_label"`
	Body        string    `gorm:"not null" json:"body"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// FileObject is the metadata of a shared file. The content lives in the
// configured blob backend under Key.
type FileObject struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Key         string    `gorm:"uniqueIndex;not null" json:"-"`
	AuthorID    string    `gorm:"index;not null" json:"author_id"`
	AuthorLabel string    `json:"author_label"`
	CreatedAt   time.Time `json:"created_at"`
}

// PushSubscription is a browser push endpoint registered by a principal.
type PushSubscription struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Endpoint    string    `gorm:"uniqueIndex;not null" json:"endpoint"`
	P256dh      string    `json:"p256dh"`
	Auth        string    `json:"-"`
	PrincipalID string    `gorm:"index;not null" json:"principal_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
