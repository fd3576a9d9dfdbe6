package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/teamspace/pkg/auth"
	"github.com/ethpandaops/teamspace/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Sentinel errors returned by Store methods.
var (
	ErrNotFound         = errors.New("record not found")
	ErrConflict         = errors.New("record already exists")
	ErrInvalidReference = errors.New("referenced record does not exist")
)

// Store provides persistence for API resources.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Identity rows.
	IdentityExists(ctx context.Context, id string) (bool, error)
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	EnsureIdentity(ctx context.Context, id, email, source string) error
	LocalContactEmail(ctx context.Context, uid string) (string, error)

	// Local credentials.
	CreateCredential(ctx context.Context, cred *LocalCredential) error
	GetCredentialByID(ctx context.Context, id string) (*LocalCredential, error)
	GetCredentialByUsername(ctx context.Context, username string) (*LocalCredential, error)
	ListCredentials(ctx context.Context) ([]LocalCredential, error)
	UpdateCredential(ctx context.Context, cred *LocalCredential) error
	DeleteCredential(ctx context.Context, id string) error
	SeedAdmin(ctx context.Context, passwordHash, salt string) (bool, error)

	// Boards.
	ListPosts(ctx context.Context, board string) ([]BoardPost, error)
	GetPost(ctx context.Context, id uint) (*BoardPost, error)
	CreatePost(ctx context.Context, post *BoardPost) error
	UpdatePost(ctx context.Context, post *BoardPost) error
	DeletePost(ctx context.Context, id uint) error
	CountPosts(ctx context.Context, board string) (int64, error)

	// Comments and likes.
	ListComments(ctx context.Context, postID uint) ([]Comment, error)
	GetComment(ctx context.Context, id uint) (*Comment, error)
	CreateComment(ctx context.Context, comment *Comment) error
	DeleteComment(ctx context.Context, id uint) error
	ToggleLike(ctx context.Context, postID uint, userID string) (bool, error)
	CountLikes(ctx context.Context, postID uint) (int64, error)

	// Calendar.
	ListEvents(ctx context.Context, from, to time.Time) ([]CalendarEvent, error)
	GetEvent(ctx context.Context, id uint) (*CalendarEvent, error)
	CreateEvent(ctx context.Context, event *CalendarEvent) error
	UpdateEvent(ctx context.Context, event *CalendarEvent) error
	DeleteEvent(ctx context.Context, id uint) error
	CountEventsFrom(ctx context.Context, from time.Time) (int64, error)

	// Chat.
	ListRooms(ctx context.Context, principalID string) ([]ChatRoom, error)
	GetRoom(ctx context.Context, id uint) (*ChatRoom, error)
	CreateRoom(ctx context.Context, room *ChatRoom) error
	DeleteRoom(ctx context.Context, id uint) error
	AddMembers(ctx context.Context, roomID uint, userIDs []string) error
	ListMembers(ctx context.Context, roomID uint) ([]ChatMember, error)
	IsRoomMember(ctx context.Context, roomID uint, userID string) (bool, error)
	ListMessages(ctx context.Context, roomID uint, limit int) ([]ChatMessage, error)
	CreateMessage(ctx context.Context, msg *ChatMessage) error
	CountRooms(ctx context.Context, principalID string) (int64, error)

	// Files.
	ListFiles(ctx context.Context) ([]FileObject, error)
	GetFile(ctx context.Context, id string) (*FileObject, error)
	CreateFile(ctx context.Context, file *FileObject) error
	DeleteFile(ctx context.Context, id string) error
	CountFiles(ctx context.Context) (int64, error)

	// Push subscriptions.
	UpsertPushSubscription(ctx context.Context, sub *PushSubscription) error
	DeletePushSubscription(ctx context.Context, endpoint, principalID string) error
	PrunePushSubscriptions(ctx context.Context, before time.Time) (int64, error)
}

// Compile-time interface checks.
var (
	_ Store              = (*store)(nil)
	_ auth.IdentityStore = (Store)(nil)
)

type store struct {
	log logrus.FieldLogger
	cfg *config.APIDatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.APIDatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(SQLiteDSN(s.cfg.SQLite.Path))
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&LocalCredential{},
		&Identity{},
		&BoardPost{},
		&Comment{},
		&Like{},
		&CalendarEvent{},
		&ChatRoom{},
		&ChatMember{},
		&ChatMessage{},
		&FileObject{},
		&PushSubscription{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// SQLiteDSN enables foreign key enforcement on a sqlite path or DSN.
func SQLiteDSN(path string) string {
	if strings.Contains(path, "foreign_keys") {
		return path
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	return path + sep + "_pragma=foreign_keys(1)"
}

// translate maps driver errors onto the package sentinels.
func translate(err error, action string) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", action, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey),
		strings.Contains(msg, "UNIQUE constraint failed"),
		strings.Contains(msg, "duplicate key value"):
		return fmt.Errorf("%s: %w", action, ErrConflict)
	case errors.Is(err, gorm.ErrForeignKeyViolated),
		strings.Contains(msg, "FOREIGN KEY constraint failed"),
		strings.Contains(msg, "violates foreign key constraint"):
		return fmt.Errorf("%s: %w", action, ErrInvalidReference)
	default:
		return fmt.Errorf("%s: %w", action, err)
	}
}

func deleted(result *gorm.DB, action string) error {
	if result.Error != nil {
		return translate(result.Error, action)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", action, ErrNotFound)
	}

	return nil
}

// --- Identity rows ---

func (s *store) IdentityExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Identity{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking identity row: %w", err)
	}

	return count > 0, nil
}

func (s *store) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	var row Identity
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&row).Error; err != nil {
		return nil, translate(err, "getting identity row")
	}

	return &row, nil
}

// EnsureIdentity inserts the identity row for id. An existing row wins and
// is left untouched.
func (s *store) EnsureIdentity(
	ctx context.Context, id, email, source string,
) error {
	row := Identity{ID: id, Email: email, Source: source}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(&row).Error; err != nil {
		return translate(err, "ensuring identity row")
	}

	return nil
}

func (s *store) LocalContactEmail(ctx context.Context, uid string) (string, error) {
	var cred LocalCredential
	if err := s.db.WithContext(ctx).
		Select("contact_email").
		Where("id = ?", uid).
		First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}

		return "", fmt.Errorf("getting contact email: %w", err)
	}

	if cred.ContactEmail == nil {
		return "", nil
	}

	return *cred.ContactEmail, nil
}

// --- Local credentials ---

func (s *store) CreateCredential(ctx context.Context, cred *LocalCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}

	return translate(s.db.WithContext(ctx).Create(cred).Error, "creating credential")
}

func (s *store) GetCredentialByID(
	ctx context.Context, id string,
) (*LocalCredential, error) {
	var cred LocalCredential
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&cred).Error; err != nil {
		return nil, translate(err, "getting credential by id")
	}

	return &cred, nil
}

func (s *store) GetCredentialByUsername(
	ctx context.Context, username string,
) (*LocalCredential, error) {
	var cred LocalCredential
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		First(&cred).Error; err != nil {
		return nil, translate(err, "getting credential by username")
	}

	return &cred, nil
}

func (s *store) ListCredentials(ctx context.Context) ([]LocalCredential, error) {
	var creds []LocalCredential
	if err := s.db.WithContext(ctx).
		Order("username ASC").
		Find(&creds).Error; err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	return creds, nil
}

func (s *store) UpdateCredential(ctx context.Context, cred *LocalCredential) error {
	return translate(s.db.WithContext(ctx).Save(cred).Error, "updating credential")
}

func (s *store) DeleteCredential(ctx context.Context, id string) error {
	return deleted(
		s.db.WithContext(ctx).Where("id = ?", id).Delete(&LocalCredential{}),
		"deleting credential",
	)
}

// SeedAdmin creates the reserved admin credential when it does not exist.
// An existing admin keeps its password. It reports whether a row was
// created.
func (s *store) SeedAdmin(
	ctx context.Context, passwordHash, salt string,
) (bool, error) {
	cred := LocalCredential{
		ID:           uuid.NewString(),
		Username:     auth.ReservedAdminUsername,
		PasswordHash: passwordHash,
		Salt:         salt,
		Role:         string(auth.RoleAdmin),
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			DoNothing: true,
		}).
		Create(&cred)
	if result.Error != nil {
		return false, fmt.Errorf("seeding admin credential: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.Info("Seeded admin credential from config")
	}

	return result.RowsAffected > 0, nil
}

// --- Boards ---

func (s *store) ListPosts(ctx context.Context, board string) ([]BoardPost, error) {
	var posts []BoardPost
	if err := s.db.WithContext(ctx).
		Where("board = ?", board).
		Order("created_at DESC, id DESC").
		Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}

	return posts, nil
}

func (s *store) GetPost(ctx context.Context, id uint) (*BoardPost, error) {
	var post BoardPost
	if err := s.db.WithContext(ctx).First(&post, id).Error; err != nil {
		return nil, translate(err, "getting post")
	}

	return &post, nil
}

func (s *store) CreatePost(ctx context.Context, post *BoardPost) error {
	return translate(s.db.WithContext(ctx).Create(post).Error, "creating post")
}

func (s *store) UpdatePost(ctx context.Context, post *BoardPost) error {
	return translate(s.db.WithContext(ctx).Save(post).Error, "updating post")
}

func (s *store) DeletePost(ctx context.Context, id uint) error {
	return deleted(s.db.WithContext(ctx).Delete(&BoardPost{}, id), "deleting post")
}

func (s *store) CountPosts(ctx context.Context, board string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&BoardPost{}).
		Where("board = ?", board).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting posts: %w", err)
	}

	return count, nil
}

// --- Comments and likes ---

func (s *store) ListComments(ctx context.Context, postID uint) ([]Comment, error) {
	var comments []Comment
	if err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}

	return comments, nil
}

func (s *store) GetComment(ctx context.Context, id uint) (*Comment, error) {
	var comment Comment
	if err := s.db.WithContext(ctx).First(&comment, id).Error; err != nil {
		return nil, translate(err, "getting comment")
	}

	return &comment, nil
}

func (s *store) CreateComment(ctx context.Context, comment *Comment) error {
	return translate(
		s.db.WithContext(ctx).Omit(clause.Associations).Create(comment).Error,
		"creating comment",
	)
}

func (s *store) DeleteComment(ctx context.Context, id uint) error {
	return deleted(s.db.WithContext(ctx).Delete(&Comment{}, id), "deleting comment")
}

// ToggleLike likes the post for userID, or removes an existing like. It
// returns whether the post is liked afterwards.
func (s *store) ToggleLike(
	ctx context.Context, postID uint, userID string,
) (bool, error) {
	var liked bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("post_id = ? AND user_id = ?", postID, userID).
			Delete(&Like{})
		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected > 0 {
			return nil
		}

		liked = true

		return tx.Omit(clause.Associations).
			Create(&Like{PostID: postID, UserID: userID}).Error
	})
	if err != nil {
		return false, translate(err, "toggling like")
	}

	return liked, nil
}

func (s *store) CountLikes(ctx context.Context, postID uint) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Like{}).
		Where("post_id = ?", postID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting likes: %w", err)
	}

	return count, nil
}

// --- Calendar ---

// ListEvents returns events overlapping [from, to). A zero bound is open.
func (s *store) ListEvents(
	ctx context.Context, from, to time.Time,
) ([]CalendarEvent, error) {
	query := s.db.WithContext(ctx).Model(&CalendarEvent{})

	if !from.IsZero() {
		query = query.Where("ends_at >= ?", from.UTC())
	}

	if !to.IsZero() {
		query = query.Where("starts_at < ?", to.UTC())
	}

	var events []CalendarEvent
	if err := query.Order("starts_at ASC, id ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	return events, nil
}

func (s *store) GetEvent(ctx context.Context, id uint) (*CalendarEvent, error) {
	var event CalendarEvent
	if err := s.db.WithContext(ctx).First(&event, id).Error; err != nil {
		return nil, translate(err, "getting event")
	}

	return &event, nil
}

func (s *store) CreateEvent(ctx context.Context, event *CalendarEvent) error {
	return translate(s.db.WithContext(ctx).Create(event).Error, "creating event")
}

func (s *store) UpdateEvent(ctx context.Context, event *CalendarEvent) error {
	return translate(s.db.WithContext(ctx).Save(event).Error, "updating event")
}

func (s *store) DeleteEvent(ctx context.Context, id uint) error {
	return deleted(s.db.WithContext(ctx).Delete(&CalendarEvent{}, id), "deleting event")
}

func (s *store) CountEventsFrom(ctx context.Context, from time.Time) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&CalendarEvent{}).
		Where("ends_at >= ?", from.UTC()).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}

	return count, nil
}

// --- Chat ---

func (s *store) roomsFor(ctx context.Context, principalID string) *gorm.DB {
	members := s.db.Model(&ChatMember{}).
		Select("room_id").
		Where("user_id = ?", principalID)

	return s.db.WithContext(ctx).
		Model(&ChatRoom{}).
		Where("owner_id = ? OR id IN (?)", principalID, members)
}

// ListRooms returns the rooms principalID owns or belongs to.
func (s *store) ListRooms(ctx context.Context, principalID string) ([]ChatRoom, error) {
	var rooms []ChatRoom
	if err := s.roomsFor(ctx, principalID).
		Order("created_at DESC, id DESC").
		Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}

	return rooms, nil
}

func (s *store) GetRoom(ctx context.Context, id uint) (*ChatRoom, error) {
	var room ChatRoom
	if err := s.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return nil, translate(err, "getting room")
	}

	return &room, nil
}

func (s *store) CreateRoom(ctx context.Context, room *ChatRoom) error {
	return translate(s.db.WithContext(ctx).Create(room).Error, "creating room")
}

func (s *store) DeleteRoom(ctx context.Context, id uint) error {
	return deleted(s.db.WithContext(ctx).Delete(&ChatRoom{}, id), "deleting room")
}

// AddMembers inserts the members in one transaction. Existing memberships
// are kept; an unknown user id fails the whole batch.
func (s *store) AddMembers(ctx context.Context, roomID uint, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}

	members := make([]ChatMember, 0, len(userIDs))
	for _, id := range userIDs {
		members = append(members, ChatMember{RoomID: roomID, UserID: id})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&members).Error
	})

	return translate(err, "adding room members")
}

func (s *store) ListMembers(ctx context.Context, roomID uint) ([]ChatMember, error) {
	var members []ChatMember
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("joined_at ASC").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("listing room members: %w", err)
	}

	return members, nil
}

func (s *store) IsRoomMember(
	ctx context.Context, roomID uint, userID string,
) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&ChatMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking room membership: %w", err)
	}

	return count > 0, nil
}

// ListMessages returns the newest limit messages of a room, oldest first.
func (s *store) ListMessages(
	ctx context.Context, roomID uint, limit int,
) ([]ChatMessage, error) {
	var msgs []ChatMessage
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, nil
}

func (s *store) CreateMessage(ctx context.Context, msg *ChatMessage) error {
	return translate(
		s.db.WithContext(ctx).Omit(clause.Associations).Create(msg).Error,
		"creating message",
	)
}

func (s *store) CountRooms(ctx context.Context, principalID string) (int64, error) {
	var count int64
	if err := s.roomsFor(ctx, principalID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting rooms: %w", err)
	}

	return count, nil
}

// --- Files ---

func (s *store) ListFiles(ctx context.Context) ([]FileObject, error) {
	var files []FileObject
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&files).Error; err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	return files, nil
}

func (s *store) GetFile(ctx context.Context, id string) (*FileObject, error) {
	var file FileObject
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&file).Error; err != nil {
		return nil, translate(err, "getting file")
	}

	return &file, nil
}

func (s *store) CreateFile(ctx context.Context, file *FileObject) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}

	return translate(s.db.WithContext(ctx).Create(file).Error, "creating file")
}

func (s *store) DeleteFile(ctx context.Context, id string) error {
	return deleted(
		s.db.WithContext(ctx).Where("id = ?", id).Delete(&FileObject{}),
		"deleting file",
	)
}

func (s *store) CountFiles(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&FileObject{}).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting files: %w", err)
	}

	return count, nil
}

// --- Push subscriptions ---

// UpsertPushSubscription stores sub, re-assigning an existing endpoint to
// the new principal and keys.
func (s *store) UpsertPushSubscription(
	ctx context.Context, sub *PushSubscription,
) error {
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"p256dh", "auth", "principal_id", "updated_at",
			}),
		}).
		Create(sub).Error; err != nil {
		return translate(err, "upserting push subscription")
	}

	return nil
}

func (s *store) DeletePushSubscription(
	ctx context.Context, endpoint, principalID string,
) error {
	return deleted(
		s.db.WithContext(ctx).
			Where("endpoint = ? AND principal_id = ?", endpoint, principalID).
			Delete(&PushSubscription{}),
		"deleting push subscription",
	)
}

// PrunePushSubscriptions removes subscriptions last refreshed before the
// given time and returns how many were removed.
func (s *store) PrunePushSubscriptions(
	ctx context.Context, before time.Time,
) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("updated_at < ?", before.UTC()).
		Delete(&PushSubscription{})
	if result.Error != nil {
		return 0, fmt.Errorf("pruning push subscriptions: %w", result.Error)
	}

	return result.RowsAffected, nil
}
