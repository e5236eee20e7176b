package repository

import (
	"context"

	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"gorm.io/gorm"
)

// ProfileRepository defines read access to stored care profiles.
type ProfileRepository interface {
	GetProfileByPhone(ctx context.Context, phoneNumber string) (*domain.CareProfile, error)
	GetCallerName(ctx context.Context, phoneNumber string) (string, error)
	EnsureUser(ctx context.Context, phoneNumber string) (*domain.User, error)
}

// ConversationRepository defines persistence for completed calls.
type ConversationRepository interface {
	SaveConversation(ctx context.Context, conversation *domain.Conversation) error
	GetByCallSID(ctx context.Context, callSID string) (*domain.Conversation, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.Conversation, error)
}

// RepositoryManager combines all repositories
type RepositoryManager interface {
	Profiles() ProfileRepository
	Conversations() ConversationRepository

	// Transaction support
	WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connection
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM
type GormRepositoryManager struct {
	db               *gorm.DB
	profileRepo      *GormProfileRepository
	conversationRepo *GormConversationRepository
}

// NewGormRepositoryManager creates a new GORM repository manager
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:               db,
		profileRepo:      NewGormProfileRepository(db),
		conversationRepo: NewGormConversationRepository(db),
	}
}

// Profiles returns the care profile repository
func (m *GormRepositoryManager) Profiles() ProfileRepository {
	return m.profileRepo
}

// Conversations returns the conversation repository
func (m *GormRepositoryManager) Conversations() ConversationRepository {
	return m.conversationRepo
}

// WithTx executes a function within a database transaction
func (m *GormRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewGormRepositoryManager(tx))
	})
}

// Ping checks the database connection
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
