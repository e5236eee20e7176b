package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormConversationRepository persists completed call records.
type GormConversationRepository struct {
	db       *gorm.DB
	profiles *GormProfileRepository
}

// NewGormConversationRepository creates a new conversation repository
func NewGormConversationRepository(db *gorm.DB) *GormConversationRepository {
	return &GormConversationRepository{
		db:       db,
		profiles: NewGormProfileRepository(db),
	}
}

// SaveConversation stores a completed call record. The user row is created
// on first contact if the contact number is unknown. Saving the same call
// SID twice keeps the first record.
func (r *GormConversationRepository) SaveConversation(ctx context.Context, conversation *domain.Conversation) error {
	if conversation.CallSID == "" {
		return fmt.Errorf("call sid cannot be empty")
	}

	existing, err := r.GetByCallSID(ctx, conversation.CallSID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	if conversation.UserID == "" && conversation.ContactNumber != "" {
		user, err := r.profiles.EnsureUser(ctx, conversation.ContactNumber)
		if err != nil {
			return fmt.Errorf("failed to ensure user for conversation: %w", err)
		}
		conversation.UserID = user.ID
	}

	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	now := time.Now()
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = now
	}
	conversation.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(conversation).Error; err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetByCallSID retrieves a conversation by its Twilio call SID.
func (r *GormConversationRepository) GetByCallSID(ctx context.Context, callSID string) (*domain.Conversation, error) {
	var conversation domain.Conversation
	if err := r.db.WithContext(ctx).Where("call_sid = ?", callSID).First(&conversation).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conversation, nil
}

// ListByUser returns a user's most recent conversations.
func (r *GormConversationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var conversations []*domain.Conversation
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at desc").Limit(limit).Find(&conversations).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}
