package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormProfileRepository loads care profiles from Postgres.
type GormProfileRepository struct {
	db *gorm.DB
}

// NewGormProfileRepository creates a new profile repository
func NewGormProfileRepository(db *gorm.DB) *GormProfileRepository {
	return &GormProfileRepository{db: db}
}

// GetProfileByPhone assembles the full care profile for a phone number.
// Returns (nil, nil) when no user is stored for the number; the resolver
// turns that into the fallback profile.
func (r *GormProfileRepository) GetProfileByPhone(ctx context.Context, phoneNumber string) (*domain.CareProfile, error) {
	var user domain.User
	if err := r.db.WithContext(ctx).Where("phone_number = ?", phoneNumber).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by phone: %w", err)
	}

	prof := &domain.CareProfile{User: user}

	var lovedOne domain.LovedOne
	err := r.db.WithContext(ctx).Where("user_id = ?", user.ID).First(&lovedOne).Error
	switch err {
	case nil:
		prof.LovedOne = lovedOne
	case gorm.ErrRecordNotFound:
		// profile without a loved one entry still resolves
	default:
		return nil, fmt.Errorf("failed to get loved one: %w", err)
	}

	if prof.LovedOne.ID != "" {
		if err := r.db.WithContext(ctx).Where("loved_one_id = ?", prof.LovedOne.ID).
			Find(&prof.Medications).Error; err != nil {
			return nil, fmt.Errorf("failed to get medications: %w", err)
		}
	}

	var prefs domain.CallPreferences
	err = r.db.WithContext(ctx).Where("user_id = ?", user.ID).First(&prefs).Error
	switch err {
	case nil:
		prof.Preferences = prefs
	case gorm.ErrRecordNotFound:
		prof.Preferences = domain.FallbackProfile(phoneNumber).Preferences
	default:
		return nil, fmt.Errorf("failed to get call preferences: %w", err)
	}

	var notif domain.NotificationSettings
	err = r.db.WithContext(ctx).Where("user_id = ?", user.ID).First(&notif).Error
	switch err {
	case nil:
		prof.Notifications = notif
	case gorm.ErrRecordNotFound:
		prof.Notifications = domain.FallbackProfile(phoneNumber).Notifications
	default:
		return nil, fmt.Errorf("failed to get notification settings: %w", err)
	}

	if err := r.db.WithContext(ctx).Where("user_id = ? AND scheduled_at >= ?", user.ID, time.Now()).
		Order("scheduled_at asc").Limit(10).Find(&prof.Appointments).Error; err != nil {
		return nil, fmt.Errorf("failed to get appointments: %w", err)
	}

	return prof, nil
}

// GetCallerName returns the stored display name for a phone number, empty
// when unknown.
func (r *GormProfileRepository) GetCallerName(ctx context.Context, phoneNumber string) (string, error) {
	var user domain.User
	if err := r.db.WithContext(ctx).Select("name").Where("phone_number = ?", phoneNumber).
		First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", fmt.Errorf("failed to get caller name: %w", err)
	}
	return user.Name, nil
}

// EnsureUser returns the user row for a phone number, creating one on
// first contact.
func (r *GormProfileRepository) EnsureUser(ctx context.Context, phoneNumber string) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).Where("phone_number = ?", phoneNumber).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	now := time.Now()
	user = domain.User{
		ID:          uuid.New().String(),
		PhoneNumber: phoneNumber,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}
