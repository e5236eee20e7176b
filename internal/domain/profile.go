package domain

import (
	"time"
)

// User represents an account holder (the family member who set up check-in
// calls). A row is created on first contact if none exists for the number.
type User struct {
	ID          string    `json:"id" db:"id" gorm:"column:id;primaryKey"`
	Name        string    `json:"name" db:"name" gorm:"column:name"`
	PhoneNumber string    `json:"phone_number" db:"phone_number" gorm:"column:phone_number;unique"`
	Timezone    string    `json:"timezone" db:"timezone" gorm:"column:timezone"`
	CreatedAt   time.Time `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (User) TableName() string {
	return "users"
}

// LovedOne represents the person the check-in calls are about.
type LovedOne struct {
	ID           string    `json:"id" db:"id" gorm:"column:id;primaryKey"`
	UserID       string    `json:"user_id" db:"user_id" gorm:"column:user_id;index"`
	Name         string    `json:"name" db:"name" gorm:"column:name"`
	Nickname     string    `json:"nickname" db:"nickname" gorm:"column:nickname"`
	Gender       string    `json:"gender" db:"gender" gorm:"column:gender"`
	Relationship string    `json:"relationship" db:"relationship" gorm:"column:relationship"`
	CreatedAt    time.Time `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (LovedOne) TableName() string {
	return "loved_ones"
}

// Medication is a single medication entry with the time of day it is taken.
type Medication struct {
	ID         string    `json:"id" db:"id" gorm:"column:id;primaryKey"`
	LovedOneID string    `json:"loved_one_id" db:"loved_one_id" gorm:"column:loved_one_id;index"`
	Name       string    `json:"name" db:"name" gorm:"column:name"`
	Dosage     string    `json:"dosage" db:"dosage" gorm:"column:dosage"`
	TimeOfDay  string    `json:"time_of_day" db:"time_of_day" gorm:"column:time_of_day"` // morning, afternoon, evening
	CreatedAt  time.Time `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (Medication) TableName() string {
	return "medications"
}

// CallPreferences holds per-user call tuning and checklist toggles.
type CallPreferences struct {
	ID                  string    `json:"id" db:"id" gorm:"column:id;primaryKey"`
	UserID              string    `json:"user_id" db:"user_id" gorm:"column:user_id;unique"`
	CallDurationMinutes int       `json:"call_duration_minutes" db:"call_duration_minutes" gorm:"column:call_duration_minutes"`
	VoiceSpeed          string    `json:"voice_speed" db:"voice_speed" gorm:"column:voice_speed"`
	AskAboutMedications bool      `json:"ask_about_medications" db:"ask_about_medications" gorm:"column:ask_about_medications"`
	AskAboutMeals       bool      `json:"ask_about_meals" db:"ask_about_meals" gorm:"column:ask_about_meals"`
	AskAboutMood        bool      `json:"ask_about_mood" db:"ask_about_mood" gorm:"column:ask_about_mood"`
	AskAboutSleep       bool      `json:"ask_about_sleep" db:"ask_about_sleep" gorm:"column:ask_about_sleep"`
	CreatedAt           time.Time `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (CallPreferences) TableName() string {
	return "call_preferences"
}

// NotificationSettings controls which post-call alerts the user receives.
type NotificationSettings struct {
	ID              string    `json:"id" db:"id" gorm:"column:id;primaryKey"`
	UserID          string    `json:"user_id" db:"user_id" gorm:"column:user_id;unique"`
	NotifyOnMissed  bool      `json:"notify_on_missed" db:"notify_on_missed" gorm:"column:notify_on_missed"`
	NotifyOnConcern bool      `json:"notify_on_concern" db:"notify_on_concern" gorm:"column:notify_on_concern"`
	DailySummary    bool      `json:"daily_summary" db:"daily_summary" gorm:"column:daily_summary"`
	CreatedAt       time.Time `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (NotificationSettings) TableName() string {
	return "notification_settings"
}

// Appointment is an upcoming event the agent can remind the loved one about.
type Appointment struct {
	ID          string    `json:"id" db:"id" gorm:"column:id;primaryKey"`
	UserID      string    `json:"user_id" db:"user_id" gorm:"column:user_id;index"`
	Title       string    `json:"title" db:"title" gorm:"column:title"`
	Location    string    `json:"location" db:"location" gorm:"column:location"`
	ScheduledAt time.Time `json:"scheduled_at" db:"scheduled_at" gorm:"column:scheduled_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (Appointment) TableName() string {
	return "appointments"
}

// CareProfile aggregates everything the agent needs to know about a caller.
// Resolution never fails hard: a missing or unreadable profile yields
// FallbackProfile so the call can proceed with generic context.
type CareProfile struct {
	User          User                 `json:"user"`
	LovedOne      LovedOne             `json:"loved_one"`
	Medications   []Medication         `json:"medications"`
	Preferences   CallPreferences      `json:"preferences"`
	Notifications NotificationSettings `json:"notifications"`
	Appointments  []Appointment        `json:"appointments"`
	Fallback      bool                 `json:"fallback"`
}

// CallerName returns the display name used to greet the caller.
func (p *CareProfile) CallerName() string {
	if p == nil || p.User.Name == "" {
		return "Valued Customer"
	}
	return p.User.Name
}

// FallbackProfile is the deterministic profile used when resolution cannot
// produce a stored one. Same shape every time so agent behavior is stable.
func FallbackProfile(phoneNumber string) *CareProfile {
	return &CareProfile{
		User: User{
			Name:        "Valued Customer",
			PhoneNumber: phoneNumber,
		},
		LovedOne: LovedOne{
			Name: "your loved one",
		},
		Preferences: CallPreferences{
			CallDurationMinutes: 5,
			VoiceSpeed:          "normal",
			AskAboutMedications: true,
			AskAboutMeals:       true,
			AskAboutMood:        true,
			AskAboutSleep:       true,
		},
		Notifications: NotificationSettings{
			NotifyOnMissed:  true,
			NotifyOnConcern: true,
		},
		Fallback: true,
	}
}
