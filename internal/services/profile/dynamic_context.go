package profile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/carelinkhq/carecall-voice-service/internal/domain"
)

// TimeOfDay buckets a clock time the way the agent prompt expects.
func TimeOfDay(now time.Time) string {
	switch hour := now.Hour(); {
	case hour < 12:
		return "morning"
	case hour < 17:
		return "afternoon"
	default:
		return "evening"
	}
}

// BuildDynamicVariables flattens a care profile into the dynamic variable
// map injected at session start. Every key is always present so the agent
// prompt never sees an unresolved placeholder.
func BuildDynamicVariables(prof *domain.CareProfile, now time.Time) map[string]string {
	if prof == nil {
		prof = domain.FallbackProfile("")
	}

	vars := map[string]string{
		"caller_name":           prof.CallerName(),
		"loved_one_name":        defaultString(prof.LovedOne.Name, "your loved one"),
		"loved_one_nickname":    defaultString(prof.LovedOne.Nickname, prof.LovedOne.Name),
		"loved_one_gender":      defaultString(prof.LovedOne.Gender, "unspecified"),
		"relationship":          defaultString(prof.LovedOne.Relationship, "family member"),
		"medications_morning":   medicationsFor(prof.Medications, "morning"),
		"medications_afternoon": medicationsFor(prof.Medications, "afternoon"),
		"medications_evening":   medicationsFor(prof.Medications, "evening"),
		"call_duration_minutes": strconv.Itoa(defaultInt(prof.Preferences.CallDurationMinutes, 5)),
		"voice_speed":           defaultString(prof.Preferences.VoiceSpeed, "normal"),
		"ask_about_medications": strconv.FormatBool(prof.Preferences.AskAboutMedications),
		"ask_about_meals":       strconv.FormatBool(prof.Preferences.AskAboutMeals),
		"ask_about_mood":        strconv.FormatBool(prof.Preferences.AskAboutMood),
		"ask_about_sleep":       strconv.FormatBool(prof.Preferences.AskAboutSleep),
		"notify_on_missed":      strconv.FormatBool(prof.Notifications.NotifyOnMissed),
		"notify_on_concern":     strconv.FormatBool(prof.Notifications.NotifyOnConcern),
		"upcoming_appointments": appointmentSummary(prof.Appointments, now),
		"time_of_day":           TimeOfDay(now),
	}
	return vars
}

func medicationsFor(meds []domain.Medication, timeOfDay string) string {
	var entries []string
	for _, med := range meds {
		if !strings.EqualFold(med.TimeOfDay, timeOfDay) {
			continue
		}
		if med.Dosage != "" {
			entries = append(entries, fmt.Sprintf("%s (%s)", med.Name, med.Dosage))
		} else {
			entries = append(entries, med.Name)
		}
	}
	if len(entries) == 0 {
		return "none"
	}
	return strings.Join(entries, ", ")
}

// appointmentSummary lists appointments in the next seven days, soonest
// first, as a short prompt-friendly string.
func appointmentSummary(appointments []domain.Appointment, now time.Time) string {
	horizon := now.Add(7 * 24 * time.Hour)

	sorted := make([]domain.Appointment, len(appointments))
	copy(sorted, appointments)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ScheduledAt.Before(sorted[j].ScheduledAt)
	})

	var entries []string
	for _, appt := range sorted {
		if appt.ScheduledAt.Before(now) || appt.ScheduledAt.After(horizon) {
			continue
		}
		entry := fmt.Sprintf("%s on %s", appt.Title, appt.ScheduledAt.Format("Monday at 3:04 PM"))
		if appt.Location != "" {
			entry += " at " + appt.Location
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return "none scheduled"
	}
	return strings.Join(entries, "; ")
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func defaultInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
