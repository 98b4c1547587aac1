package schema

import (
	"strings"
	"time"
)

// UserSettings holds per-user display and notification preferences.
type UserSettings struct {
	PreferredUnits          string   `json:"preferredUnits"`
	NotificationPreferences []string `json:"notificationPreferences"`
}

// UserRecord represents a person whose activities and emissions are tracked.
type UserRecord struct {
	ID               string       `json:"id,omitempty"`
	Name             string       `json:"name"`
	Email            string       `json:"email"`
	RegistrationDate time.Time    `json:"registrationDate"`
	Location         string       `json:"location,omitempty"`
	UserSettings     UserSettings `json:"userSettings"`
}

func (u UserRecord) Validate() error {
	if err := required("name", u.Name); err != nil {
		return err
	}
	if err := required("email", u.Email); err != nil {
		return err
	}
	if !strings.Contains(u.Email, "@") {
		return invalid("email %q is not an address", u.Email)
	}
	if u.RegistrationDate.IsZero() {
		return invalid("registrationDate is required")
	}
	return nil
}

func (u UserRecord) Fields() map[string]any {
	prefs := make([]any, 0, len(u.UserSettings.NotificationPreferences))
	for _, p := range u.UserSettings.NotificationPreferences {
		prefs = append(prefs, p)
	}
	return map[string]any{
		"name":             u.Name,
		"email":            u.Email,
		"registrationDate": u.RegistrationDate,
		"location":         u.Location,
		"userSettings": map[string]any{
			"preferredUnits":          u.UserSettings.PreferredUnits,
			"notificationPreferences": prefs,
		},
	}
}

func (u UserRecord) WithDefaults(now time.Time) UserRecord {
	if u.UserSettings.PreferredUnits == "" {
		u.UserSettings.PreferredUnits = "metric"
	}
	u.RegistrationDate = orNow(u.RegistrationDate, now)
	return u
}
