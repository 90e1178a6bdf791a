package models

import "time"

// Theme is one of the closed set of client themes.
type Theme string

const (
	ThemeDark       Theme = "dark"
	ThemeLight      Theme = "light"
	ThemeZenEmerald Theme = "zen-emerald"
	ThemeZenOcean   Theme = "zen-ocean"
)

// DefaultTheme is applied when a user registers.
const DefaultTheme = ThemeDark

// Valid reports whether t belongs to the closed theme set.
func (t Theme) Valid() bool {
	switch t {
	case ThemeDark, ThemeLight, ThemeZenEmerald, ThemeZenOcean:
		return true
	}
	return false
}

// Settings holds per-user preferences.
type Settings struct {
	Theme                Theme  `db:"theme" json:"theme"`
	Wallpaper            string `db:"wallpaper" json:"wallpaper"`
	NotificationsEnabled bool   `db:"notifications_enabled" json:"notifications_enabled"`
	VibrationsEnabled    bool   `db:"vibrations_enabled" json:"vibrations_enabled"`
}

// DefaultSettings returns the settings a freshly registered user starts with.
func DefaultSettings() Settings {
	return Settings{Theme: DefaultTheme, NotificationsEnabled: true, VibrationsEnabled: true}
}

// User is a registered account. Users are never deleted.
type User struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Phone     string    `db:"phone" json:"phone"`
	Bio       string    `db:"bio" json:"bio"`
	Avatar    string    `db:"avatar" json:"avatar"`
	Settings  Settings  `db:"settings" json:"settings"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SettingsPatch carries optional settings changes.
type SettingsPatch struct {
	Theme                *Theme  `json:"theme,omitempty"`
	Wallpaper            *string `json:"wallpaper,omitempty"`
	NotificationsEnabled *bool   `json:"notifications_enabled,omitempty"`
	VibrationsEnabled    *bool   `json:"vibrations_enabled,omitempty"`
}

// ProfilePatch carries optional profile changes. Nil fields are left untouched.
type ProfilePatch struct {
	Name     *string        `json:"name,omitempty"`
	Phone    *string        `json:"phone,omitempty"`
	Bio      *string        `json:"bio,omitempty"`
	Avatar   *string        `json:"avatar,omitempty"`
	Settings *SettingsPatch `json:"settings,omitempty"`
}
