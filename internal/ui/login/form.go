// Package login builds the sign-in form used by the login command.
package login

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/huh"
)

// Fields holds the form values. They live behind a pointer so huh's
// Value bindings stay valid.
type Fields struct {
	BaseURL   string
	SocketURL string
	Token     string
}

// NewForm builds the sign-in form. Fields pre-filled in f are shown as
// defaults.
func NewForm(f *Fields) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API URL").
				Description("Base URL of the logbook REST API").
				Placeholder("https://logbook.example.com/api").
				Value(&f.BaseURL).
				Validate(validateURL("http", "https")),
			huh.NewInput().
				Title("Notification socket").
				Description("WebSocket endpoint for live notifications").
				Placeholder("wss://logbook.example.com/ws/notifications/").
				Value(&f.SocketURL).
				Validate(validateURL("ws", "wss")),
			huh.NewInput().
				Title("Session token").
				Description("Copy it from your profile page on the web app").
				EchoMode(huh.EchoModePassword).
				Value(&f.Token).
				Validate(validateRequired("Token")),
		),
	).WithWidth(72)
}

// Normalize trims whitespace from every field.
func (f *Fields) Normalize() {
	f.BaseURL = strings.TrimRight(strings.TrimSpace(f.BaseURL), "/")
	f.SocketURL = strings.TrimSpace(f.SocketURL)
	f.Token = strings.TrimSpace(f.Token)
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateURL(schemes ...string) func(string) error {
	return func(s string) error {
		s = strings.TrimSpace(s)
		if s == "" {
			return fmt.Errorf("URL is required")
		}
		parsed, err := url.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid URL: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("URL must include scheme and host (e.g., %s://example.com)", schemes[0])
		}
		for _, scheme := range schemes {
			if parsed.Scheme == scheme {
				return nil
			}
		}
		return fmt.Errorf("URL scheme must be one of %s", strings.Join(schemes, ", "))
	}
}
