package auth

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const SectionSlug = "security"

type Settings struct {
	Enabled          bool   `glazed:"security-enabled"`
	ClientID         string `glazed:"security-client-id"`
	FrontendClientID string `glazed:"security-frontend-app-client-id"`
	OIDCDiscoveryURL string `glazed:"security-oidc-discovery-url"`
	Authority        string `glazed:"security-authority"`
	Logout           string `glazed:"security-logout"`
	LoginRedirect    string `glazed:"security-login-redirect"`
	LogoutRedirect   string `glazed:"security-logout-redirect"`
	TTLSeconds       int    `glazed:"security-ttl"`
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Bearer token security for the chat endpoints",
		schema.WithFields(
			fields.New("security-enabled", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Require a valid bearer JWT on the chat endpoints")),
			fields.New("security-client-id", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("API client id; tokens must carry the audience api://<client-id>")),
			fields.New("security-frontend-app-client-id", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Client id the frontend signs in with")),
			fields.New("security-oidc-discovery-url", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("OpenID Connect discovery document URL")),
			fields.New("security-authority", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Authority URL handed to the frontend")),
			fields.New("security-logout", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Logout URL handed to the frontend")),
			fields.New("security-login-redirect", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Login redirect URL handed to the frontend")),
			fields.New("security-logout-redirect", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Logout redirect URL handed to the frontend")),
			fields.New("security-ttl", fields.TypeInteger, fields.WithDefault(86400),
				fields.WithHelp("Seconds the signing keys are cached")),
		),
	)
}

// Config is what the frontend needs to sign users in.
type Config struct {
	Enabled        bool    `json:"enabled"`
	ClientID       *string `json:"clientId"`
	Authority      *string `json:"authority"`
	Logout         *string `json:"logout"`
	LoginRedirect  *string `json:"loginRedirect"`
	LogoutRedirect *string `json:"logoutRedirect"`
}

func (s Settings) Config() Config {
	if !s.Enabled {
		return Config{}
	}
	return Config{
		Enabled:        true,
		ClientID:       optional(s.FrontendClientID),
		Authority:      optional(s.Authority),
		Logout:         optional(s.Logout),
		LoginRedirect:  optional(s.LoginRedirect),
		LogoutRedirect: optional(s.LogoutRedirect),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
