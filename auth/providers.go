package auth

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"dealerscan/config"
)

const sheetsScope = "https://www.googleapis.com/auth/spreadsheets"

// GoogleOAuthConfig returns the refreshable config for the sheets client, or
// nil when no client credentials are configured.
func GoogleOAuthConfig(cfg config.GoogleConfig) *oauth2.Config {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     endpoints.Google,
		Scopes:       []string{sheetsScope},
	}
}
