package app

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/charlesng35/boardsync/internal/models"
)

// ResolveAuthor derives the local author identity from the configuration.
// Explicit user_id/display_name win; otherwise the values are read from the
// session token claims. The token is not verified here: the backend is the
// authority, the claims only label locally-originated records.
func ResolveAuthor(cfg IdentityConfig) (models.Author, error) {
	author := models.Author{
		ID:   strings.TrimSpace(cfg.UserID),
		Name: strings.TrimSpace(cfg.DisplayName),
	}

	if author.ID != "" {
		if author.Name == "" {
			author.Name = author.ID
		}
		return author, nil
	}

	if cfg.Token == "" {
		return models.Author{}, errors.New("identity: user_id or token is required")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(cfg.Token, claims); err != nil {
		return models.Author{}, errors.New("identity: token is not a valid JWT")
	}

	if sub, err := claims.GetSubject(); err == nil {
		author.ID = sub
	}
	if author.ID == "" {
		return models.Author{}, errors.New("identity: token carries no subject claim")
	}

	if author.Name == "" {
		for _, key := range []string{"preferred_username", "name"} {
			if value, ok := claims[key].(string); ok && value != "" {
				author.Name = value
				break
			}
		}
	}
	if author.Name == "" {
		author.Name = author.ID
	}
	return author, nil
}
