package auth

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Identity names the user a grant was issued to. Fields are empty when the
// token response does not carry them.
type Identity struct {
	OrgID    string
	UserID   string
	Username string
}

// String renders the most specific name available.
func (i Identity) String() string {
	switch {
	case i.Username != "":
		return i.Username
	case i.UserID != "":
		return i.OrgID + "/" + i.UserID
	default:
		return "unknown user"
	}
}

// identityFromToken reads the identity URL ("id") and, when the openid scope
// was granted, the id_token claims. The id_token is used for display only
// and its signature is not checked.
func identityFromToken(tok *oauth2.Token) Identity {
	var id Identity
	if raw, ok := tok.Extra("id").(string); ok {
		id.OrgID, id.UserID = parseIdentityURL(raw)
	}

	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return id
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		slog.Debug("ignoring unreadable id_token", "error", err)
		return id
	}
	if name, ok := claims["preferred_username"].(string); ok {
		id.Username = name
	}
	if id.UserID == "" {
		if sub, err := claims.GetSubject(); err == nil {
			id.OrgID, id.UserID = parseIdentityURL(sub)
		}
	}
	return id
}

// parseIdentityURL splits ".../id/<org>/<user>" into its ids.
func parseIdentityURL(raw string) (org, user string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[len(parts)-3] != "id" {
		return "", ""
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}
