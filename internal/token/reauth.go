package token

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

func (b *Broker) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     b.provider.ClientID,
		ClientSecret: b.provider.ClientSecret,
		RedirectURL:  b.provider.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   b.provider.BaseURL + "/oauth/authorize",
			TokenURL:  b.provider.BaseURL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{
			"opportunities.readonly",
			"opportunities.write",
			"contacts.write",
		},
	}
}

// AuthCodeURL returns the provider consent URL for re-authorizing a tenant.
// The state value carries the tenant key through the redirect.
func (b *Broker) AuthCodeURL(state string) string {
	return b.oauthConfig().AuthCodeURL(state)
}

// CompleteReauth exchanges the callback code for a fresh credential pair and
// reseeds the tenant's TokenRecord, clearing needs_reauth.
func (b *Broker) CompleteReauth(ctx context.Context, tenantKey, code string) error {
	tok, err := b.oauthConfig().Exchange(ctx, code, oauth2.SetAuthURLParam("user_type", "Company"))
	if err != nil {
		return fmt.Errorf("token: exchange code for tenant %q: %w", tenantKey, err)
	}
	companyID, _ := tok.Extra("companyId").(string)
	return b.Reseed(tenantKey, companyID, tok.RefreshToken, tok.AccessToken, tok.Expiry)
}
