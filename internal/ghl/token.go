package ghl

import (
	"context"
	"net/url"
)

// TokenResponse is the provider's reply to either token endpoint. The
// refresh token in a company-token reply replaces the one that was sent;
// the old value is dead the moment this response arrives.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	CompanyID    string `json:"companyId"`
	LocationID   string `json:"locationId"`
}

// RefreshCompanyToken exchanges a refresh token for a new company-scoped
// access token and a new refresh token.
func (c *Client) RefreshCompanyToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"user_type":     {"Company"},
	}
	var out TokenResponse
	if err := c.doForm(ctx, "/oauth/token", "", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LocationToken exchanges a company access token for a location-scoped one.
// Location tokens do not rotate anything; they simply expire.
func (c *Client) LocationToken(ctx context.Context, companyToken, companyID, locationID string) (*TokenResponse, error) {
	form := url.Values{
		"companyId":  {companyID},
		"locationId": {locationID},
	}
	var out TokenResponse
	if err := c.doForm(ctx, "/oauth/locationToken", companyToken, form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
