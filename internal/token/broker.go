// Package token obtains and caches access tokens for the CRM. The provider
// issues company-scoped tokens from a rotating refresh token, and
// location-scoped tokens from a company token; both are cached in memory
// with an early-expiry buffer. Rotated refresh tokens are persisted before
// the broker returns, since the previous value is single-use.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clinicops/dealsync/internal/config"
	"github.com/clinicops/dealsync/internal/ghl"
	"github.com/clinicops/dealsync/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// expirySkew is subtracted from provider expiries so a token is refreshed
// before it can expire mid-call.
const expirySkew = 5 * time.Minute

// ReauthRequiredError means the tenant's credential is revoked and automatic
// refresh is suspended until an operator completes the interactive
// re-authorization flow. It is a hard stop, not a transient failure.
type ReauthRequiredError struct {
	TenantKey string
}

func (e *ReauthRequiredError) Error() string {
	return fmt.Sprintf("token: tenant %q requires re-authorization", e.TenantKey)
}

// IsReauthRequired reports whether err is a ReauthRequiredError.
func IsReauthRequired(err error) bool {
	var r *ReauthRequiredError
	return errors.As(err, &r)
}

type cached struct {
	token     string
	expiresAt time.Time
}

func (c cached) live(now time.Time) bool {
	return c.token != "" && now.Before(c.expiresAt.Add(-expirySkew))
}

// Broker caches company and location tokens per tenant and keeps the
// persisted TokenRecord in step with the provider's rotation.
type Broker struct {
	db       *gorm.DB
	client   *ghl.Client
	provider config.ProviderConfig
	logger   *zap.Logger

	mu       sync.Mutex
	tenantMu map[string]*sync.Mutex
	company  map[string]cached
	location map[string]cached
}

// NewBroker returns a Broker backed by the given store and CRM client.
func NewBroker(db *gorm.DB, client *ghl.Client, provider config.ProviderConfig, logger *zap.Logger) *Broker {
	return &Broker{
		db:       db,
		client:   client,
		provider: provider,
		logger:   logger,
		tenantMu: make(map[string]*sync.Mutex),
		company:  make(map[string]cached),
		location: make(map[string]cached),
	}
}

// lockTenant serializes refresh calls per tenant so overlapping callers
// cannot both spend the single-use refresh token.
func (b *Broker) lockTenant(key string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	mu, ok := b.tenantMu[key]
	if !ok {
		mu = &sync.Mutex{}
		b.tenantMu[key] = mu
	}
	return mu
}

func (b *Broker) getCompanyCache(key string) (cached, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.company[key]
	return c, ok && c.live(time.Now())
}

func (b *Broker) setCompanyCache(key string, c cached) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.company[key] = c
}

func (b *Broker) getLocationCache(key string) (cached, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.location[key]
	return c, ok && c.live(time.Now())
}

func (b *Broker) setLocationCache(key string, c cached) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.location[key] = c
}

// CompanyToken returns a live company-scoped access token for the tenant,
// refreshing through the provider when the cache and persisted token are
// both stale.
func (b *Broker) CompanyToken(ctx context.Context, tenantKey string) (string, error) {
	if c, ok := b.getCompanyCache(tenantKey); ok {
		return c.token, nil
	}

	mu := b.lockTenant(tenantKey)
	mu.Lock()
	defer mu.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	if c, ok := b.getCompanyCache(tenantKey); ok {
		return c.token, nil
	}

	rec, err := b.loadRecord(tenantKey)
	if err != nil {
		return "", err
	}

	if rec.NeedsReauth {
		return "", &ReauthRequiredError{TenantKey: tenantKey}
	}

	// The persisted access token may still be good even though the in-memory
	// cache was lost (process restart).
	now := time.Now()
	if rec.AccessToken != "" && rec.AccessExpiresAt != nil && now.Before(rec.AccessExpiresAt.Add(-expirySkew)) {
		b.setCompanyCache(tenantKey, cached{token: rec.AccessToken, expiresAt: *rec.AccessExpiresAt})
		return rec.AccessToken, nil
	}

	resp, err := b.client.RefreshCompanyToken(ctx, rec.RefreshToken)
	if err != nil {
		var apiErr *ghl.APIError
		if errors.As(err, &apiErr) && apiErr.AuthRevoked() {
			b.flagReauth(tenantKey, apiErr.Error())
			return "", &ReauthRequiredError{TenantKey: tenantKey}
		}
		return "", fmt.Errorf("token: refresh for tenant %q: %w", tenantKey, err)
	}

	expiresAt := now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	b.persistRotation(tenantKey, rec, resp, expiresAt)
	b.setCompanyCache(tenantKey, cached{token: resp.AccessToken, expiresAt: expiresAt})
	return resp.AccessToken, nil
}

// LocationToken returns a live location-scoped token for the tenant's
// configured clinic location, chaining through the company token.
func (b *Broker) LocationToken(ctx context.Context, tenant *config.TenantConfig) (string, error) {
	cacheKey := tenant.Key + "/" + tenant.LocationID
	if c, ok := b.getLocationCache(cacheKey); ok {
		return c.token, nil
	}

	companyToken, err := b.CompanyToken(ctx, tenant.Key)
	if err != nil {
		return "", err
	}

	companyID := tenant.CompanyID
	if companyID == "" {
		if rec, err := b.loadRecord(tenant.Key); err == nil {
			companyID = rec.CompanyID
		}
	}

	resp, err := b.client.LocationToken(ctx, companyToken, companyID, tenant.LocationID)
	if err != nil {
		return "", fmt.Errorf("token: location token for tenant %q: %w", tenant.Key, err)
	}

	expiresAt := time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	b.setLocationCache(cacheKey, cached{token: resp.AccessToken, expiresAt: expiresAt})
	return resp.AccessToken, nil
}

// loadRecord fetches the tenant's TokenRecord, synthesizing one from the
// bootstrap credential only when no row exists at all.
func (b *Broker) loadRecord(tenantKey string) (*models.TokenRecord, error) {
	var rec models.TokenRecord
	err := b.db.Where("tenant_key = ?", tenantKey).First(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("token: load record for tenant %q: %w", tenantKey, err)
	}
	if b.provider.BootstrapRefreshToken == "" {
		return nil, fmt.Errorf("token: no credential stored for tenant %q", tenantKey)
	}
	b.logger.Warn("token_bootstrap_credential_used", zap.String("tenant", tenantKey))
	return &models.TokenRecord{TenantKey: tenantKey, RefreshToken: b.provider.BootstrapRefreshToken}, nil
}

// persistRotation overwrites the stored credential with the provider's new
// pair. Persistence failure is logged but not returned: the in-memory token
// is still usable for this process's lifetime.
func (b *Broker) persistRotation(tenantKey string, rec *models.TokenRecord, resp *ghl.TokenResponse, expiresAt time.Time) {
	companyID := rec.CompanyID
	if resp.CompanyID != "" {
		companyID = resp.CompanyID
	}
	row := models.TokenRecord{
		TenantKey:       tenantKey,
		CompanyID:       companyID,
		RefreshToken:    resp.RefreshToken,
		AccessToken:     resp.AccessToken,
		AccessExpiresAt: &expiresAt,
		NeedsReauth:     false,
		LastError:       "",
	}
	err := b.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"company_id", "refresh_token", "access_token", "access_expires_at", "needs_reauth", "last_error", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		b.logger.Error("token_persist_failed", zap.String("tenant", tenantKey), zap.Error(err))
	}
}

// flagReauth marks the tenant as needing interactive re-authorization so no
// further automatic refreshes hammer a revoked credential. An upsert, not an
// update: a tenant running on the bootstrap credential has no row yet, and
// the flag must stick for that tenant too.
func (b *Broker) flagReauth(tenantKey, lastError string) {
	now := time.Now()
	row := models.TokenRecord{
		TenantKey:       tenantKey,
		NeedsReauth:     true,
		ReauthFlaggedAt: &now,
		LastError:       lastError,
	}
	err := b.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"needs_reauth", "reauth_flagged_at", "last_error", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		b.logger.Error("token_flag_reauth_failed", zap.String("tenant", tenantKey), zap.Error(err))
	}
	b.logger.Warn("token_reauth_required", zap.String("tenant", tenantKey), zap.String("cause", lastError))
}

// Reseed replaces the tenant's credential after an interactive
// re-authorization, clearing the needs_reauth flag and all cached tokens
// for the tenant.
func (b *Broker) Reseed(tenantKey, companyID, refreshToken, accessToken string, expiresAt time.Time) error {
	var expiry *time.Time
	if !expiresAt.IsZero() {
		expiry = &expiresAt
	}
	row := models.TokenRecord{
		TenantKey:       tenantKey,
		CompanyID:       companyID,
		RefreshToken:    refreshToken,
		AccessToken:     accessToken,
		AccessExpiresAt: expiry,
		NeedsReauth:     false,
		LastError:       "",
	}
	err := b.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"company_id", "refresh_token", "access_token", "access_expires_at", "needs_reauth", "reauth_flagged_at", "last_error", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("token: reseed tenant %q: %w", tenantKey, err)
	}

	b.mu.Lock()
	delete(b.company, tenantKey)
	for k := range b.location {
		if strings.HasPrefix(k, tenantKey+"/") {
			delete(b.location, k)
		}
	}
	b.mu.Unlock()
	return nil
}
