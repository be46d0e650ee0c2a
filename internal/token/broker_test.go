package token

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/clinicops/dealsync/internal/config"
	"github.com/clinicops/dealsync/internal/ghl"
	"github.com/clinicops/dealsync/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB creates an in-memory SQLite database with the token table.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.TokenRecord{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// fakeProvider is a stub CRM token endpoint. Each refresh rotates the
// refresh token: rt-1, rt-2, ...
type fakeProvider struct {
	mu            sync.Mutex
	refreshCalls  int
	locationCalls int
	lastRefresh   string
	refreshStatus int
	refreshBody   string
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		r.ParseForm()
		f.refreshCalls++
		f.lastRefresh = r.PostFormValue("refresh_token")
		if f.refreshStatus != 0 {
			w.WriteHeader(f.refreshStatus)
			fmt.Fprint(w, f.refreshBody)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"at-%d","refresh_token":"rt-%d","expires_in":3600,"companyId":"comp-1"}`,
			f.refreshCalls, f.refreshCalls)
	})
	mux.HandleFunc("/oauth/locationToken", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.locationCalls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"loc-at-%d","expires_in":3600,"locationId":"loc-1"}`, f.locationCalls)
	})
	return mux
}

func (f *fakeProvider) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls, f.locationCalls
}

func newTestBroker(t *testing.T, db *gorm.DB, baseURL string, provider config.ProviderConfig) *Broker {
	t.Helper()
	provider.BaseURL = baseURL
	if provider.ClientID == "" {
		provider.ClientID = "cid"
	}
	if provider.ClientSecret == "" {
		provider.ClientSecret = "csecret"
	}
	client := ghl.New(ghl.Config{
		BaseURL:      baseURL,
		ClientID:     provider.ClientID,
		ClientSecret: provider.ClientSecret,
	})
	return NewBroker(db, client, provider, zap.NewNop())
}

func seedRecord(t *testing.T, db *gorm.DB, rec models.TokenRecord) {
	t.Helper()
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("seed token record: %v", err)
	}
}

func TestCompanyToken_RefreshPersistsRotation(t *testing.T) {
	fake := &fakeProvider{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	db := testDB(t)
	seedRecord(t, db, models.TokenRecord{TenantKey: "t1", RefreshToken: "rt-0"})
	broker := newTestBroker(t, db, srv.URL, config.ProviderConfig{})

	tok, err := broker.CompanyToken(context.Background(), "t1")
	if err != nil {
		t.Fatalf("CompanyToken() error: %v", err)
	}
	if tok != "at-1" {
		t.Errorf("token = %q, want at-1", tok)
	}

	var rec models.TokenRecord
	if err := db.First(&rec, "tenant_key = ?", "t1").Error; err != nil {
		t.Fatal(err)
	}
	if rec.RefreshToken != "rt-1" {
		t.Errorf("persisted refresh token = %q, want rt-1 (rotated)", rec.RefreshToken)
	}
	if rec.AccessToken != "at-1" || rec.AccessExpiresAt == nil {
		t.Errorf("persisted access token = %q, expiry = %v", rec.AccessToken, rec.AccessExpiresAt)
	}
}

func TestCompanyToken_CacheHitSkipsProvider(t *testing.T) {
	fake := &fakeProvider{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	db := testDB(t)
	seedRecord(t, db, models.TokenRecord{TenantKey: "t1", RefreshToken: "rt-0"})
	broker := newTestBroker(t, db, srv.URL, config.ProviderConfig{})

	for i := 0; i < 3; i++ {
		if _, err := broker.CompanyToken(context.Background(), "t1"); err != nil {
			t.Fatalf("CompanyToken() call %d: %v", i, err)
		}
	}
	if refreshes, _ := fake.counts(); refreshes != 1 {
		t.Errorf("provider refresh calls = %d, want 1", refreshes)
	}
}

func TestCompanyToken_PersistedAccessTokenSurvivesRestart(t *testing.T) {
	fake := &fakeProvider{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	db := testDB(t)
	expiry := time.Now().Add(time.Hour)
	seedRecord(t, db, models.TokenRecord{
		TenantKey:       "t1",
		RefreshToken:    "rt-0",
		AccessToken:     "at-stored",
		AccessExpiresAt: &expiry,
	})

	// A fresh broker models a process restart: the in-memory cache is gone
	// but the persisted access token is still live.
	broker := newTestBroker(t, db, srv.URL, config.ProviderConfig{})
	tok, err := broker.CompanyToken(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if tok != "at-stored" {
		t.Errorf("token = %q, want persisted at-stored", tok)
	}
	if refreshes, _ := fake.counts(); refreshes != 0 {
		t.Errorf("provider refresh calls = %d, want 0", refreshes)
	}
}

func TestCompanyToken_RotationAcrossRefreshes(t *testing.T) {
	fake := &fakeProvider{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	db := testDB(t)
	seedRecord(t, db, models.TokenRecord{TenantKey: "t1", RefreshToken: "rt-0"})

	// Force a fresh refresh each round: new broker, expired stored access
	// token. The persisted refresh token must always be the latest.
	for i := 1; i <= 3; i++ {
		broker := newTestBroker(t, db, srv.URL, config.ProviderConfig{})
		if _, err := broker.CompanyToken(context.Background(), "t1"); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}

		var rec models.TokenRecord
		if err := db.First(&rec, "tenant_key = ?", "t1").Error; err != nil {
			t.Fatal(err)
		}
		if want := fmt.Sprintf("rt-%d", i); rec.RefreshToken != want {
			t.Errorf("after refresh %d: persisted refresh = %q, want %q", i, rec.RefreshToken, want)
		}

		past := time.Now().Add(-time.Hour)
		if err := db.Model(&models.TokenRecord{}).Where("tenant_key = ?", "t1").
			Update("access_expires_at", past).Error; err != nil {
			t.Fatal(err)
		}
	}

	if fake.lastRefresh != "rt-2" {
		t.Errorf("provider last saw refresh token %q, want rt-2 (never a stale one)", fake.lastRefresh)
	}
}

func TestCompanyToken_NeedsReauthSticky(t *testing.T) {
	fake := &fakeProvider{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	db := testDB(t)
	seedRecord(t, db, models.TokenRecord{TenantKey: "t1", RefreshToken: "rt-0", NeedsReauth: true})
	broker := newTestBroker(t, db, srv.URL, config.ProviderConfig{})

	for i := 0; i < 2; i++ {
		_, err := broker.CompanyToken(context.Background(), "t1")
		if !IsReauthRequired(err) {
			t.Fatalf("call %d: err = %v, want ReauthRequired", i, err)
		}
	}
	if refreshes, _ := fake.counts(); refreshes != 0 {
		t.Errorf("provider refresh calls = %d, want 0 for flagged tenant", refreshes)
	}
}

func TestCompanyToken_RevokedGrantFlagsReauth(t *testing.T) {
	fake := &fakeProvider{refreshStatus: http.StatusUnauthorized, refreshBody: `{"error":"invalid_grant"}`}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	db := testDB(t)
	seedRecord(t, db, models.TokenRecord{TenantKey: "t1", RefreshToken: "rt-0"})
	broker := newTestBroker(t, db, srv.URL, config.ProviderConfig{})

	_, err := broker.CompanyToken(context.Background(), "t1")
	if !IsReauthRequired(err) {
		t.Fatalf("err = %v, want ReauthRequired", err)
	}

	var rec models.TokenRecord
	if err := db.First(&rec, "tenant_key = ?", "t1").Error; err != nil {
		t.Fatal(err)
	}
	if !rec.NeedsReauth || rec.ReauthFlaggedAt == nil {
		t.Errorf("record not flagged: needsReauth=%v flaggedAt=%v", rec.NeedsReauth, rec.ReauthFlaggedAt)
	}

	// Sticky: the next call short-circuits without touching the provider.
	if _, err := broker.CompanyToken(context.Background(), "t1"); !IsReauthRequired(err) {
		t.Fatalf("second call err = %v, want ReauthRequired", err)
	}
	if refreshes, _ := fake.counts(); refreshes != 1 {
		t.Errorf("provider refresh calls = %d, want 1", refreshes)
	}
}

func TestCompanyToken_TransientErrorIsNotReauth(t *testing.T) {
	fake := &fakeProvider{refreshStatus: http.StatusInternalServerError, refreshBody: "boom"}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	db := testDB(t)
	seedRecord(t, db, models.TokenRecord{TenantKey: "t1", RefreshToken: "rt-0"})
	broker := newTestBroker(t, db, srv.URL, config.ProviderConfig{})

	_, err := broker.CompanyToken(context.Background(), "t1")
	if err == nil {
		t.Fatal("expected error from 500")
	}
	if IsReauthRequired(err) {
		t.Fatalf("err = %v, should not be ReauthRequired", err)
	}

	var rec models.TokenRecord
	if err := db.First(&rec, "tenant_key = ?", "t1").Error; err != nil {
		t.Fatal(err)
	}
	if rec.NeedsReauth {
		t.Error("transient error must not flag needs_reauth")
	}
}

func TestCompanyToken_MissingRecord(t *testing.T) {
	fake := &fakeProvider{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	broker := newTestBroker(t, testDB(t), srv.URL, config.ProviderConfig{})
	if _, err := broker.CompanyToken(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for tenant with no stored credential")
	}
}

func TestCompanyToken_BootstrapFallback(t *testing.T) {
	fake := &fakeProvider{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	db := testDB(t)
	broker := newTestBroker(t, db, srv.URL, config.ProviderConfig{BootstrapRefreshToken: "rt-bootstrap"})

	tok, err := broker.CompanyToken(context.Background(), "t1")
	if err != nil {
		t.Fatalf("CompanyToken() error: %v", err)
	}
	if tok != "at-1" {
		t.Errorf("token = %q", tok)
	}
	if fake.lastRefresh != "rt-bootstrap" {
		t.Errorf("provider saw refresh token %q, want bootstrap credential", fake.lastRefresh)
	}

	// The rotation is persisted, so the bootstrap value is never reused.
	var rec models.TokenRecord
	if err := db.First(&rec, "tenant_key = ?", "t1").Error; err != nil {
		t.Fatal(err)
	}
	if rec.RefreshToken != "rt-1" {
		t.Errorf("persisted refresh = %q, want rt-1", rec.RefreshToken)
	}
}

func TestCompanyToken_BootstrapRevokedGrantIsSticky(t *testing.T) {
	fake := &fakeProvider{refreshStatus: http.StatusBadRequest, refreshBody: `{"error":"invalid_grant"}`}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	// No stored record: the broker runs on the bootstrap credential, and the
	// revocation must still persist a flagged row.
	db := testDB(t)
	broker := newTestBroker(t, db, srv.URL, config.ProviderConfig{BootstrapRefreshToken: "rt-revoked"})

	_, err := broker.CompanyToken(context.Background(), "t1")
	if !IsReauthRequired(err) {
		t.Fatalf("err = %v, want ReauthRequired", err)
	}

	var rec models.TokenRecord
	if err := db.First(&rec, "tenant_key = ?", "t1").Error; err != nil {
		t.Fatalf("no flagged row persisted: %v", err)
	}
	if !rec.NeedsReauth || rec.ReauthFlaggedAt == nil {
		t.Errorf("row not flagged: needsReauth=%v flaggedAt=%v", rec.NeedsReauth, rec.ReauthFlaggedAt)
	}

	// Sticky: later calls must not retry the revoked bootstrap credential.
	if _, err := broker.CompanyToken(context.Background(), "t1"); !IsReauthRequired(err) {
		t.Fatalf("second call err = %v, want ReauthRequired", err)
	}
	if refreshes, _ := fake.counts(); refreshes != 1 {
		t.Errorf("provider refresh calls = %d, want 1", refreshes)
	}
}

func TestLocationToken_ChainsAndCaches(t *testing.T) {
	fake := &fakeProvider{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	db := testDB(t)
	seedRecord(t, db, models.TokenRecord{TenantKey: "t1", CompanyID: "comp-1", RefreshToken: "rt-0"})
	broker := newTestBroker(t, db, srv.URL, config.ProviderConfig{})

	tenant := &config.TenantConfig{Key: "t1", CompanyID: "comp-1", LocationID: "loc-1", Pipeline: "Sales"}

	tok, err := broker.LocationToken(context.Background(), tenant)
	if err != nil {
		t.Fatalf("LocationToken() error: %v", err)
	}
	if tok != "loc-at-1" {
		t.Errorf("location token = %q, want loc-at-1", tok)
	}

	if _, err := broker.LocationToken(context.Background(), tenant); err != nil {
		t.Fatal(err)
	}
	refreshes, locations := fake.counts()
	if refreshes != 1 || locations != 1 {
		t.Errorf("provider calls = %d refresh, %d location; want 1 each", refreshes, locations)
	}
}

func TestReseed_ClearsFlagAndCaches(t *testing.T) {
	fake := &fakeProvider{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	db := testDB(t)
	seedRecord(t, db, models.TokenRecord{TenantKey: "t1", RefreshToken: "rt-dead", NeedsReauth: true})
	broker := newTestBroker(t, db, srv.URL, config.ProviderConfig{})

	if err := broker.Reseed("t1", "comp-1", "rt-new", "", time.Time{}); err != nil {
		t.Fatalf("Reseed() error: %v", err)
	}

	var rec models.TokenRecord
	if err := db.First(&rec, "tenant_key = ?", "t1").Error; err != nil {
		t.Fatal(err)
	}
	if rec.NeedsReauth {
		t.Error("needs_reauth still set after reseed")
	}
	if rec.RefreshToken != "rt-new" {
		t.Errorf("refresh token = %q, want rt-new", rec.RefreshToken)
	}

	// The broker refreshes with the reseeded credential.
	if _, err := broker.CompanyToken(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	if fake.lastRefresh != "rt-new" {
		t.Errorf("provider saw refresh token %q, want rt-new", fake.lastRefresh)
	}
}
