package ghl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAPIError_AuthRevoked(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   bool
	}{
		{http.StatusBadRequest, "", true},
		{http.StatusUnauthorized, "", true},
		{http.StatusForbidden, `{"error":"invalid_grant"}`, true},
		{http.StatusInternalServerError, "token expired", true},
		{http.StatusForbidden, "insufficient scope", false},
		{http.StatusInternalServerError, "upstream timeout", false},
		{http.StatusTooManyRequests, "slow down", false},
	}
	for _, tc := range cases {
		e := &APIError{Status: tc.status, Body: tc.body}
		if got := e.AuthRevoked(); got != tc.want {
			t.Errorf("AuthRevoked(%d, %q) = %v, want %v", tc.status, tc.body, got, tc.want)
		}
	}
}

func TestRefreshCompanyToken_RequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/oauth/token" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("content type = %q", ct)
		}
		r.ParseForm()
		for key, want := range map[string]string{
			"client_id":     "cid",
			"client_secret": "cs",
			"grant_type":    "refresh_token",
			"refresh_token": "rt-0",
			"user_type":     "Company",
		} {
			if got := r.PostFormValue(key); got != want {
				t.Errorf("form[%s] = %q, want %q", key, got, want)
			}
		}
		fmt.Fprint(w, `{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,"companyId":"comp-1"}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, ClientID: "cid", ClientSecret: "cs"})
	resp, err := c.RefreshCompanyToken(context.Background(), "rt-0")
	if err != nil {
		t.Fatalf("RefreshCompanyToken() error: %v", err)
	}
	if resp.AccessToken != "at-1" || resp.RefreshToken != "rt-1" || resp.CompanyID != "comp-1" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestLocationToken_RequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/locationToken" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer company-at" {
			t.Errorf("authorization = %q", auth)
		}
		if v := r.Header.Get("Version"); v != apiVersion {
			t.Errorf("version header = %q", v)
		}
		r.ParseForm()
		if r.PostFormValue("companyId") != "comp-1" || r.PostFormValue("locationId") != "loc-1" {
			t.Errorf("form = %v", r.PostForm)
		}
		fmt.Fprint(w, `{"access_token":"loc-at","expires_in":86400,"locationId":"loc-1"}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	resp, err := c.LocationToken(context.Background(), "company-at", "comp-1", "loc-1")
	if err != nil {
		t.Fatalf("LocationToken() error: %v", err)
	}
	if resp.AccessToken != "loc-at" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestMoveOpportunity_RequestShape(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.EscapedPath()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if err := c.MoveOpportunity(context.Background(), "loc-at", "opp 1", "p-1", "s-1"); err != nil {
		t.Fatalf("MoveOpportunity() error: %v", err)
	}
	if gotPath != "PUT /opportunities/opp%201" {
		t.Errorf("request = %q", gotPath)
	}
	if !strings.Contains(gotBody, `"pipelineId":"p-1"`) || !strings.Contains(gotBody, `"pipelineStageId":"s-1"`) {
		t.Errorf("body = %s", gotBody)
	}
}

func TestUpdateContactField_RequestShape(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/contacts/c-1" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if err := c.UpdateContactField(context.Background(), "loc-at", "c-1", "f-1", "accepted"); err != nil {
		t.Fatalf("UpdateContactField() error: %v", err)
	}
	if !strings.Contains(gotBody, `"id":"f-1"`) || !strings.Contains(gotBody, `"value":"accepted"`) {
		t.Errorf("body = %s", gotBody)
	}
}

func TestSend_ErrorBodyExcerpt(t *testing.T) {
	long := strings.Repeat("x", 2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, long)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.ListPipelines(context.Background(), "tok", "loc-1")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T", err)
	}
	if apiErr.Status != http.StatusBadGateway {
		t.Errorf("status = %d", apiErr.Status)
	}
	if len(apiErr.Body) > maxErrBody {
		t.Errorf("body excerpt length = %d, want at most %d", len(apiErr.Body), maxErrBody)
	}
}

func TestListPipelines_Decodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("locationId"); got != "loc-1" {
			t.Errorf("locationId = %q", got)
		}
		fmt.Fprint(w, `{"pipelines":[{"id":"p-1","name":"Sales","stages":[{"id":"s-1","name":"Closing"}]}]}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	pipelines, err := c.ListPipelines(context.Background(), "tok", "loc-1")
	if err != nil {
		t.Fatalf("ListPipelines() error: %v", err)
	}
	if len(pipelines) != 1 || pipelines[0].ID != "p-1" || len(pipelines[0].Stages) != 1 {
		t.Errorf("pipelines = %+v", pipelines)
	}
}
