package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/alm-export/internal/testutil"
)

func newTestClient(t *testing.T, mock *testutil.MockALM) *Client {
	t.Helper()

	cfg := DefaultConfig(mock.URL(), mock.Domain, mock.Project)
	cfg.Username = mock.Username
	cfg.Password = mock.Password

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: DefaultConfig("https://alm.example.com", "DEFAULT", "QA"),
		},
		{
			name:   "trailing slash is accepted",
			config: DefaultConfig("http://alm.example.com/", "DEFAULT", "QA"),
		},
		{
			name:        "empty web domain",
			config:      DefaultConfig("", "DEFAULT", "QA"),
			expectError: true,
			errorMsg:    "web domain is required",
		},
		{
			name:        "web domain without scheme",
			config:      DefaultConfig("alm.example.com", "DEFAULT", "QA"),
			expectError: true,
			errorMsg:    "web domain must be an http(s) URL",
		},
		{
			name:        "ftp web domain",
			config:      DefaultConfig("ftp://alm.example.com", "DEFAULT", "QA"),
			expectError: true,
			errorMsg:    "web domain must be an http(s) URL",
		},
		{
			name:        "empty domain",
			config:      DefaultConfig("https://alm.example.com", " ", "QA"),
			expectError: true,
			errorMsg:    "domain is required",
		},
		{
			name:        "empty project",
			config:      DefaultConfig("https://alm.example.com", "DEFAULT", ""),
			expectError: true,
			errorMsg:    "project is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("error = %q, want it to contain %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c == nil {
				t.Fatal("expected client, got nil")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("https://alm.example.com", "DEFAULT", "QA")

	if cfg.VerifyTLS {
		t.Error("VerifyTLS should default to false")
	}
	if cfg.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", cfg.Timeout)
	}
	if cfg.UserAgent == "" {
		t.Error("UserAgent should not be empty")
	}
	if cfg.Cache != nil {
		t.Error("Cache should default to nil")
	}
}

func TestTestsURL(t *testing.T) {
	c, err := New(DefaultConfig("https://alm.example.com/", "DEFAULT", "QA"))
	if err != nil {
		t.Fatal(err)
	}

	want := "https://alm.example.com/qcbin/rest/domains/DEFAULT/projects/QA/tests"
	if got := c.TestsURL(); got != want {
		t.Errorf("TestsURL() = %q, want %q", got, want)
	}
}

func TestAuthenticate(t *testing.T) {
	mock := testutil.NewMockALM()
	defer mock.Close()

	c := newTestClient(t, mock)
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if mock.GetLoginCount() != 1 {
		t.Errorf("login count = %d, want 1", mock.GetLoginCount())
	}

	// A second call reuses the LWSSO cookie and skips the login.
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("second Authenticate() error = %v", err)
	}
	if mock.GetLoginCount() != 1 {
		t.Errorf("login count after reuse = %d, want 1", mock.GetLoginCount())
	}
}

func TestAuthenticate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "wrong password", username: "qa", password: "wrong"},
		{name: "no credentials", username: "", password: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockALM()
			defer mock.Close()

			cfg := DefaultConfig(mock.URL(), mock.Domain, mock.Project)
			cfg.Username = tt.username
			cfg.Password = tt.password
			c, err := New(cfg)
			if err != nil {
				t.Fatal(err)
			}

			err = c.Authenticate(context.Background())
			if !errors.Is(err, ErrAuthFailed) {
				t.Errorf("Authenticate() error = %v, want ErrAuthFailed", err)
			}
		})
	}
}

func TestAuthenticate_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c, err := New(DefaultConfig(url, "DEFAULT", "QA"))
	if err != nil {
		t.Fatal(err)
	}

	err = c.Authenticate(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Authenticate() error = %v, want ErrAuthFailed", err)
	}

	var almErr *ALMError
	if !errors.As(err, &almErr) || almErr.ErrorClass != ErrorClassNetwork {
		t.Errorf("expected network ALMError in chain, got %v", err)
	}
}

func TestTotalResults(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		expected  int
		expectErr bool
	}{
		{name: "integer", status: 200, body: `{"entities": [], "TotalResults": 250}`, expected: 250},
		{name: "zero", status: 200, body: `{"entities": [], "TotalResults": 0}`, expected: 0},
		{name: "missing", status: 200, body: `{"entities": []}`, expectErr: true},
		{name: "string", status: 200, body: `{"TotalResults": "250"}`, expectErr: true},
		{name: "fraction", status: 200, body: `{"TotalResults": 2.5}`, expectErr: true},
		{name: "negative", status: 200, body: `{"TotalResults": -1}`, expectErr: true},
		{name: "server error", status: 500, body: `oops`, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockALM()
			defer mock.Close()
			mock.SetCountResponse(tt.status, tt.body)

			c := newTestClient(t, mock)
			if err := c.Authenticate(context.Background()); err != nil {
				t.Fatal(err)
			}

			total, err := c.TotalResults(context.Background())
			if tt.expectErr {
				if !errors.Is(err, ErrCountUnavailable) {
					t.Errorf("TotalResults() error = %v, want ErrCountUnavailable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("TotalResults() error = %v", err)
			}
			if total != tt.expected {
				t.Errorf("TotalResults() = %d, want %d", total, tt.expected)
			}
		})
	}
}

func TestTotalResults_FromMock(t *testing.T) {
	mock := testutil.NewMockALM()
	defer mock.Close()
	mock.SetTests(testutil.NewTests(42))

	c := newTestClient(t, mock)
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatal(err)
	}

	total, err := c.TotalResults(context.Background())
	if err != nil {
		t.Fatalf("TotalResults() error = %v", err)
	}
	if total != 42 {
		t.Errorf("TotalResults() = %d, want 42", total)
	}
}

func TestGetPage_QueryAndHeaders(t *testing.T) {
	mock := testutil.NewMockALM()
	defer mock.Close()
	mock.SetTests(testutil.NewTests(150))

	c := newTestClient(t, mock)
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatal(err)
	}

	body, err := c.GetPage(context.Background(), 101, 100)
	if err != nil {
		t.Fatalf("GetPage() error = %v", err)
	}
	if !strings.Contains(string(body), `"Test 101"`) {
		t.Errorf("page body does not contain test 101: %s", body)
	}
	if strings.Contains(string(body), `"Test 100"`) {
		t.Error("page body contains a test from the previous page")
	}

	q := mock.GetLastPageQuery()
	if q["order-by"] != "{id[ASC]}" {
		t.Errorf("order-by = %q, want {id[ASC]}", q["order-by"])
	}
	if q["page-size"] != "100" {
		t.Errorf("page-size = %q, want 100", q["page-size"])
	}
	if q["start-index"] != "101" {
		t.Errorf("start-index = %q, want 101", q["start-index"])
	}
	if got := mock.GetLastPageHeader().Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q, want application/json", got)
	}
}

func TestGetPage_NonSuccess(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		expectedClass ErrorClass
	}{
		{name: "server error", status: 500, expectedClass: ErrorClassServer},
		{name: "not found", status: 404, expectedClass: ErrorClassClient},
		{name: "session expired", status: 401, expectedClass: ErrorClassAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockALM()
			defer mock.Close()
			mock.SetTests(testutil.NewTests(10))
			mock.SetPageResponse(1, testutil.MockResponse{StatusCode: tt.status})

			c := newTestClient(t, mock)
			if err := c.Authenticate(context.Background()); err != nil {
				t.Fatal(err)
			}

			_, err := c.GetPage(context.Background(), 1, 100)
			var almErr *ALMError
			if !errors.As(err, &almErr) {
				t.Fatalf("GetPage() error = %v, want *ALMError", err)
			}
			if almErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", almErr.StatusCode, tt.status)
			}
			if almErr.ErrorClass != tt.expectedClass {
				t.Errorf("ErrorClass = %q, want %q", almErr.ErrorClass, tt.expectedClass)
			}
		})
	}
}

func TestGetPage_Timeout(t *testing.T) {
	mock := testutil.NewMockALM()
	defer mock.Close()
	mock.SetTests(testutil.NewTests(10))
	mock.SetPageResponse(1, testutil.MockResponse{Delay: 200 * time.Millisecond})

	cfg := DefaultConfig(mock.URL(), mock.Domain, mock.Project)
	cfg.Username, cfg.Password = mock.Username, mock.Password
	cfg.Timeout = 50 * time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err = c.GetPage(context.Background(), 1, 100)
	var almErr *ALMError
	if !errors.As(err, &almErr) || almErr.ErrorClass != ErrorClassNetwork {
		t.Errorf("GetPage() error = %v, want network ALMError", err)
	}
}

func TestClose(t *testing.T) {
	mock := testutil.NewMockALM()
	defer mock.Close()

	c := newTestClient(t, mock)

	// Close before Authenticate is a no-op.
	if err := c.Close(); err != nil {
		t.Fatalf("Close() before auth error = %v", err)
	}
	if mock.LoggedOut() {
		t.Fatal("Close() before auth should not log out")
	}

	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !mock.LoggedOut() {
		t.Error("Close() should call logout")
	}
}
