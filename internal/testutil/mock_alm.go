// Package testutil provides testing utilities for the ALM exporter.
package testutil

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Session cookie names issued by the mock, mirroring ALM.
const (
	CookieLWSSO     = "LWSSO_COOKIE_KEY"
	CookieQCSession = "QCSession"
)

// MockResponse overrides the response for one page.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockField is one field of a mock test entity. A nil value encodes as JSON null.
type MockField struct {
	Name   string
	Values []*string
}

// MockTest is a test entity served by the mock.
type MockTest []MockField

// MockALM is a configurable mock ALM server for testing.
type MockALM struct {
	server *httptest.Server
	mu     sync.RWMutex

	Username string
	Password string
	Domain   string
	Project  string

	tests      []MockTest
	pages      map[int]MockResponse
	countBody  *string
	countCode  int
	token      string
	loggedOut  bool

	// Tracking
	RequestCount   int
	LoginCount     int
	PageRequests   []int
	LastPageQuery  map[string]string
	LastPageHeader http.Header
}

// NewMockALM creates a mock ALM server for DEFAULT/QA with user "qa" / "secret".
func NewMockALM() *MockALM {
	m := &MockALM{
		Username: "qa",
		Password: "secret",
		Domain:   "DEFAULT",
		Project:  "QA",
		pages:    make(map[int]MockResponse),
		token:    "mock-token",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/qcbin/rest/is-authenticated", m.handleIsAuthenticated)
	mux.HandleFunc("/qcbin/authentication-point/alm-authenticate", m.handleAuthenticate)
	mux.HandleFunc("/qcbin/rest/site-session", m.handleSiteSession)
	mux.HandleFunc("/qcbin/authentication-point/logout", m.handleLogout)
	mux.HandleFunc("/qcbin/rest/domains/", m.handleTests)

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.RequestCount++
		m.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))

	return m
}

// URL returns the mock server URL (the ALM web domain).
func (m *MockALM) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockALM) Close() {
	m.server.Close()
}

// SetTests replaces the served test entities.
func (m *MockALM) SetTests(tests []MockTest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests = tests
}

// SetPageResponse overrides the response for the page starting at startIndex.
func (m *MockALM) SetPageResponse(startIndex int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[startIndex] = resp
}

// SetCountResponse overrides the count probe response.
func (m *MockALM) SetCountResponse(statusCode int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countCode = statusCode
	m.countBody = &body
}

// GetPageRequests returns the start indices requested so far, in arrival order.
func (m *MockALM) GetPageRequests() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int, len(m.PageRequests))
	copy(out, m.PageRequests)
	return out
}

// GetLoginCount returns the number of accepted logins.
func (m *MockALM) GetLoginCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LoginCount
}

// LoggedOut reports whether the logout endpoint was called.
func (m *MockALM) LoggedOut() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loggedOut
}

// GetLastPageQuery returns the query parameters of the latest page request.
func (m *MockALM) GetLastPageQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastPageQuery
}

// GetLastPageHeader returns the headers of the latest page request.
func (m *MockALM) GetLastPageHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastPageHeader
}

func (m *MockALM) hasCookie(r *http.Request, name string) bool {
	c, err := r.Cookie(name)
	return err == nil && c.Value == m.token
}

func (m *MockALM) handleIsAuthenticated(w http.ResponseWriter, r *http.Request) {
	if m.hasCookie(r, CookieLWSSO) {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusUnauthorized)
}

type almAuthentication struct {
	XMLName  xml.Name `xml:"alm-authentication"`
	User     string   `xml:"user"`
	Password string   `xml:"password"`
}

func (m *MockALM) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var auth almAuthentication
	if err := xml.NewDecoder(r.Body).Decode(&auth); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	ok := auth.User == m.Username && auth.Password == m.Password
	if ok {
		m.LoginCount++
	}
	m.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: CookieLWSSO, Value: m.token, Path: "/"})
	w.WriteHeader(http.StatusOK)
}

func (m *MockALM) handleSiteSession(w http.ResponseWriter, r *http.Request) {
	if !m.hasCookie(r, CookieLWSSO) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodPost:
		http.SetCookie(w, &http.Cookie{Name: CookieQCSession, Value: m.token, Path: "/"})
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (m *MockALM) handleLogout(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.loggedOut = true
	m.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (m *MockALM) handleTests(w http.ResponseWriter, r *http.Request) {
	want := fmt.Sprintf("/qcbin/rest/domains/%s/projects/%s/tests", m.Domain, m.Project)
	if r.URL.Path != want {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !m.hasCookie(r, CookieLWSSO) || !m.hasCookie(r, CookieQCSession) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	q := r.URL.Query()
	if q.Get("start-index") == "" {
		m.serveCount(w)
		return
	}

	start, err := strconv.Atoi(q.Get("start-index"))
	if err != nil || start < 1 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	size, err := strconv.Atoi(q.Get("page-size"))
	if err != nil || size < 1 || size > 100 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.PageRequests = append(m.PageRequests, start)
	m.LastPageQuery = map[string]string{
		"order-by":    q.Get("order-by"),
		"page-size":   q.Get("page-size"),
		"start-index": q.Get("start-index"),
	}
	m.LastPageHeader = r.Header.Clone()
	override, hasOverride := m.pages[start]
	tests := m.tests
	m.mu.Unlock()

	if hasOverride {
		if override.Delay > 0 {
			time.Sleep(override.Delay)
		}
		if override.StatusCode != 0 {
			w.WriteHeader(override.StatusCode)
		}
		if override.Body != "" {
			w.Write([]byte(override.Body))
			return
		}
		if override.StatusCode != 0 && override.StatusCode != http.StatusOK {
			return
		}
	}

	from := start - 1
	if from > len(tests) {
		from = len(tests)
	}
	to := from + size
	if to > len(tests) {
		to = len(tests)
	}
	w.Write(EntitiesJSON(tests[from:to], len(tests)))
}

func (m *MockALM) serveCount(w http.ResponseWriter) {
	m.mu.RLock()
	body, code := m.countBody, m.countCode
	total := len(m.tests)
	m.mu.RUnlock()

	if body != nil {
		if code != 0 {
			w.WriteHeader(code)
		}
		w.Write([]byte(*body))
		return
	}
	fmt.Fprintf(w, `{"entities": [], "TotalResults": %d}`, total)
}

// EntitiesJSON encodes tests in the ALM collection shape.
func EntitiesJSON(tests []MockTest, total int) []byte {
	type value struct {
		Value *string `json:"value"`
	}
	type field struct {
		Name   string  `json:"Name"`
		Values []value `json:"values"`
	}
	type entity struct {
		Fields []field `json:"Fields"`
		Type   string  `json:"Type"`
	}

	doc := struct {
		Entities     []entity `json:"entities"`
		TotalResults int      `json:"TotalResults"`
	}{Entities: []entity{}, TotalResults: total}

	for _, t := range tests {
		e := entity{Type: "test", Fields: []field{}}
		for _, f := range t {
			fv := field{Name: f.Name, Values: []value{}}
			for _, v := range f.Values {
				fv.Values = append(fv.Values, value{Value: v})
			}
			e.Fields = append(e.Fields, fv)
		}
		doc.Entities = append(doc.Entities, e)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

// Str returns a pointer to s.
func Str(s string) *string {
	return &s
}

// NewTest builds a test entity with id, name, owner and an HTML description.
func NewTest(id int) MockTest {
	return MockTest{
		{Name: "id", Values: []*string{Str(strconv.Itoa(id))}},
		{Name: "name", Values: []*string{Str(fmt.Sprintf("Test %d", id))}},
		{Name: "owner", Values: []*string{Str("qa")}},
		{Name: "description", Values: []*string{Str(fmt.Sprintf("<html><body><b>Step</b> %d</body></html>", id))}},
	}
}

// NewTests builds n sequential test entities with ids 1..n.
func NewTests(n int) []MockTest {
	tests := make([]MockTest, 0, n)
	for i := 1; i <= n; i++ {
		tests = append(tests, NewTest(i))
	}
	return tests
}

// TestID extracts the id cell of a row produced with a mapping whose first column is "id".
func TestID(row []any) string {
	if len(row) == 0 {
		return ""
	}
	s, _ := row[0].(string)
	return strings.TrimSpace(s)
}
