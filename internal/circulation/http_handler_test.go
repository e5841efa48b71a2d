package circulation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"circulationapi/internal/auth"
	"circulationapi/internal/entity"
	"circulationapi/internal/httpx"
	"circulationapi/internal/store"
	"circulationapi/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "handler-test-secret"

type apiFixture struct {
	mux   *http.ServeMux
	store *store.Store
	clock *clock
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	c := &clock{now: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)}
	st := store.New()
	ctx := context.Background()
	require.NoError(t, st.CreateAccount(ctx, testutil.TestMember))
	require.NoError(t, st.CreateAccount(ctx, testutil.TestAdmin))
	require.NoError(t, st.CreateAccount(ctx, entity.NewAccount("other", "x", entity.RoleMember, c.now)))
	require.NoError(t, st.CreateBook(ctx, testutil.TestBook))
	require.NoError(t, st.CreateBook(ctx, entity.Book{
		Title: "Secret Notes", CopiesTotal: 1, CopiesAvailable: 1,
		Owner: "other", Visibility: entity.VisibilityPrivate,
	}))

	svc := NewService(st, WithClock(c.Now))
	h := NewHTTPHandler(svc, testSecret, time.Hour, zerolog.Nop())
	mux := http.NewServeMux()
	h.Routes(mux, httpx.AuthMiddleware(testSecret), httpx.OptionalAuthMiddleware(testSecret))
	return &apiFixture{mux: mux, store: st, clock: c}
}

func (f *apiFixture) do(r *http.Request) testutil.RecordResponse {
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	return testutil.RecordHTTPResponse(w)
}

func memberToken() string {
	return testutil.GenerateTestToken(testSecret, testutil.TestMember.Username, string(entity.RoleMember))
}

func adminToken() string {
	return testutil.GenerateTestToken(testSecret, testutil.TestAdmin.Username, string(entity.RoleAdmin))
}

func errorCode(t *testing.T, res testutil.RecordResponse) string {
	t.Helper()
	body, ok := res.Body["error"].(map[string]interface{})
	require.True(t, ok, "expected error envelope, got %v", res.Body)
	code, _ := body["code"].(string)
	return code
}

func data(t *testing.T, res testutil.RecordResponse) map[string]interface{} {
	t.Helper()
	d, ok := res.Body["data"].(map[string]interface{})
	require.True(t, ok, "expected object data, got %v", res.Body)
	return d
}

func TestHTTPHandler_Login(t *testing.T) {
	f := newAPIFixture(t)
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	acct := entity.NewAccount("dave", hash, entity.RoleMember, f.clock.now)
	require.NoError(t, f.store.CreateAccount(context.Background(), acct))

	t.Run("success", func(t *testing.T) {
		res := f.do(testutil.NewRequest(http.MethodPost, "/api/login", map[string]string{"username": "dave", "password": "s3cret"}))
		testutil.AssertResponseCode(t, res.Code, http.StatusOK)
		d := data(t, res)
		assert.Equal(t, "dave", d["username"])
		assert.Equal(t, "MEMBER", d["userType"])

		claims, err := auth.ParseToken(testSecret, d["token"].(string))
		require.NoError(t, err)
		assert.Equal(t, "dave", claims.Sub)
	})

	t.Run("wrong password", func(t *testing.T) {
		res := f.do(testutil.NewRequest(http.MethodPost, "/api/login", map[string]string{"username": "dave", "password": "nope"}))
		testutil.AssertResponseCode(t, res.Code, http.StatusUnauthorized)
		assert.Equal(t, "UNAUTHORIZED", errorCode(t, res))
	})

	t.Run("missing fields", func(t *testing.T) {
		res := f.do(testutil.NewRequest(http.MethodPost, "/api/login", map[string]string{"username": "dave"}))
		testutil.AssertResponseCode(t, res.Code, http.StatusBadRequest)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, res))
	})
}

func TestHTTPHandler_Register(t *testing.T) {
	f := newAPIFixture(t)
	body := map[string]string{"username": "newbie", "password": "pw", "userType": "member"}

	res := f.do(testutil.NewRequest(http.MethodPost, "/api/register", body))
	testutil.AssertResponseCode(t, res.Code, http.StatusUnauthorized)

	res = f.do(testutil.NewRequestWithAuth(http.MethodPost, "/api/register", body, memberToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusForbidden)
	assert.Equal(t, "FORBIDDEN", errorCode(t, res))

	res = f.do(testutil.NewRequestWithAuth(http.MethodPost, "/api/register", body, adminToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusCreated)
	testutil.AssertResponseBody(t, data(t, res), "message", "User registered successfully")

	res = f.do(testutil.NewRequestWithAuth(http.MethodPost, "/api/register", body, adminToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusConflict)
	assert.Equal(t, "CONFLICT", errorCode(t, res))

	res = f.do(testutil.NewRequestWithAuth(http.MethodPost, "/api/register",
		map[string]string{"username": "x", "password": "pw", "userType": "WIZARD"}, adminToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusBadRequest)
}

func TestHTTPHandler_ListBooks(t *testing.T) {
	f := newAPIFixture(t)

	titles := func(res testutil.RecordResponse) []string {
		items, ok := res.Body["data"].([]interface{})
		require.True(t, ok)
		var out []string
		for _, it := range items {
			out = append(out, it.(map[string]interface{})["title"].(string))
		}
		return out
	}

	res := f.do(testutil.NewRequest(http.MethodGet, "/api/books", nil))
	testutil.AssertResponseCode(t, res.Code, http.StatusOK)
	assert.Equal(t, []string{"Test Book Title"}, titles(res))

	res = f.do(testutil.NewRequestWithAuth(http.MethodGet, "/api/books", nil, adminToken()))
	assert.Equal(t, []string{"Secret Notes", "Test Book Title"}, titles(res))

	otherToken := testutil.GenerateTestToken(testSecret, "other", "MEMBER")
	res = f.do(testutil.NewRequestWithAuth(http.MethodGet, "/api/books", nil, otherToken))
	assert.Equal(t, []string{"Secret Notes", "Test Book Title"}, titles(res))

	first := res.Body["data"].([]interface{})[1].(map[string]interface{})
	assert.EqualValues(t, 2, first["copies"])
	assert.EqualValues(t, 2, first["copiesTotal"])
	assert.Equal(t, "System", first["owner"])
}

func TestHTTPHandler_AddBook(t *testing.T) {
	f := newAPIFixture(t)

	res := f.do(testutil.NewRequestWithAuth(http.MethodPost, "/api/books",
		map[string]interface{}{"title": "Dune", "author": "Herbert", "copies": 3, "visibility": "private"}, memberToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusCreated)
	d := data(t, res)
	assert.Equal(t, "testmember", d["owner"])
	assert.Equal(t, "PRIVATE", d["visibility"])

	res = f.do(testutil.NewRequestWithAuth(http.MethodPost, "/api/books",
		map[string]interface{}{"title": "Dune", "copies": 1}, memberToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusConflict)

	res = f.do(testutil.NewRequestWithAuth(http.MethodPost, "/api/books",
		map[string]interface{}{"title": "Bad", "copies": -2}, memberToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusBadRequest)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, res))

	res = f.do(testutil.NewRequest(http.MethodPost, "/api/books", map[string]interface{}{"title": "Anon", "copies": 1}))
	testutil.AssertResponseCode(t, res.Code, http.StatusUnauthorized)
}

func TestHTTPHandler_BorrowReturnFlow(t *testing.T) {
	f := newAPIFixture(t)
	loan := map[string]string{"username": "testmember", "bookTitle": "Test Book Title"}

	res := f.do(testutil.NewRequestWithAuth(http.MethodPost, "/api/borrow", loan, memberToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusOK)
	testutil.AssertResponseBody(t, data(t, res), "message", "Book borrowed! Due date: 2025-03-15")

	res = f.do(testutil.NewRequestWithAuth(http.MethodPost, "/api/borrow", loan, memberToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusConflict)
	assert.Equal(t, "ALREADY_BORROWED", errorCode(t, res))

	res = f.do(testutil.NewRequestWithAuth(http.MethodGet, "/api/users?username=testmember", nil, memberToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusOK)
	acct := data(t, res)["testmember"].(map[string]interface{})
	assert.Equal(t, []interface{}{"Test Book Title"}, acct["borrowedBooks"])
	assert.Equal(t, "2025-03-15", acct["dueDates"].(map[string]interface{})["Test Book Title"])

	f.clock.Advance(20)
	res = f.do(testutil.NewRequestWithAuth(http.MethodPost, "/api/return", loan, memberToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusOK)
	d := data(t, res)
	assert.Equal(t, "Book returned. Fine incurred: $6.00", d["message"])
	assert.Equal(t, 6.0, d["fine"])

	res = f.do(testutil.NewRequestWithAuth(http.MethodPost, "/api/return", loan, memberToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusNotFound)

	res = f.do(testutil.NewRequestWithAuth(http.MethodGet, "/api/users/testmember/history", nil, memberToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusOK)
	assert.Len(t, res.Body["data"], 2)
}

func TestHTTPHandler_LoanStatusMapping(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.CreateBook(context.Background(), entity.Book{Title: "Gone", CopiesTotal: 0, CopiesAvailable: 0, Visibility: entity.VisibilityPublic}))

	tests := []struct {
		name     string
		path     string
		body     map[string]string
		token    string
		wantCode int
		wantErr  string
	}{
		{"other account", "/api/borrow", map[string]string{"username": "other", "bookTitle": "Test Book Title"}, memberToken(), http.StatusForbidden, "FORBIDDEN"},
		{"admin for other account", "/api/borrow", map[string]string{"username": "testmember", "bookTitle": "Test Book Title"}, adminToken(), http.StatusForbidden, "FORBIDDEN"},
		{"private book", "/api/borrow", map[string]string{"bookTitle": "Secret Notes"}, memberToken(), http.StatusForbidden, "FORBIDDEN"},
		{"unknown book", "/api/borrow", map[string]string{"bookTitle": "Missing"}, memberToken(), http.StatusNotFound, "NOT_FOUND"},
		{"out of stock", "/api/borrow", map[string]string{"bookTitle": "Gone"}, memberToken(), http.StatusConflict, "OUT_OF_STOCK"},
		{"missing title", "/api/borrow", map[string]string{"username": "testmember"}, memberToken(), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"favourite private", "/api/favorites", map[string]string{"bookTitle": "Secret Notes"}, memberToken(), http.StatusForbidden, "FORBIDDEN"},
		{"expired token", "/api/return", map[string]string{"bookTitle": "Test Book Title"},
			testutil.GenerateExpiredToken(testSecret, "testmember", "MEMBER"), http.StatusUnauthorized, "UNAUTHORIZED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.do(testutil.NewRequestWithAuth(http.MethodPost, tt.path, tt.body, tt.token))
			testutil.AssertResponseCode(t, res.Code, tt.wantCode)
			assert.Equal(t, tt.wantErr, errorCode(t, res))
		})
	}
}

func TestHTTPHandler_LimitReached(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	for _, title := range []string{"A", "B", "C", "D"} {
		require.NoError(t, f.store.CreateBook(ctx, entity.Book{Title: title, CopiesTotal: 1, CopiesAvailable: 1}))
	}
	for _, title := range []string{"A", "B", "C"} {
		res := f.do(testutil.NewRequestWithAuth(http.MethodPost, "/api/borrow", map[string]string{"bookTitle": title}, memberToken()))
		testutil.AssertResponseCode(t, res.Code, http.StatusOK)
	}

	res := f.do(testutil.NewRequestWithAuth(http.MethodPost, "/api/borrow", map[string]string{"bookTitle": "D"}, memberToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusConflict)
	assert.Equal(t, "LIMIT_REACHED", errorCode(t, res))
}

func TestHTTPHandler_ToggleFavorite(t *testing.T) {
	f := newAPIFixture(t)
	body := map[string]string{"bookTitle": "Test Book Title"}

	res := f.do(testutil.NewRequestWithAuth(http.MethodPost, "/api/favorites", body, memberToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusOK)
	testutil.AssertResponseBody(t, data(t, res), "favourite", true)

	res = f.do(testutil.NewRequestWithAuth(http.MethodPost, "/api/favorites", body, memberToken()))
	testutil.AssertResponseBody(t, data(t, res), "favourite", false)
}

func TestHTTPHandler_ListUsers(t *testing.T) {
	f := newAPIFixture(t)

	res := f.do(testutil.NewRequestWithAuth(http.MethodGet, "/api/users", nil, memberToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusForbidden)

	res = f.do(testutil.NewRequestWithAuth(http.MethodGet, "/api/users?username=other", nil, memberToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusForbidden)

	res = f.do(testutil.NewRequestWithAuth(http.MethodGet, "/api/users", nil, adminToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusOK)
	d := data(t, res)
	assert.Len(t, d, 3)
	assert.Contains(t, d, "other")

	res = f.do(testutil.NewRequestWithAuth(http.MethodGet, "/api/users?username=ghost", nil, adminToken()))
	testutil.AssertResponseCode(t, res.Code, http.StatusNotFound)
}
