package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	body := `{"name": "acme", "slug": "acme-co"}`
	r := httptest.NewRequest(http.MethodPost, "/v1/tenants", strings.NewReader(body))

	var dest struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	}
	err := ParseJSON(r, &dest)

	assert.NoError(t, err)
	assert.Equal(t, "acme", dest.Name)
	assert.Equal(t, "acme-co", dest.Slug)
}

func TestParseJSON_Invalid(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/tenants", strings.NewReader("{not json"))

	var dest map[string]string
	err := ParseJSON(r, &dest)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestParseJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/tenants", strings.NewReader(`{"name": "acme"}`))

	var dest map[string]string
	ok := ParseJSONOrError(w, r, &dest)

	assert.True(t, ok)
	assert.Equal(t, "acme", dest["name"])
}

func TestParseJSONOrError_Invalid(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/tenants", strings.NewReader("{not json"))

	var dest map[string]string
	ok := ParseJSONOrError(w, r, &dest)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathString(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/tenants/t-123", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "t-123"})

	val, err := ParsePathString(r, "id")

	assert.NoError(t, err)
	assert.Equal(t, "t-123", val)
}

func TestParsePathString_Missing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/tenants", nil)

	_, err := ParsePathString(r, "id")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing path parameter")
}

func TestParsePathStringOrError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/tenants", nil)

	_, ok := ParsePathStringOrError(w, r, "id")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathInt64(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/roles/42", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "42"})

	val, err := ParsePathInt64(r, "id")

	assert.NoError(t, err)
	assert.Equal(t, int64(42), val)
}

func TestParsePathInt64_Invalid(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/roles/abc", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "abc"})

	_, err := ParsePathInt64(r, "id")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid integer")
}

func TestParsePathInt64OrError_Invalid(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/roles/abc", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "abc"})

	_, ok := ParsePathInt64OrError(w, r, "id")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/audit?limit=50", nil)

	val, err := ParseQueryInt(r, "limit", 100)

	assert.NoError(t, err)
	assert.Equal(t, 50, val)
}

func TestParseQueryInt_Default(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/audit", nil)

	val, err := ParseQueryInt(r, "limit", 100)

	assert.NoError(t, err)
	assert.Equal(t, 100, val)
}

func TestParseQueryInt_Invalid(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/audit?limit=many", nil)

	_, err := ParseQueryInt(r, "limit", 100)

	assert.Error(t, err)
}

func TestParseQueryString(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/audit?event_type=access.denied", nil)

	val := ParseQueryString(r, "event_type", "")

	assert.Equal(t, "access.denied", val)
}

func TestParseQueryString_Default(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/audit", nil)

	val := ParseQueryString(r, "event_type", "any")

	assert.Equal(t, "any", val)
}

func TestParseQueryBool(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/users?include_deleted=true", nil)

	val, err := ParseQueryBool(r, "include_deleted", false)

	assert.NoError(t, err)
	assert.True(t, val)
}

func TestParseQueryTime(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/audit?since=2026-01-02T15:04:05Z", nil)

	val, err := ParseQueryTime(r, "since")

	assert.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), val)
}

func TestParseQueryTime_Absent(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/audit", nil)

	val, err := ParseQueryTime(r, "since")

	assert.NoError(t, err)
	assert.True(t, val.IsZero())
}

func TestParseQueryTime_Invalid(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/audit?since=yesterday", nil)

	_, err := ParseQueryTime(r, "since")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "RFC 3339")
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()

	ok := RequireNonEmpty(w, "acme", "name")

	assert.True(t, ok)
}

func TestRequireNonEmpty_Empty(t *testing.T) {
	w := httptest.NewRecorder()

	ok := RequireNonEmpty(w, "", "name")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "name is required")
}

func TestRequirePositive(t *testing.T) {
	w := httptest.NewRecorder()

	assert.True(t, RequirePositive(w, 3, "version"))
	assert.False(t, RequirePositive(w, 0, "version"))
	assert.Contains(t, w.Body.String(), "version must be positive")
}

func TestValidateAll(t *testing.T) {
	w := httptest.NewRecorder()

	ok := ValidateAll(w,
		func() (bool, string) { return true, "" },
		func() (bool, string) { return false, "slug is invalid" },
		func() (bool, string) { return false, "never reached" },
	)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "slug is invalid")
	assert.NotContains(t, w.Body.String(), "never reached")
}

func TestValidateAll_Success(t *testing.T) {
	w := httptest.NewRecorder()

	ok := ValidateAll(w,
		func() (bool, string) { return true, "" },
		func() (bool, string) { return true, "" },
	)

	assert.True(t, ok)
	assert.Equal(t, http.StatusOK, w.Code)
}
