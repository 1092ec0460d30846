package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runAdminAuth(t *testing.T, secret, authHeader string) (*httptest.ResponseRecorder, string, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders/1", nil)
	if authHeader != "" {
		req.Header.Set(echo.HeaderAuthorization, authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var operator string
	err := AdminAuth(secret)(func(c echo.Context) error {
		operator, _ = c.Get(OperatorContextKey).(string)
		return c.NoContent(http.StatusNoContent)
	})(c)
	return rec, operator, err
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	return he.Code
}

func TestAdminAuthAcceptsValidToken(t *testing.T) {
	token, err := IssueAdminToken("s3cret", "ops@example.com", time.Minute)
	require.NoError(t, err)

	rec, operator, err := runAdminAuth(t, "s3cret", "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ops@example.com", operator)
}

func TestAdminAuthRejects(t *testing.T) {
	good, err := IssueAdminToken("s3cret", "ops", time.Minute)
	require.NoError(t, err)
	expired, err := IssueAdminToken("s3cret", "ops", -time.Minute)
	require.NoError(t, err)
	otherKey, err := IssueAdminToken("other", "ops", time.Minute)
	require.NoError(t, err)
	customer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		Role: "customer",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{Role: "admin"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	cases := map[string]struct {
		secret string
		header string
	}{
		"missing header": {"s3cret", ""},
		"not bearer":     {"s3cret", "Basic " + good},
		"garbage":        {"s3cret", "Bearer abc.def.ghi"},
		"expired":        {"s3cret", "Bearer " + expired},
		"wrong key":      {"s3cret", "Bearer " + otherKey},
		"wrong role":     {"s3cret", "Bearer " + customer},
		"no expiry":      {"s3cret", "Bearer " + noExpiry},
		"api disabled":   {"", "Bearer " + good},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := runAdminAuth(t, tc.secret, tc.header)
			assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
		})
	}
}

func TestIssueAdminTokenNeedsSecret(t *testing.T) {
	_, err := IssueAdminToken("", "ops", time.Minute)
	assert.Error(t, err)
}
