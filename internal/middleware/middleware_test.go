package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/uni-records-api/internal/models"
	appErrors "github.com/noah-isme/uni-records-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
	err    error
	token  string
}

func (s *stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	s.token = token
	return s.claims, s.err
}

func newProtectedRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers := append(mw, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/students/:id/enrollments", handlers...)
	return router
}

func serve(router *gin.Engine, path, authorization string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestJWTRequiresBearerToken(t *testing.T) {
	validator := &stubValidator{claims: &models.JWTClaims{UserID: "prof-1", Role: models.RoleProfessor}}
	router := newProtectedRouter(JWT(validator))

	assert.Equal(t, http.StatusUnauthorized, serve(router, "/students/s1/enrollments", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/students/s1/enrollments", "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/students/s1/enrollments", "Bearer   ").Code)

	assert.Equal(t, http.StatusNoContent, serve(router, "/students/s1/enrollments", "bearer tok-1").Code)
	assert.Equal(t, "tok-1", validator.token)
}

func TestJWTPropagatesValidationError(t *testing.T) {
	validator := &stubValidator{err: appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")}
	router := newProtectedRouter(JWT(validator))

	w := serve(router, "/students/s1/enrollments", "Bearer expired")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid token")
}

func TestRBACRolesAndSelf(t *testing.T) {
	cases := []struct {
		name   string
		claims *models.JWTClaims
		path   string
		want   int
	}{
		{"professor allowed", &models.JWTClaims{UserID: "p", Role: models.RoleProfessor}, "/students/s1/enrollments", http.StatusNoContent},
		{"student self", &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, "/students/s1/enrollments", http.StatusNoContent},
		{"student other", &models.JWTClaims{UserID: "s2", Role: models.RoleStudent}, "/students/s1/enrollments", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newProtectedRouter(JWT(&stubValidator{claims: tc.claims}), RBAC(string(models.RoleAdmin), string(models.RoleProfessor), Self))
			assert.Equal(t, tc.want, serve(router, tc.path, "Bearer t").Code)
		})
	}

	router := newProtectedRouter(RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/students/s1/enrollments", "").Code)
}

type recordingObserver struct {
	path   string
	status int
}

func (r *recordingObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	r.path, r.status = path, status
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	obs := &recordingObserver{}
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Metrics(obs))
	router.GET("/students/:id/enrollments", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	serve(router, "/students/s-99/enrollments", "")
	assert.Equal(t, "/students/:id/enrollments", obs.path)
	assert.Equal(t, http.StatusNoContent, obs.status)

	serve(router, "/nowhere", "")
	assert.Equal(t, "unmatched", obs.path)
	assert.Equal(t, http.StatusNotFound, obs.status)
}

func TestAuditLogsSuccessfulRequestsOnly(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.DELETE("/courses/:id", func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
		c.Next()
	}, Audit(zap.New(core), "delete", "course"), func(c *gin.Context) {
		if c.Param("id") == "bad" {
			_ = c.Error(errors.New("boom"))
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/courses/c-1", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/courses/bad", nil))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "c-1", fields["resource_id"])
	assert.Equal(t, "admin-1", fields["actor_id"])
}

func TestResponseMetaCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(WithResponseMeta())
	var meta map[string]interface{}
	router.GET("/x", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, true, meta["cache_hit"])
	assert.Contains(t, meta, "processing_time_ms")
	assert.NotContains(t, meta, "started_at")
}
