package router

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"entity-admin/internal/core/auth"
	"entity-admin/internal/core/cache"
	"entity-admin/internal/core/database"
	"entity-admin/internal/core/mail"
	"entity-admin/internal/csvimport"
	"entity-admin/internal/repo"
	"entity-admin/internal/service"
	"entity-admin/internal/transport/http/handler"
	resp "entity-admin/internal/transport/http/response"
	"entity-admin/pkg/utils"
)

func init() { gin.SetMode(gin.TestMode) }

type env struct {
	r     *gin.Engine
	token string
}

func newEnv(t *testing.T, uploadDir string) *env {
	t.Helper()
	l := zap.NewNop()
	db, err := database.NewGorm(database.Opts{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "api.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, database.Migrate(db))

	users, err := repo.NewUserRepo(db, l)
	require.NoError(t, err)
	hasher := utils.NewHasher(bcrypt.MinCost)
	userSvc := service.NewUserService(users, hasher, l)

	tpl, err := mail.LoadTemplates()
	require.NoError(t, err)
	j := &auth.JWTer{Secret: []byte("test"), Issuer: "entity-admin", TTL: time.Hour, ResetTTL: 15 * time.Minute}
	authSvc := service.NewAuthService(userSvc, j, mail.LogSender{Log: l}, tpl, "http://app.local", l)

	c := cache.New(cache.NewMemory(time.Minute), "apiResponseCache", time.Minute)
	pipe := csvimport.New(hasher, l)

	r := NewAPIEngine(Deps{
		Log:    l,
		JWT:    j,
		Users:  handler.NewUserHandler(userSvc, pipe, c, uploadDir, l),
		Auth:   handler.NewAuthHandler(authSvc, c, l),
		Health: handler.NewHealthHandler(db, c, nil, l),
		Limits: Limits{MaxInFlight: 16, MaxBodyBytes: 1 << 20, RequestTimeout: 5 * time.Second},
	})
	return &env{r: r}
}

func (e *env) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, resp.Resp) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	return e.send(t, req)
}

func (e *env) send(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, resp.Resp) {
	t.Helper()
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	var out resp.Resp
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func dataMap(t *testing.T, r resp.Resp) map[string]any {
	t.Helper()
	m, ok := r.Data.(map[string]any)
	require.True(t, ok, "data is %T", r.Data)
	return m
}

func (e *env) register(t *testing.T) {
	t.Helper()
	w, out := e.do(t, http.MethodPost, "/api/v1/auth/register", map[string]any{
		"name": "Ann Lee", "username": "annlee", "email": "a@x.com", "password": "Secret1!",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	e.token = dataMap(t, out)["token"].(string)
	require.NotEmpty(t, e.token)
}

func TestAuthFlow(t *testing.T) {
	e := newEnv(t, "")

	w, _ := e.do(t, http.MethodGet, "/api/v1/users", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/v1/auth/register", map[string]any{
		"name": "Ann Lee", "username": "annlee", "email": "a@x.com", "password": "weakpass",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.register(t)

	w, out := e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": "a@x.com", "password": "Wrong1!!"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid email or password", out.Msg)

	w, out = e.do(t, http.MethodPost, "/api/v1/auth/extend-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, dataMap(t, out)["token"])

	w, out = e.do(t, http.MethodPost, "/api/v1/auth/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, dataMap(t, out)["success"])

	w, _ = e.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]any{"email": "a@x.com"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]any{"email": "nobody@x.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUsersCRUD(t *testing.T) {
	e := newEnv(t, "")
	e.register(t)

	w, out := e.do(t, http.MethodPost, "/api/v1/users", map[string]any{
		"name": "Bob Stone", "username": "bobstone", "email": "b@x.com", "password": "Secret1!",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	bob := dataMap(t, out)
	uuid := bob["uuid"].(string)
	assert.NotContains(t, bob, "password")

	w, out = e.do(t, http.MethodPost, "/api/v1/users", map[string]any{
		"name": "Bob Again", "username": "bobagain", "email": "b@x.com", "password": "Secret1!",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "users already exists!", out.Msg)

	w, out = e.do(t, http.MethodGet, "/api/v1/users", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out.Data, 2)

	w, out = e.do(t, http.MethodGet, "/api/v1/users/uuid/"+uuid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bobstone", dataMap(t, out)["username"])

	w, out = e.do(t, http.MethodGet, "/api/v1/users/email/b@x.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uuid, dataMap(t, out)["uuid"])

	w, _ = e.do(t, http.MethodGet, "/api/v1/users/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, out = e.do(t, http.MethodPut, "/api/v1/users/"+uuid, map[string]any{"name": "Robert Stone"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Robert Stone", dataMap(t, out)["name"])

	// 更新后缓存已清，读到新值
	w, out = e.do(t, http.MethodGet, "/api/v1/users/uuid/"+uuid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Robert Stone", dataMap(t, out)["name"])

	w, out = e.do(t, http.MethodPut, "/api/v1/users/"+uuid, map[string]any{"bio": "hello"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "hello", dataMap(t, out)["bio"])

	// 显式 null 清空 bio
	w, out = e.do(t, http.MethodPut, "/api/v1/users/"+uuid, map[string]any{"bio": nil})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Nil(t, dataMap(t, out)["bio"])
	assert.Equal(t, "Robert Stone", dataMap(t, out)["name"])

	w, out = e.do(t, http.MethodPost, "/api/v1/users/find", map[string]any{
		"filter":   map[string]any{"email": map[string]any{"$regex": "x.com"}},
		"paginate": map[string]any{"page": 1, "perPage": 1},
		"orderBy":  []map[string]any{{"sort": "name", "order": "asc"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page := dataMap(t, out)
	assert.EqualValues(t, 2, page["total"])
	assert.EqualValues(t, 2, page["totalPages"])

	w, _ = e.do(t, http.MethodPost, "/api/v1/users/find", map[string]any{"filter": map[string]any{"password": "x"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(t, http.MethodDelete, "/api/v1/users", map[string]any{"uuids": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = e.do(t, http.MethodDelete, "/api/v1/users", map[string]any{"uuids": []string{uuid, "missing"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, dataMap(t, out)["deletedCount"])

	w, _ = e.do(t, http.MethodDelete, "/api/v1/users/"+uuid, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, out = e.do(t, http.MethodGet, "/api/v1/users", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out.Data, 1)
}

func uploadCSV(t *testing.T, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "users.csv")
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestImportAndExport(t *testing.T) {
	const csvBody = "Name,Username,Email,Password,Bio\n" +
		"Carl Moss,carlmoss,c@x.com,Secret1!,NULL\n" +
		"Ann Dup,annlee,dup@x.com,Secret1!,UNDEFINED\n" +
		"Dora Lane,doralane,d@x.com,Secret1!,hello\n"

	for name, dir := range map[string]string{"buffer": "", "disk": "uploads"} {
		t.Run(name, func(t *testing.T) {
			uploadDir := ""
			if dir != "" {
				uploadDir = filepath.Join(t.TempDir(), dir)
			}
			e := newEnv(t, uploadDir)
			e.register(t)

			w, out := e.send(t, uploadCSV(t, csvBody))
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			res := dataMap(t, out)
			assert.EqualValues(t, 2, res["createdCount"])
			assert.EqualValues(t, 1, res["skippedCount"])

			if uploadDir != "" {
				entries, err := os.ReadDir(uploadDir)
				require.NoError(t, err)
				assert.Empty(t, entries)
			}

			w, _ = e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": "c@x.com", "password": "Secret1!"})
			assert.Equal(t, http.StatusOK, w.Code)

			w, _ = e.do(t, http.MethodGet, "/api/v1/users/export", nil)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
			assert.Equal(t, `attachment; filename="users.csv"`, w.Header().Get("Content-Disposition"))
			lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
			assert.Len(t, lines, 4)
			assert.NotContains(t, lines[0], "password")
		})
	}
}

func TestImportRejectsMissingFile(t *testing.T) {
	e := newEnv(t, "")
	e.register(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/import", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	w, _ := e.send(t, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, "")

	w, out := e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rep := dataMap(t, out)
	assert.Equal(t, "healthy", rep["status"])
	assert.Equal(t, "healthy", rep["database"].(map[string]any)["status"])

	w, out = e.do(t, http.MethodGet, "/health/clear-cache", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Cache cleared successfully", dataMap(t, out)["message"])

	w, _ = e.do(t, http.MethodGet, "/health/clear-logs", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")

	w, _ = e.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegistryPriority(t *testing.T) {
	var order []string
	var reg Registry
	reg.Register(namedModule{"late", 200, &order}, namedModule{"early", 1, &order}, namedModule{"default", 0, &order})
	reg.MountAll(gin.New().Group("/"))
	assert.Equal(t, []string{"early", "default", "late"}, order)
}

type namedModule struct {
	name string
	prio int
	out  *[]string
}

func (m namedModule) MountAPI(*gin.RouterGroup) { *m.out = append(*m.out, m.name) }

func (m namedModule) Priority() int {
	if m.prio == 0 {
		return 100
	}
	return m.prio
}


func TestGzipNegotiated(t *testing.T) {
	e := newEnv(t, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
}
