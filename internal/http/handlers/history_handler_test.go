package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-screenshot-advisor/internal/domain"
	"github.com/tbourn/go-screenshot-advisor/internal/http/middleware"
	"github.com/tbourn/go-screenshot-advisor/internal/quota"
	"github.com/tbourn/go-screenshot-advisor/internal/repo"
	"github.com/tbourn/go-screenshot-advisor/internal/services"
)

// ---------- test DB + repo shim ----------

func newHistoryDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:history_handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testHistoryRepo struct{}

func (testHistoryRepo) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}

func (testHistoryRepo) GetRequest(ctx context.Context, db *gorm.DB, id, userID string) (*domain.RequestRecord, error) {
	return repo.GetRequest(ctx, db, id, userID)
}

func (testHistoryRepo) CountRequests(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountRequests(ctx, db, userID)
}

func (testHistoryRepo) ListRequestsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.RequestRecord, error) {
	return repo.ListRequestsPage(ctx, db, userID, offset, limit)
}

func (testHistoryRepo) RequestsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.RequestsStats(ctx, db, userID)
}

func (testHistoryRepo) CountImagesSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error) {
	return repo.CountImagesSince(ctx, db, userID, since)
}

func historyRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newHistoryDB(t)
	guard := quota.NewGuard(quota.NewDBCounter(db), 10, []string{"admin"})
	h := New(nil, services.NewHistoryService(db, testHistoryRepo{}, guard), nil)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Auth(middleware.AuthOptions{}))
	r.GET("/requests", h.ListRequests)
	r.GET("/requests/:id", h.GetRequest)
	r.GET("/usage", h.GetUsage)
	return r, db
}

func seed(t *testing.T, db *gorm.DB, id, uid string, at time.Time, images int) {
	t.Helper()
	urls := make([]string, images)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://cdn/%s/%s_%d.png", uid, id, i)
	}
	rec := &domain.RequestRecord{
		ID: id, UserID: uid, CategoryID: "fps", AdviceID: "aim",
		OCRText: "HP 40", ModelResponse: "advice " + id, ImageURLs: urls, ImageCount: images, CreatedAt: at,
	}
	if err := repo.CreateRequest(context.Background(), db, rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func get(r http.Handler, path, uid string, hdr ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(middleware.HeaderUserID, uid)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------- tests ----------

func TestListRequests_PaginationAndETag(t *testing.T) {
	r, db := historyRouter(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		seed(t, db, fmt.Sprintf("r%d", i), "u1", base.Add(time.Duration(i)*time.Minute), 1)
	}
	seed(t, db, "other", "u2", base, 1)

	w := get(r, "/requests?page=1&page_size=2", "u1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp ListRequestsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Requests) != 2 || resp.Requests[0].ID != "r2" {
		t.Fatalf("unexpected page: %+v", resp.Requests)
	}
	if p := resp.Pagination; p.Total != 3 || p.TotalPages != 2 || !p.HasNext || p.PageSize != 2 {
		t.Fatalf("unexpected pagination: %+v", p)
	}
	if resp.Requests[0].AIResponse != "advice r2" || len(resp.Requests[0].ImageURLs) != 1 {
		t.Fatalf("unexpected view: %+v", resp.Requests[0])
	}

	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("expected ETag")
	}
	if w2 := get(r, "/requests?page=1&page_size=2", "u1", "If-None-Match", etag); w2.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w2.Code)
	}
	// Another page has another tag.
	if w3 := get(r, "/requests?page=2&page_size=2", "u1", "If-None-Match", etag); w3.Code != http.StatusOK {
		t.Fatalf("expected 200 for page 2, got %d", w3.Code)
	}
	// A new analysis invalidates the tag.
	seed(t, db, "r3", "u1", time.Now().UTC(), 2)
	if w4 := get(r, "/requests?page=1&page_size=2", "u1", "If-None-Match", etag); w4.Code != http.StatusOK {
		t.Fatalf("expected 200 after change, got %d", w4.Code)
	}
}

func TestListRequests_EmptyIsArray(t *testing.T) {
	r, _ := historyRouter(t)
	w := get(r, "/requests", "nobody")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var raw map[string]json.RawMessage
	_ = json.Unmarshal(w.Body.Bytes(), &raw)
	if string(raw["requests"]) != "[]" {
		t.Fatalf("requests = %s", raw["requests"])
	}
}

func TestGetRequest_OwnershipAndNotFound(t *testing.T) {
	r, db := historyRouter(t)
	seed(t, db, "r1", "u1", time.Now().UTC(), 2)

	w := get(r, "/requests/r1", "u1")
	if w.Code != http.StatusOK {
		t.Fatalf("owner: %d", w.Code)
	}
	var v RequestView
	_ = json.Unmarshal(w.Body.Bytes(), &v)
	if v.ID != "r1" || v.ImageCount != 2 || len(v.ImageURLs) != 2 {
		t.Fatalf("unexpected view: %+v", v)
	}

	for _, tc := range []struct{ path, uid string }{{"/requests/r1", "u2"}, {"/requests/nope", "u1"}} {
		w := get(r, tc.path, tc.uid)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s as %s: %d", tc.path, tc.uid, w.Code)
		}
		var er ErrorResponse
		_ = json.Unmarshal(w.Body.Bytes(), &er)
		if er.Error != ErrCodeNotFound {
			t.Fatalf("unexpected envelope: %+v", er)
		}
	}
}

func TestGetUsage(t *testing.T) {
	r, db := historyRouter(t)
	if err := db.Create(&domain.User{ID: "u1", Role: "user", Approved: true}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if _, _, err := quota.NewDBCounter(db).Reserve(context.Background(), "u1", quota.Day(time.Now()), 4, 10); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	w := get(r, "/usage", "u1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var got map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got["limit"] != float64(10) || got["used"] != float64(4) || got["remainingImages"] != float64(6) {
		t.Fatalf("unexpected usage: %v", got)
	}
	if _, ok := got["resetAt"]; !ok {
		t.Fatalf("resetAt missing: %v", got)
	}

	if w := get(r, "/usage", "ghost"); w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user: %d", w.Code)
	}
}
