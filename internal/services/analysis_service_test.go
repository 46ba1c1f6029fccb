package services

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-screenshot-advisor/internal/cache"
	"github.com/tbourn/go-screenshot-advisor/internal/domain"
	"github.com/tbourn/go-screenshot-advisor/internal/hashing"
	"github.com/tbourn/go-screenshot-advisor/internal/quota"
	"github.com/tbourn/go-screenshot-advisor/internal/repo"
	"github.com/tbourn/go-screenshot-advisor/internal/storage"
)

// ---------- fixtures ----------

var (
	pngA = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR-screenshot-A")
	pngB = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR-screenshot-B")
)

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func timeNowUTC() time.Time { return time.Now().UTC() }

const testModel = "gemini-test"

type fakeRepo struct {
	mu         sync.Mutex
	users      map[string]*domain.User
	categories map[string]*domain.Category
	advice     map[string]*domain.Advice
	prefs      []repo.PreferenceAnswer
	createErr  error
	records    []*domain.RequestRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users: map[string]*domain.User{
			"u1":      {ID: "u1", Role: "user", Approved: true},
			"admin":   {ID: "admin", Role: "admin", Approved: true},
			"pending": {ID: "pending", Role: "user", Approved: false},
		},
		categories: map[string]*domain.Category{
			"fps": {ID: "fps", Name: "Shooters"},
			"rpg": {ID: "rpg", Name: "Role-playing"},
		},
		advice: map[string]*domain.Advice{
			"aim":   {ID: "aim", CategoryID: "fps", Name: "Aim training", Description: "Improve crosshair placement."},
			"build": {ID: "build", CategoryID: "rpg", Name: "Character build"},
		},
	}
}

func (r *fakeRepo) GetUser(_ context.Context, _ *gorm.DB, id string) (*domain.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, repo.ErrNotFound
}

func (r *fakeRepo) GetCategory(_ context.Context, _ *gorm.DB, id string) (*domain.Category, error) {
	if c, ok := r.categories[id]; ok {
		return c, nil
	}
	return nil, repo.ErrNotFound
}

func (r *fakeRepo) GetAdvice(_ context.Context, _ *gorm.DB, id, categoryID string) (*domain.Advice, error) {
	if a, ok := r.advice[id]; ok && a.CategoryID == categoryID {
		return a, nil
	}
	return nil, repo.ErrNotFound
}

func (r *fakeRepo) ListPreferenceAnswers(context.Context, *gorm.DB, string) ([]repo.PreferenceAnswer, error) {
	return r.prefs, nil
}

func (r *fakeRepo) CreateRequest(_ context.Context, _ *gorm.DB, rec *domain.RequestRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	rec.ImageCount = len(rec.ImageURLs)
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRepo) recordCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// memCounter is an in-process quota.Counter.
type memCounter struct {
	mu   sync.Mutex
	used map[string]int
}

func newMemCounter() *memCounter { return &memCounter{used: map[string]int{}} }

func (c *memCounter) Used(_ context.Context, userID, day string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used[userID+"|"+day], nil
}

func (c *memCounter) Reserve(_ context.Context, userID, day string, n, limit int) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := userID + "|" + day
	if c.used[k]+n > limit {
		return c.used[k], false, nil
	}
	c.used[k] += n
	return c.used[k], true, nil
}

func (c *memCounter) Release(_ context.Context, userID, day string, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := userID + "|" + day
	c.used[k] -= n
	if c.used[k] < 0 {
		c.used[k] = 0
	}
	return nil
}

func (c *memCounter) today(userID string) int {
	n, _ := c.Used(context.Background(), userID, quota.Day(timeNowUTC()))
	return n
}

type mockExtractor struct{ mock.Mock }

func (m *mockExtractor) Extract(ctx context.Context, image []byte) (string, error) {
	args := m.Called(ctx, image)
	return args.String(0), args.Error(1)
}

type mockCompleter struct{ mock.Mock }

func (m *mockCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

func (m *mockCompleter) Model() string { return testModel }

type mockUploader struct{ mock.Mock }

func (m *mockUploader) UploadAll(ctx context.Context, userID, requestID string, images [][]byte) ([]string, error) {
	args := m.Called(ctx, userID, requestID, images)
	urls, _ := args.Get(0).([]string)
	return urls, args.Error(1)
}

func (m *mockUploader) DeleteAll(ctx context.Context, urls []string) []error {
	args := m.Called(ctx, urls)
	errs, _ := args.Get(0).([]error)
	return errs
}

type harness struct {
	svc     *AnalysisService
	repo    *fakeRepo
	counter *memCounter
	ocr     *mockExtractor
	ai      *mockCompleter
	up      *mockUploader
	cache   *cache.RedisStore
	redis   *miniredis.Miniredis
}

func newHarness(t *testing.T, dailyLimit int) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	h := &harness{
		repo:    newFakeRepo(),
		counter: newMemCounter(),
		ocr:     &mockExtractor{},
		ai:      &mockCompleter{},
		up:      &mockUploader{},
		cache:   cache.NewRedisStore(rc, "cache", 0),
		redis:   mr,
	}
	h.svc = NewAnalysisService(nil, h.repo, quota.NewGuard(h.counter, dailyLimit, []string{"admin"}),
		h.cache, h.ocr, h.ai, h.up)
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	require.NoError(t, h.svc.Wait(context.Background()))
}

func (h *harness) cacheKeys() []string {
	var out []string
	for _, k := range h.redis.Keys() {
		if strings.HasPrefix(k, "cache:") {
			out = append(out, k)
		}
	}
	return out
}

func uploadOK(up *mockUploader, urls ...string) {
	up.On("UploadAll", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(urls, nil)
}

func fpsInput(userID string, images ...[]byte) AnalysisInput {
	in := AnalysisInput{UserID: userID, CategoryID: "fps", AdviceID: "aim"}
	for _, img := range images {
		in.Images = append(in.Images, b64(img))
	}
	return in
}

// ---------- cache hit ----------

func TestAnalyze_CacheHit_SkipsOCRAndAI(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	key := hashing.CacheKey(hashing.Fingerprint{
		CategoryID: "fps", AdviceID: "aim",
		TextHash:   hashing.HashText(""),
		ImagesHash: hashing.HashDigestSet([]string{hashing.HashBytes(pngA)}),
		Model:      testModel,
	})
	require.NoError(t, h.cache.Insert(ctx, &domain.CacheEntry{
		CacheKey: key, CategoryID: "fps", AdviceID: "aim",
		Result: datatypes.NewJSONType(domain.CacheResult{ModelResponse: "Aim lower.", OCRText: "Ammo 30"}),
	}))
	uploadOK(h.up, "https://cdn/u1/r_0.png")

	res, err := h.svc.Analyze(ctx, fpsInput("u1", pngA))
	require.NoError(t, err)

	assert.True(t, res.Cached)
	assert.Equal(t, "Aim lower.", res.AIResponse)
	assert.Equal(t, "Ammo 30", res.OCRText)
	assert.Equal(t, []string{"https://cdn/u1/r_0.png"}, res.ImageURLs)
	h.ocr.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	h.ai.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)

	// Cache hits still count against the daily quota and are recorded.
	assert.Equal(t, 1, h.counter.today("u1"))
	require.Equal(t, 1, h.repo.recordCount())
	assert.Equal(t, res.RequestID, h.repo.records[0].ID)
}

func TestAnalyze_CacheHit_StillEnforcesQuota(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	key := hashing.CacheKey(hashing.Fingerprint{
		CategoryID: "fps", AdviceID: "aim",
		TextHash:   hashing.HashText(""),
		ImagesHash: hashing.HashDigestSet([]string{hashing.HashBytes(pngA), hashing.HashBytes(pngB)}),
		Model:      testModel,
	})
	require.NoError(t, h.cache.Insert(ctx, &domain.CacheEntry{
		CacheKey: key, Result: datatypes.NewJSONType(domain.CacheResult{ModelResponse: "x"}),
	}))

	_, err := h.svc.Analyze(ctx, fpsInput("u1", pngA, pngB))
	require.ErrorIs(t, err, ErrQuotaExceeded)
	h.up.AssertNotCalled(t, "UploadAll", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, h.repo.recordCount())
}

// ---------- failure paths ----------

func TestAnalyze_AllOCRFailed_NoSideEffects(t *testing.T) {
	h := newHarness(t, 10)
	h.ocr.On("Extract", mock.Anything, mock.Anything).Return("", errors.New("vision unavailable"))

	_, err := h.svc.Analyze(context.Background(), fpsInput("u1", pngA, pngB))
	require.ErrorIs(t, err, ErrOCRFailed)

	h.ocr.AssertNumberOfCalls(t, "Extract", 2)
	h.ai.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
	h.up.AssertNotCalled(t, "UploadAll", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, h.repo.recordCount())
	assert.Equal(t, 0, h.counter.today("u1"))
}

func TestAnalyze_AIFailure_NoUploadNoRecord(t *testing.T) {
	h := newHarness(t, 10)
	h.ocr.On("Extract", mock.Anything, mock.Anything).Return("HP:100", nil)
	h.ai.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("503"))

	_, err := h.svc.Analyze(context.Background(), fpsInput("u1", pngA))
	require.ErrorIs(t, err, ErrAIFailed)

	h.up.AssertNotCalled(t, "UploadAll", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, h.repo.recordCount())
	assert.Equal(t, 0, h.counter.today("u1"))
	h.wait(t)
	assert.Empty(t, h.cacheKeys())
}

func TestAnalyze_PersistFailure_DeletesExactlyUploadedURLs(t *testing.T) {
	h := newHarness(t, 10)
	h.repo.createErr = errors.New("disk full")
	h.ocr.On("Extract", mock.Anything, mock.Anything).Return("HP:100", nil)
	h.ai.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("Heal now.", nil)
	urls := []string{"https://cdn/u1/x_0.png", "https://cdn/u1/x_1.png"}
	uploadOK(h.up, urls...)
	h.up.On("DeleteAll", mock.Anything, mock.Anything).Return([]error(nil))

	_, err := h.svc.Analyze(context.Background(), fpsInput("u1", pngA, pngB))
	require.ErrorIs(t, err, ErrPersistFailed)

	h.up.AssertNumberOfCalls(t, "DeleteAll", 1)
	h.up.AssertCalled(t, "DeleteAll", mock.Anything, urls)
	assert.Equal(t, 0, h.counter.today("u1"), "reserved quota is released")
	h.wait(t)
	assert.Empty(t, h.cacheKeys(), "nothing is cached for a failed run")
}

func TestAnalyze_UploadFailure_ReleasesQuota(t *testing.T) {
	h := newHarness(t, 10)
	h.ocr.On("Extract", mock.Anything, mock.Anything).Return("HP:100", nil)
	h.ai.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("Heal now.", nil)
	h.up.On("UploadAll", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, storage.ErrUploadFailed)

	_, err := h.svc.Analyze(context.Background(), fpsInput("u1", pngA))
	require.ErrorIs(t, err, ErrStorageFailed)
	assert.ErrorIs(t, err, storage.ErrUploadFailed)

	h.up.AssertNotCalled(t, "DeleteAll", mock.Anything, mock.Anything)
	assert.Equal(t, 0, h.repo.recordCount())
	assert.Equal(t, 0, h.counter.today("u1"))
}

func TestAnalyze_CacheWriteFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, 10)
	h.svc.Cache = failingCache{}
	h.ocr.On("Extract", mock.Anything, mock.Anything).Return("HP:100", nil)
	h.ai.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("Heal now.", nil)
	uploadOK(h.up, "https://cdn/u1/x_0.png")

	before := testutil.ToFloat64(cacheWriteFailures)
	res, err := h.svc.Analyze(context.Background(), fpsInput("u1", pngA))
	require.NoError(t, err)
	assert.Equal(t, "Heal now.", res.AIResponse)

	h.wait(t)
	assert.Equal(t, before+1, testutil.ToFloat64(cacheWriteFailures))
	assert.Equal(t, 1, h.repo.recordCount())
}

type failingCache struct{}

func (failingCache) Lookup(context.Context, string) (*domain.CacheEntry, error) {
	return nil, cache.ErrMiss
}

func (failingCache) Insert(context.Context, *domain.CacheEntry) error {
	return errors.New("cache down")
}

// ---------- quota ----------

func TestAnalyze_QuotaExceeded_ReportsRemaining(t *testing.T) {
	h := newHarness(t, 5)
	_, _, _ = h.counter.Reserve(context.Background(), "u1", quota.Day(timeNowUTC()), 3, 5)

	_, err := h.svc.Analyze(context.Background(), fpsInput("u1", pngA, pngB, pngA))
	require.ErrorIs(t, err, ErrQuotaExceeded)

	var qe *QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.True(t, qe.Decision.Exceeded)
	assert.Equal(t, 2, qe.Decision.RemainingImages)
	assert.Equal(t, 5, qe.Decision.Limit)
	assert.False(t, qe.Decision.ResetAt.IsZero())
	h.ocr.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestAnalyze_UnlimitedRoleBypassesQuota(t *testing.T) {
	h := newHarness(t, 0)
	h.ocr.On("Extract", mock.Anything, mock.Anything).Return("HP:100", nil)
	h.ai.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("ok", nil)
	uploadOK(h.up, "a", "b")

	_, err := h.svc.Analyze(context.Background(), fpsInput("admin", pngA, pngB))
	require.NoError(t, err)
	assert.Equal(t, 0, h.counter.today("admin"))
}

// ---------- idempotence ----------

func TestAnalyze_RepeatedRequest_ReusesCacheEntry(t *testing.T) {
	h := newHarness(t, 10)
	h.ocr.On("Extract", mock.Anything, mock.Anything).Return("HP:100", nil)
	h.ai.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("Heal now.", nil)
	uploadOK(h.up, "https://cdn/u1/x_0.png")

	first, err := h.svc.Analyze(context.Background(), fpsInput("u1", pngA))
	require.NoError(t, err)
	assert.False(t, first.Cached)
	h.wait(t)

	second, err := h.svc.Analyze(context.Background(), fpsInput("u1", pngA))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.AIResponse, second.AIResponse)
	assert.NotEqual(t, first.RequestID, second.RequestID)

	h.ai.AssertNumberOfCalls(t, "Complete", 1)
	h.ocr.AssertNumberOfCalls(t, "Extract", 1)
	assert.Equal(t, 2, h.repo.recordCount())
	assert.Len(t, h.cacheKeys(), 1)
	assert.Equal(t, 2, h.counter.today("u1"))
}

func TestAnalyze_ReorderedImagesWithText_HitsCache(t *testing.T) {
	h := newHarness(t, 10)
	h.ai.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("Reload, then heal.", nil)
	uploadOK(h.up, "https://cdn/u1/x_0.png", "https://cdn/u1/x_1.png")

	in := fpsInput("u1", pngA, pngB)
	in.OCRTexts = []string{"HP:100", "Ammo 30"}
	first, err := h.svc.Analyze(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	h.wait(t)

	swapped := fpsInput("u1", pngB, pngA)
	swapped.OCRTexts = []string{"Ammo 30", "HP:100"}
	second, err := h.svc.Analyze(context.Background(), swapped)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.AIResponse, second.AIResponse)

	h.ai.AssertNumberOfCalls(t, "Complete", 1)
	h.ocr.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	assert.Len(t, h.cacheKeys(), 1)
}

func TestAnalyze_TextOnDifferentImage_MissesCache(t *testing.T) {
	h := newHarness(t, 10)
	h.ocr.On("Extract", mock.Anything, mock.Anything).Return("", nil)
	h.ai.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("Take cover.", nil)
	uploadOK(h.up, "a", "b")

	in := fpsInput("u1", pngA, pngB)
	in.OCRTexts = []string{"Shield low", ""}
	_, err := h.svc.Analyze(context.Background(), in)
	require.NoError(t, err)
	h.wait(t)

	moved := fpsInput("u1", pngA, pngB)
	moved.OCRTexts = []string{"", "Shield low"}
	res, err := h.svc.Analyze(context.Background(), moved)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	h.ai.AssertNumberOfCalls(t, "Complete", 2)
}

// ---------- end to end ----------

func TestAnalyze_PartialOCRFailure_EndToEnd(t *testing.T) {
	h := newHarness(t, 10)
	mem := storage.NewMemoryStore("https://cdn.example.com")
	h.svc.Images = storage.NewImageStore(mem)

	h.ocr.On("Extract", mock.Anything, pngA).Return("", errors.New("deadline exceeded"))
	h.ocr.On("Extract", mock.Anything, pngB).Return("HP:100", nil)
	h.ai.On("Complete", mock.Anything, mock.Anything,
		mock.MatchedBy(func(user string) bool {
			return strings.Contains(user, "HP:100") && strings.Contains(user, "Aim training")
		}),
	).Return("Use a medkit.", nil)

	res, err := h.svc.Analyze(context.Background(), fpsInput("u1", pngA, pngB))
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnOCRPartialFailure, res.Warnings[0].Code)
	assert.Equal(t, "HP:100", res.OCRText)
	assert.Equal(t, "Use a medkit.", res.AIResponse)
	h.ai.AssertNumberOfCalls(t, "Complete", 1)

	require.Equal(t, 1, h.repo.recordCount())
	rec := h.repo.records[0]
	assert.Equal(t, "HP:100", rec.OCRText)
	require.Len(t, rec.ImageURLs, 2)
	assert.Equal(t, "https://cdn.example.com/u1/"+rec.ID+"_0.png", rec.ImageURLs[0])
	assert.Equal(t, "https://cdn.example.com/u1/"+rec.ID+"_1.png", rec.ImageURLs[1])
	assert.Equal(t, 2, mem.Len())
	assert.Equal(t, 2, h.counter.today("u1"))
}

func TestAnalyze_PreExtractedTextSkipsOCR(t *testing.T) {
	h := newHarness(t, 10)
	h.ai.On("Complete", mock.Anything, mock.Anything,
		mock.MatchedBy(func(user string) bool { return strings.Contains(user, "Ammo: 30") }),
	).Return("Reload.", nil)
	uploadOK(h.up, "a")

	in := fpsInput("u1", pngA)
	in.OCRTexts = []string{"Ammo: 30"}
	res, err := h.svc.Analyze(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "Ammo: 30", res.OCRText)
	assert.Empty(t, res.Warnings)
	h.ocr.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestAnalyze_NoTextDetectedWarning(t *testing.T) {
	h := newHarness(t, 10)
	h.ocr.On("Extract", mock.Anything, mock.Anything).Return("", nil)
	h.ai.On("Complete", mock.Anything, mock.Anything,
		mock.MatchedBy(func(user string) bool { return strings.Contains(user, "No text could be extracted") }),
	).Return("Generic tips.", nil)
	uploadOK(h.up, "a")

	res, err := h.svc.Analyze(context.Background(), fpsInput("u1", pngA))
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnNoTextDetected, res.Warnings[0].Code)
	assert.Equal(t, "", res.OCRText)
}

// ---------- validation ----------

func TestAnalyze_ValidationErrors_HaveNoSideEffects(t *testing.T) {
	big := append(append([]byte(nil), pngA...), make([]byte, 64)...)

	cases := []struct {
		name string
		in   AnalysisInput
		want error
	}{
		{"no user", fpsInput("", pngA), ErrUnauthorized},
		{"unknown user", fpsInput("ghost", pngA), ErrUnauthorized},
		{"not approved", fpsInput("pending", pngA), ErrNotApproved},
		{"no images", fpsInput("u1"), ErrValidation},
		{"too many images", fpsInput("u1", pngA, pngA, pngA, pngA, pngA, pngA), ErrValidation},
		{"bad base64", AnalysisInput{UserID: "u1", CategoryID: "fps", AdviceID: "aim", Images: []string{"@@not-base64@@"}}, ErrValidation},
		{"oversized image", fpsInput("u1", big), ErrValidation},
		{"not an image", fpsInput("u1", []byte("%PDF-1.7 definitely not a screenshot")), ErrValidation},
		{"missing category", AnalysisInput{UserID: "u1", AdviceID: "aim", Images: []string{b64(pngA)}}, ErrValidation},
		{"missing advice", AnalysisInput{UserID: "u1", CategoryID: "fps", Images: []string{b64(pngA)}}, ErrValidation},
		{"unknown category", AnalysisInput{UserID: "u1", CategoryID: "moba", AdviceID: "aim", Images: []string{b64(pngA)}}, ErrInvalidCategory},
		{"advice of other category", AnalysisInput{UserID: "u1", CategoryID: "fps", AdviceID: "build", Images: []string{b64(pngA)}}, ErrInvalidAdvice},
		{"more texts than images", AnalysisInput{UserID: "u1", CategoryID: "fps", AdviceID: "aim", Images: []string{b64(pngA)}, OCRTexts: []string{"a", "b"}}, ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, 10)
			h.svc.MaxImageBytes = len(pngA) + 32

			_, err := h.svc.Analyze(context.Background(), tc.in)
			require.ErrorIs(t, err, tc.want)

			h.ocr.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
			h.ai.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
			h.up.AssertNotCalled(t, "UploadAll", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			assert.Equal(t, 0, h.repo.recordCount())
		})
	}
}

func TestAnalyze_DataURLPayloadAccepted(t *testing.T) {
	h := newHarness(t, 10)
	h.ocr.On("Extract", mock.Anything, pngA).Return("HP:100", nil)
	h.ai.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("ok", nil)
	uploadOK(h.up, "a")

	in := fpsInput("u1")
	in.Images = []string{"data:image/png;base64," + b64(pngA)}
	_, err := h.svc.Analyze(context.Background(), in)
	require.NoError(t, err)
	h.ocr.AssertCalled(t, "Extract", mock.Anything, pngA)
}

func TestValidationError_Message(t *testing.T) {
	err := invalid("images[2]", "is %d bytes", 9)
	assert.Equal(t, "images[2]: is 9 bytes", err.Error())
	assert.ErrorIs(t, err, ErrValidation)
	assert.False(t, errors.Is(err, ErrQuotaExceeded))
}
