// History and usage HTTP handlers.
//
//   - GET /requests        list stored analyses (paginated, ETag support)
//   - GET /requests/{id}   one stored analysis
//   - GET /usage           today's quota state
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-screenshot-advisor/internal/domain"
	"github.com/tbourn/go-screenshot-advisor/internal/services"
	"github.com/tbourn/go-screenshot-advisor/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// RequestView is a stored analysis as returned to its owner.
type RequestView struct {
	ID         string    `json:"id"         example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	CategoryID string    `json:"categoryId" example:"fps"`
	AdviceID   string    `json:"adviceId"   example:"aim"`
	OCRText    string    `json:"ocrText"`
	AIResponse string    `json:"aiResponse"`
	ImageURLs  []string  `json:"imageUrls"`
	ImageCount int       `json:"imageCount" example:"2"`
	CreatedAt  time.Time `json:"createdAt"`
	Rating     *int      `json:"rating,omitempty"`
}

// ListRequestsResponse wraps a page of analyses and pagination information.
type ListRequestsResponse struct {
	Requests   []RequestView `json:"requests"`
	Pagination Pagination    `json:"pagination"`
}

func toView(r *domain.RequestRecord) RequestView {
	urls := []string(r.ImageURLs)
	if urls == nil {
		urls = []string{}
	}
	return RequestView{
		ID:         r.ID,
		CategoryID: r.CategoryID,
		AdviceID:   r.AdviceID,
		OCRText:    r.OCRText,
		AIResponse: r.ModelResponse,
		ImageURLs:  urls,
		ImageCount: r.ImageCount,
		CreatedAt:  r.CreatedAt,
		Rating:     r.Rating,
	}
}

// clampPagination parses page and page_size with defaults and caps.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	return utils.ParsePage(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)
}

// ListRequests godoc
// @ID          listRequests
// @Summary     List stored analyses (paginated)
// @Description Returns the caller's analyses, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        History
// @Produce     json
//
// @Param       Authorization  header  string  false "Bearer token"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListRequestsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Not authenticated"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests [get]
func (h *Handlers) ListRequests(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	if uid == "" {
		failErr(c, services.ErrUnauthorized)
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.history.Stats(ctx, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"requests:%s:%d:%d:%d:%d"`, uid, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.history.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}

	views := make([]RequestView, 0, len(items))
	for i := range items {
		views = append(views, toView(&items[i]))
	}
	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListRequestsResponse{
		Requests: views,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetRequest godoc
// @ID          getRequest
// @Summary     Get one stored analysis
// @Tags        History
// @Produce     json
//
// @Param       Authorization  header  string  false "Bearer token"
// @Param       id             path    string  true  "Request ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.RequestView
// @Failure     401  {object} handlers.ErrorResponse "Not authenticated"
// @Failure     404  {object} handlers.ErrorResponse "Not found or not owned by caller"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests/{id} [get]
func (h *Handlers) GetRequest(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		failErr(c, services.ErrUnauthorized)
		return
	}
	rec, err := h.history.Get(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, toView(rec))
}

// GetUsage godoc
// @ID          getUsage
// @Summary     Today's screenshot quota
// @Description Limit, used and remaining images for the current UTC day and when the counter resets.
// @Tags        Usage
// @Produce     json
//
// @Param       Authorization  header  string  false "Bearer token"
//
// @Success     200  {object} services.Usage
// @Failure     401  {object} handlers.ErrorResponse "Not authenticated"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /usage [get]
func (h *Handlers) GetUsage(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		failErr(c, services.ErrUnauthorized)
		return
	}
	u, err := h.history.Usage(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}
