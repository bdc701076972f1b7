package review

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"reviewhub/pkg/errutil"
	"reviewhub/pkg/server"

	"github.com/gin-gonic/gin"
)

const maxScreenshotBytes = 10 << 20

type Handler struct {
	ctrl *Controller
}

func NewHandler(ctrl *Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

func (h *Handler) Register(api *server.API) {
	intern := api.Group("/intern")
	intern.GET("/tasks", h.ListTasks)
	intern.POST("/orders/:order_id/claim", h.Claim)
	intern.GET("/orders/:order_id/draft", h.GetDraft)
	intern.PUT("/orders/:order_id/draft", h.SaveDraft)
	intern.POST("/orders/:order_id/draft/submit", h.SubmitDraft)
	intern.POST("/orders/:order_id/proof", h.SubmitProof)
	intern.GET("/earnings", h.Earnings)
}

type listTasksQuery struct {
	Search string `form:"search"`
	Filter string `form:"filter"`
}

type draftResponse struct {
	OrderID        string    `json:"order_id"`
	ReviewText     string    `json:"review_text"`
	HasScreenshot  bool      `json:"has_screenshot"`
	ScreenshotName string    `json:"screenshot_name,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newDraftResponse(orderID string, d Draft) draftResponse {
	return draftResponse{
		OrderID:        orderID,
		ReviewText:     d.ReviewText,
		HasScreenshot:  !d.Screenshot.Empty(),
		ScreenshotName: d.Screenshot.Filename,
		UpdatedAt:      d.UpdatedAt,
	}
}

// respondBoard writes the board, or a stale board when only the refresh failed.
func respondBoard(c *gin.Context, board *Board, err error, q listTasksQuery) {
	if err != nil && !(board != nil && errors.Is(err, ErrFetch)) {
		_ = c.Error(err)
		return
	}

	filter, _ := ParseFilter(q.Filter)
	c.JSON(http.StatusOK, board.View(q.Search, filter))
}

func (h *Handler) ListTasks(c *gin.Context) {
	var q listTasksQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	if _, ok := ParseFilter(q.Filter); !ok {
		_ = c.Error(errutil.BadRequest("filter must be one of all, available, claimed", nil,
			errutil.WithDetails(errutil.Detail{Field: "filter", Message: "unsupported value"})))
		return
	}

	board, err := h.ctrl.FetchOrdersWithTasks(c.Request.Context())
	respondBoard(c, board, err, q)
}

func (h *Handler) Claim(c *gin.Context) {
	board, err := h.ctrl.ClaimTask(c.Request.Context(), c.Param("order_id"))
	respondBoard(c, board, err, listTasksQuery{})
}

func (h *Handler) GetDraft(c *gin.Context) {
	orderID := c.Param("order_id")
	d, ok, err := h.ctrl.Draft(c.Request.Context(), orderID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !ok {
		_ = c.Error(errutil.NotFound("no draft for this order", nil))
		return
	}
	c.JSON(http.StatusOK, newDraftResponse(orderID, d))
}

func (h *Handler) SaveDraft(c *gin.Context) {
	orderID := c.Param("order_id")
	shot, err := readScreenshot(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	d, err := h.ctrl.SaveDraft(c.Request.Context(), orderID, shot, c.PostForm("review_text"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, newDraftResponse(orderID, d))
}

func (h *Handler) SubmitProof(c *gin.Context) {
	shot, err := readScreenshot(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	board, err := h.ctrl.SubmitProof(c.Request.Context(), c.Param("order_id"), shot, c.PostForm("review_text"))
	respondBoard(c, board, err, listTasksQuery{})
}

func (h *Handler) SubmitDraft(c *gin.Context) {
	board, err := h.ctrl.SubmitDraft(c.Request.Context(), c.Param("order_id"))
	respondBoard(c, board, err, listTasksQuery{})
}

func (h *Handler) Earnings(c *gin.Context) {
	out, err := h.ctrl.Earnings(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// readScreenshot returns an empty Screenshot when the form carries no file.
func readScreenshot(c *gin.Context) (Screenshot, error) {
	fh, err := c.FormFile("screenshot")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return Screenshot{}, nil
	}
	if err != nil {
		return Screenshot{}, errutil.BadRequest("invalid multipart form", err)
	}
	if fh.Size > maxScreenshotBytes {
		return Screenshot{}, errutil.BadRequest("screenshot is larger than 10MB", nil)
	}

	f, err := fh.Open()
	if err != nil {
		return Screenshot{}, errutil.BadRequest("unreadable screenshot", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxScreenshotBytes+1))
	if err != nil {
		return Screenshot{}, errutil.BadRequest("unreadable screenshot", err)
	}
	if len(data) > maxScreenshotBytes {
		return Screenshot{}, errutil.BadRequest("screenshot is larger than 10MB", nil)
	}
	if len(data) > 0 && !strings.HasPrefix(http.DetectContentType(data), "image/") {
		return Screenshot{}, errutil.UnsupportedMediaType("screenshot must be an image", nil)
	}

	return Screenshot{Filename: fh.Filename, Data: data}, nil
}
