package order

import (
	"errors"
	"net/http"
	"strings"

	"reviewhub/pkg/errutil"
	"reviewhub/pkg/server"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(api *server.API) {
	client := api.Group("/client")
	client.POST("/orders", h.CreateOrder)
	client.GET("/orders", h.ListOrders)
	client.GET("/orders/:order_id", h.GetOrder)
	client.POST("/orders/:order_id/cancel", h.CancelOrder)
	client.GET("/dashboard", h.Dashboard)

	admin := api.Group("/admin")
	admin.GET("/orders", h.ListAllOrders)
	admin.GET("/overview", h.Overview)
}

// bindError turns binding failures into a validation error listing each field.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errutil.BadRequest("malformed request body", err)
	}

	details := make([]errutil.Detail, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, errutil.Detail{
			Field:   strings.ToLower(fe.Field()),
			Message: "failed on " + fe.Tag(),
		})
	}
	return errutil.ValidationFailed("invalid request", err, errutil.WithDetails(details...))
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	out, err := h.svc.CreateOrder(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListOrders(c *gin.Context) {
	var req ListOrdersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	out, err := h.svc.ListOrders(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetOrder(c *gin.Context) {
	out, err := h.svc.GetOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) CancelOrder(c *gin.Context) {
	out, err := h.svc.CancelOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Dashboard(c *gin.Context) {
	out, err := h.svc.Dashboard(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ListAllOrders(c *gin.Context) {
	var req ListOrdersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	out, err := h.svc.ListAllOrders(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Overview(c *gin.Context) {
	out, err := h.svc.Overview(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}
