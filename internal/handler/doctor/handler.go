// Package doctor exposes the triage endpoints: the dashboard with its
// lazy sweep, accepting pool cases, review, and test orders.
package doctor

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/medifusion/triage-api/internal/handler"
	"github.com/medifusion/triage-api/internal/middleware"
	"github.com/medifusion/triage-api/internal/model"
	"github.com/medifusion/triage-api/internal/service/triage"
)

type Handler struct {
	service *triage.Service
}

func NewHandler(service *triage.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dashboard", h.Dashboard)
	r.GET("/stats", h.Stats)

	cases := r.Group("/cases")
	{
		cases.POST("/:id/accept", h.AcceptCase)
		cases.POST("/:id/review", h.ReviewCase)
		cases.POST("/:id/order-test", h.OrderTest)
		cases.GET("/:id", h.GetCase)
	}
	r.GET("/patients/:id/history", h.PatientHistory)
}

func (h *Handler) Dashboard(c *gin.Context) {
	actor, _ := middleware.GetActor(c)
	dash, err := h.service.Dashboard(c.Request.Context(), actor)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(dash))
}

func (h *Handler) Stats(c *gin.Context) {
	actor, _ := middleware.GetActor(c)
	stats, err := h.service.Stats(c.Request.Context(), actor)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}

func (h *Handler) AcceptCase(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid case ID"))
		return
	}

	actor, _ := middleware.GetActor(c)
	pc, err := h.service.Accept(c.Request.Context(), actor, id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(pc))
}

func (h *Handler) ReviewCase(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid case ID"))
		return
	}

	var req model.ReviewCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	actor, _ := middleware.GetActor(c)
	pc, err := h.service.Review(c.Request.Context(), actor, id, &req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(pc))
}

func (h *Handler) OrderTest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid case ID"))
		return
	}

	var req model.OrderTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	actor, _ := middleware.GetActor(c)
	pc, err := h.service.OrderTest(c.Request.Context(), actor, id, &req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(pc))
}

func (h *Handler) GetCase(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid case ID"))
		return
	}

	actor, _ := middleware.GetActor(c)
	pc, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(pc))
}

func (h *Handler) PatientHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid patient ID"))
		return
	}

	cases, err := h.service.PatientHistory(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(cases))
}
