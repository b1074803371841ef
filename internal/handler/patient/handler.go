// Package patient exposes the patient-facing case endpoints: submission,
// assignment, test booking, and case history.
package patient

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/medifusion/triage-api/internal/handler"
	"github.com/medifusion/triage-api/internal/middleware"
	"github.com/medifusion/triage-api/internal/model"
	"github.com/medifusion/triage-api/internal/service/triage"
	apperrors "github.com/medifusion/triage-api/pkg/errors"
)

type Handler struct {
	service    *triage.Service
	uploadsDir string
	maxUpload  int64
}

func NewHandler(service *triage.Service, uploadsDir string, maxUploadMB int) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &Handler{
		service:    service,
		uploadsDir: uploadsDir,
		maxUpload:  int64(maxUploadMB) << 20,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	cases := r.Group("/cases")
	{
		cases.POST("/symptoms", h.SubmitSymptoms)
		cases.POST("/image", h.UploadImage)
		cases.GET("", h.ListMine)
		cases.GET("/:id", h.GetCase)
		cases.PUT("/:id/assign", h.AssignCase)
		cases.DELETE("/:id", h.DeleteCase)
		cases.POST("/:id/book-test", h.BookTest)
		cases.POST("/:id/schedule-test", h.ScheduleTest)
	}
	r.GET("/doctors", h.ListDoctors)
}

func (h *Handler) SubmitSymptoms(c *gin.Context) {
	var req model.SubmitSymptomsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	actor, _ := middleware.GetActor(c)
	created, err := h.service.CreateFromSymptoms(c.Request.Context(), actor, &req)
	h.respondCreated(c, created, err)
}

func (h *Handler) UploadImage(c *gin.Context) {
	var req model.UploadImageRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	image, path, err := h.saveUpload(c, "file")
	if err != nil {
		handler.Error(c, err)
		return
	}

	actor, _ := middleware.GetActor(c)
	created, err := h.service.CreateFromImage(c.Request.Context(), actor, &req, path, image)
	h.respondCreated(c, created, err)
}

// respondCreated handles the soft-error contract: a scoring outage still
// produces the case, reported as 201 with a warning message.
func (h *Handler) respondCreated(c *gin.Context, created *model.PatientCase, err error) {
	if err != nil {
		if created != nil && apperrors.IsKind(err, apperrors.KindDependency) {
			c.JSON(http.StatusCreated, &handler.Response{
				Status:  "success",
				Message: "case created, but analysis is temporarily unavailable",
				Data:    created,
			})
			return
		}
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(created))
}

func (h *Handler) ListMine(c *gin.Context) {
	actor, _ := middleware.GetActor(c)
	cases, err := h.service.ListMine(c.Request.Context(), actor)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(cases))
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

func (h *Handler) AssignCase(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid case ID"))
		return
	}

	var req model.AssignCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	actor, _ := middleware.GetActor(c)
	pc, err := h.service.Assign(c.Request.Context(), actor, id, &req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(pc))
}

func (h *Handler) DeleteCase(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid case ID"))
		return
	}

	actor, _ := middleware.GetActor(c)
	if err := h.service.Delete(c.Request.Context(), actor, id); err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"deleted": true}))
}

func (h *Handler) BookTest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid case ID"))
		return
	}

	actor, _ := middleware.GetActor(c)
	pc, err := h.service.BookTest(c.Request.Context(), actor, id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(pc))
}

func (h *Handler) ScheduleTest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid case ID"))
		return
	}

	var req model.ScheduleTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	actor, _ := middleware.GetActor(c)
	pc, err := h.service.ScheduleTest(c.Request.Context(), actor, id, &req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(pc))
}

func (h *Handler) ListDoctors(c *gin.Context) {
	doctors, err := h.service.Doctors(c.Request.Context())
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(doctors))
}

// saveUpload persists the multipart file under the uploads dir and
// returns its bytes for inline scoring.
func (h *Handler) saveUpload(c *gin.Context, field string) ([]byte, string, error) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		return nil, "", apperrors.Validation("file is required", err)
	}
	if fileHeader.Size > h.maxUpload {
		return nil, "", apperrors.Validation("file too large", nil)
	}

	f, err := fileHeader.Open()
	if err != nil {
		return nil, "", apperrors.Internal(err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", apperrors.Internal(err)
	}

	if err := os.MkdirAll(h.uploadsDir, 0o755); err != nil {
		return nil, "", apperrors.Internal(err)
	}
	path := filepath.Join(h.uploadsDir, uuid.New().String()+filepath.Ext(fileHeader.Filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, "", apperrors.Internal(err)
	}
	return data, path, nil
}
