// Package lab exposes the technician endpoints: the task queue, test
// status updates, notes, report uploads, and walk-in intake.
package lab

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/medifusion/triage-api/internal/handler"
	"github.com/medifusion/triage-api/internal/middleware"
	"github.com/medifusion/triage-api/internal/model"
	"github.com/medifusion/triage-api/internal/service/triage"
	apperrors "github.com/medifusion/triage-api/pkg/errors"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".dcm": true,
}

type Handler struct {
	service    *triage.Service
	uploadsDir string
}

func NewHandler(service *triage.Service, uploadsDir string) *Handler {
	return &Handler{service: service, uploadsDir: uploadsDir}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tasks", h.ListTasks)
	r.GET("/patients/search", h.SearchPatients)
	r.GET("/patients/:id/history", h.PatientHistory)
	r.POST("/intake", h.Intake)
	r.POST("/reports/manual", h.ManualReport)

	cases := r.Group("/cases")
	{
		cases.PUT("/:id/test-status", h.UpdateTestStatus)
		cases.PUT("/:id/assign-tech", h.AssignTech)
		cases.POST("/:id/notes", h.AddNotes)
		cases.POST("/:id/report", h.UploadReport)
		cases.GET("/:id/reports", h.ListReports)
	}
}

func (h *Handler) ListTasks(c *gin.Context) {
	actor, _ := middleware.GetActor(c)
	tasks, err := h.service.ListLabTasks(c.Request.Context(), actor)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(tasks))
}

func (h *Handler) SearchPatients(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("query parameter q is required"))
		return
	}

	rows, err := h.service.SearchPatients(c.Request.Context(), query)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(rows))
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

func (h *Handler) UpdateTestStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid case ID"))
		return
	}

	var req model.UpdateTestStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	actor, _ := middleware.GetActor(c)
	pc, err := h.service.UpdateTestStatus(c.Request.Context(), actor, id, &req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(pc))
}

func (h *Handler) AssignTech(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid case ID"))
		return
	}

	var req model.AssignLabTechRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	actor, _ := middleware.GetActor(c)
	pc, err := h.service.AssignLabTech(c.Request.Context(), actor, id, &req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(pc))
}

func (h *Handler) AddNotes(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid case ID"))
		return
	}

	var req model.LabNotesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	actor, _ := middleware.GetActor(c)
	pc, err := h.service.AddLabNotes(c.Request.Context(), actor, id, &req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(pc))
}

func (h *Handler) UploadReport(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid case ID"))
		return
	}

	data, path, ext, err := h.saveUpload(c)
	if err != nil {
		handler.Error(c, err)
		return
	}

	// Non-image artifacts (PDFs, text reports) skip the rescore.
	var image []byte
	if imageExtensions[ext] {
		image = data
	}

	actor, _ := middleware.GetActor(c)
	pc, err := h.service.UploadReport(c.Request.Context(), actor, id, path, c.PostForm("report_type"), image)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(pc))
}

func (h *Handler) Intake(c *gin.Context) {
	patientID, err := uuid.Parse(c.PostForm("patient_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid patient ID"))
		return
	}

	data, path, _, err := h.saveUpload(c)
	if err != nil {
		handler.Error(c, err)
		return
	}

	actor, _ := middleware.GetActor(c)
	pc, err := h.service.LabIntake(c.Request.Context(), actor, patientID, c.PostForm("patient_name"), path, data)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(pc))
}

func (h *Handler) ManualReport(c *gin.Context) {
	var req model.ManualReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	actor, _ := middleware.GetActor(c)
	report, err := h.service.ManualReport(c.Request.Context(), actor, &req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(report))
}

func (h *Handler) ListReports(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid case ID"))
		return
	}

	reports, err := h.service.CaseReports(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(reports))
}

func (h *Handler) saveUpload(c *gin.Context) ([]byte, string, string, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, "", "", apperrors.Validation("file is required", err)
	}

	f, err := fileHeader.Open()
	if err != nil {
		return nil, "", "", apperrors.Internal(err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", "", apperrors.Internal(err)
	}

	if err := os.MkdirAll(h.uploadsDir, 0o755); err != nil {
		return nil, "", "", apperrors.Internal(err)
	}
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	path := filepath.Join(h.uploadsDir, uuid.New().String()+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, "", "", apperrors.Internal(err)
	}
	return data, path, ext, nil
}
