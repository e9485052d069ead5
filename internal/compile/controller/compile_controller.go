// Package controller exposes the compile service over HTTP.
package controller

import (
	"context"
	"errors"
	"net/http"

	"compilebox/internal/compile/service"
	"compilebox/internal/sandbox/result"
	"compilebox/internal/sandbox/source"
	appErr "compilebox/pkg/errors"
	"compilebox/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// CompileService is the part of the service layer the controller needs.
type CompileService interface {
	Compile(ctx context.Context, input service.CompileInput) result.JobResult
	Version(ctx context.Context) (string, error)
	Health() service.HealthStatus
}

// CompileController handles the compile, health and version endpoints.
type CompileController struct {
	compileService CompileService
}

// NewCompileController creates a new CompileController.
func NewCompileController(compileService CompileService) *CompileController {
	return &CompileController{compileService: compileService}
}

// Compile runs the submitted source and returns the job result. Guest
// failures are 200s; only rejected input and sandbox faults change the status.
func (h *CompileController) Compile(c *gin.Context) {
	var req CompileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErr.New(appErr.CodeTooLarge).WithMessagef("Request body too large (max %d bytes)", tooLarge.Limit))
			return
		}
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	res := h.compileService.Compile(c.Request.Context(), service.CompileInput{
		Code:  req.Code,
		Files: req.Files,
		Debug: req.Debug,
	})
	c.JSON(statusOf(res), res)
}

// Health reports liveness.
func (h *CompileController) Health(c *gin.Context) {
	response.Success(c, h.compileService.Health())
}

// Version reports the runtime version. Failures keep the same body shape.
func (h *CompileController) Version(c *gin.Context) {
	version, err := h.compileService.Version(c.Request.Context())
	if err != nil {
		e := appErr.GetError(err)
		c.JSON(e.Code.HTTPStatus(), VersionResponse{Success: false, Error: e.Error()})
		return
	}
	response.Success(c, VersionResponse{Success: true, Version: version})
}

// RegisterRoutes mounts the endpoints under group.
func (h *CompileController) RegisterRoutes(group gin.IRoutes, compileMiddleware ...gin.HandlerFunc) {
	group.POST("/compile", append(compileMiddleware, h.Compile)...)
	group.GET("/health", h.Health)
	group.GET("/version", h.Version)
	group.GET("/java-version", h.Version)
}

func statusOf(res result.JobResult) int {
	if res.Code == 0 {
		if res.Success {
			return http.StatusOK
		}
		return http.StatusInternalServerError
	}
	return res.Code.HTTPStatus()
}

// CompileRequest is the compile payload. Files win over code when both are set.
type CompileRequest struct {
	Code  string        `json:"code"`
	Files []source.Unit `json:"files"`
	Debug bool          `json:"debug"`
}

// VersionResponse is the version probe payload.
type VersionResponse struct {
	Success bool   `json:"success"`
	Version string `json:"version"`
	Error   string `json:"error"`
}
