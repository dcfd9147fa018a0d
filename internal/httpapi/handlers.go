package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"promptclock/internal/control"
	"promptclock/internal/rotation"
	"promptclock/internal/schedule"
	"promptclock/internal/task/scheduler"
	"promptclock/internal/workflow"
	logx "promptclock/pkg/logx"
)

const (
	defaultRotationCount = 1
	defaultSeedCount     = 1
	maxCount             = 1000
)

type handlers struct {
	ctl *control.Service
	log logx.Logger
}

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}

func (h *handlers) getWorkflows(c *gin.Context) {
	list, err := h.ctl.Workflows()
	if err != nil {
		h.log.Error("list workflows failed", logx.Err(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []workflow.Target{}
	}
	c.JSON(http.StatusOK, gin.H{"workflows": list})
}

func (h *handlers) getSchedules(c *gin.Context) {
	cfg := h.ctl.Schedules()
	if cfg.Schedules == nil {
		cfg.Schedules = []schedule.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"schedules": cfg.Schedules, "globalEnabled": cfg.GlobalEnabled})
}

type saveSchedulesRequest struct {
	Schedules     []schedule.Entry `json:"schedules"`
	GlobalEnabled bool             `json:"globalEnabled"`
}

func enabledWord(b bool) string {
	if b {
		return "Enabled"
	}
	return "Disabled"
}

func (h *handlers) saveSchedules(c *gin.Context) {
	var req saveSchedulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if _, err := h.ctl.SaveSchedules(c.Request.Context(), req.Schedules, req.GlobalEnabled); err != nil {
		h.log.Error("save schedules failed", logx.Err(err))
		fail(c, http.StatusInternalServerError, saveFailure(err, "Save failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("Saved %d schedule settings, Global status: %s", len(req.Schedules), enabledWord(req.GlobalEnabled)),
	})
}

// saveFailure tells a persisted-but-unapplied schedule apart from a failed write.
func saveFailure(err error, generic string) string {
	if errors.Is(err, scheduler.ErrNotApplied) {
		return "Saved, but the schedule could not be applied: " + err.Error()
	}
	return generic
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctl.Status(c.Request.Context()))
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *handlers) toggleGlobal(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if _, err := h.ctl.ToggleGlobal(c.Request.Context(), req.Enabled); err != nil {
		h.log.Error("toggle global failed", logx.Err(err))
		fail(c, http.StatusInternalServerError, saveFailure(err, "Toggle failed"))
		return
	}
	word := "disabled"
	if req.Enabled {
		word = "enabled"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"globalEnabled": req.Enabled,
		"message":       "Scheduler system " + word,
	})
}

type saveWorkflowRequest struct {
	Name     string          `json:"name"`
	Workflow json.RawMessage `json:"workflow"`
}

func (h *handlers) saveWorkflow(c *gin.Context) {
	var req saveWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		fail(c, http.StatusBadRequest, "Workflow name cannot be empty")
		return
	}
	fn, err := h.ctl.SaveWorkflow(req.Name, req.Workflow)
	switch {
	case errors.Is(err, workflow.ErrTargetExists):
		fail(c, http.StatusBadRequest, fmt.Sprintf("File %s already exists, please use a different name", workflow.SanitizeName(req.Name)))
		return
	case errors.Is(err, workflow.ErrInvalidTarget):
		fail(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error("save workflow failed", logx.Err(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"message":  "Workflow saved as " + fn,
		"filename": fn,
	})
}

// countParam reads a non-negative integer query parameter.
func countParam(c *gin.Context, def int) (int, error) {
	raw := c.Query("count")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > maxCount {
		return 0, fmt.Errorf("count must be an integer in [0, %d]", maxCount)
	}
	return n, nil
}

func (h *handlers) listSources(c *gin.Context) {
	srcs, err := h.ctl.RotationSources()
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if srcs == nil {
		srcs = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"sources": srcs})
}

func (h *handlers) rotation(c *gin.Context) {
	n, err := countParam(c, defaultRotationCount)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	mode := rotation.Sequential
	if raw := c.Query("mode"); raw != "" {
		if mode, err = rotation.ParseMode(raw); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	source := c.Param("source")
	res, err := h.ctl.Rotation(c.Request.Context(), source, n, mode)
	switch {
	case errors.Is(err, rotation.ErrSourceNotFound), errors.Is(err, rotation.ErrNoCandidates):
		fail(c, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, rotation.ErrInvalidCount):
		fail(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error("rotation failed", logx.Source(source), logx.Err(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if res.Items == nil {
		res.Items = []string{}
		res.Indices = []int{}
	}
	c.JSON(http.StatusOK, gin.H{"source": source, "result": res})
}

func (h *handlers) resetRotation(c *gin.Context) {
	source := c.Param("source")
	err := h.ctl.ResetRotation(c.Request.Context(), source)
	switch {
	case errors.Is(err, rotation.ErrSourceNotFound):
		fail(c, http.StatusNotFound, err.Error())
		return
	case err != nil:
		h.log.Error("rotation reset failed", logx.Source(source), logx.Err(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "source": source})
}

func (h *handlers) seeds(c *gin.Context) {
	n, err := countParam(c, defaultSeedCount)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	seeds, at := h.ctl.Seeds(n)
	c.JSON(http.StatusOK, gin.H{"seeds": seeds, "generated_at": at})
}
