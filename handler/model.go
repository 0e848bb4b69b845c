package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ayushj62/Snapshrinkstool/model"
	"github.com/Ayushj62/Snapshrinkstool/pipeline"
)

// ModelStatus 模型生命周期的只读视图
type ModelStatus interface {
	State() pipeline.ModelState
	Err() error
}

type ModelHandler struct {
	model         ModelStatus
	backend       string
	remoteEnabled bool
}

func NewModelHandler(m ModelStatus, backend string, remoteEnabled bool) *ModelHandler {
	return &ModelHandler{model: m, backend: backend, remoteEnabled: remoteEnabled}
}

// Status 返回本地模型加载状态
func (h *ModelHandler) Status(c *gin.Context) {
	state := h.model.State()
	resp := model.ModelStatusResponse{
		State:        string(state),
		Ready:        state == pipeline.ModelReady,
		Backend:      h.backend,
		RemoteActive: h.remoteEnabled,
	}
	if err := h.model.Err(); err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
