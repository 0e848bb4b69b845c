package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ayushj62/Snapshrinkstool/model"
	"github.com/Ayushj62/Snapshrinkstool/pipeline"
	"github.com/Ayushj62/Snapshrinkstool/utils"
)

// statusFor 流程错误对应的 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrNoComposite),
		errors.Is(err, pipeline.ErrStaleResult),
		errors.Is(err, pipeline.ErrNoMask):
		return http.StatusConflict
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}

	switch kind := pipeline.KindOf(err); kind {
	case pipeline.KindUnknown:
		return http.StatusInternalServerError
	case pipeline.InputValidation:
		return http.StatusBadRequest
	case pipeline.ModelUnavailable:
		return http.StatusServiceUnavailable
	case pipeline.NoForegroundDetected:
		return http.StatusUnprocessableEntity
	default:
		if kind.Category() == pipeline.CategoryCompositing {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadGateway
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	resp := model.ErrorResponse{
		Success: false,
		Message: pipeline.UserMessage(err),
		Error:   err.Error(),
	}
	if kind := pipeline.KindOf(err); kind != pipeline.KindUnknown {
		resp.Kind = kind.String()
	}

	if status >= http.StatusInternalServerError {
		utils.L().Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, resp)
}

func tooLargeResponse(c *gin.Context, maxSize int64) {
	err := pipeline.NewError(pipeline.InputValidation, "upload exceeds size limit", nil)
	_ = c.Error(err)
	c.JSON(http.StatusRequestEntityTooLarge, model.ErrorResponse{
		Success: false,
		Message: "Image is too large. The limit is " + formatMB(maxSize) + ".",
		Kind:    pipeline.InputValidation.String(),
		Error:   err.Error(),
	})
}
