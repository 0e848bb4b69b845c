package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ayushj62/Snapshrinkstool/model"
	"github.com/Ayushj62/Snapshrinkstool/pipeline"
	"github.com/Ayushj62/Snapshrinkstool/utils"
)

// APIPrefix 会话路由的挂载路径
const APIPrefix = "/api/v1"

// 文件大小限制之外留给 multipart 边界的余量
const formOverhead = 1 << 20

type SessionHandler struct {
	intake *pipeline.Intake
	store  *pipeline.SessionStore
}

func NewSessionHandler(intake *pipeline.Intake, store *pipeline.SessionStore) *SessionHandler {
	return &SessionHandler{intake: intake, store: store}
}

// Register 挂载会话相关路由
func (h *SessionHandler) Register(api *gin.RouterGroup) {
	sessions := api.Group("/sessions")
	{
		sessions.POST("", h.Create)
		sessions.GET("/:id", h.Status)
		sessions.DELETE("/:id", h.Delete)
		sessions.PUT("/:id/image", h.Replace)
		sessions.POST("/:id/remove", h.Remove)
		sessions.PUT("/:id/background", h.SetBackground)
		sessions.GET("/:id/events", h.Events)
		sessions.GET("/:id/download", h.Download)
	}
}

// Create 上传图片并创建会话
func (h *SessionHandler) Create(c *gin.Context) {
	src, ok := h.acceptImage(c)
	if !ok {
		return
	}
	sess := h.store.Create(src)

	utils.L().Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("filename", src.Filename),
		zap.Int("width", src.Width),
		zap.Int("height", src.Height),
		zap.Int("size", len(src.Data)))

	c.JSON(http.StatusCreated, model.SessionResponse{
		Success:   true,
		SessionID: sess.ID,
		Filename:  src.Filename,
		Width:     src.Width,
		Height:    src.Height,
	})
}

// Replace 替换会话中的图片，进行中的处理会被取消
func (h *SessionHandler) Replace(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	src, ok := h.acceptImage(c)
	if !ok {
		return
	}
	if err := sess.Replace(src); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SessionResponse{
		Success:   true,
		SessionID: sess.ID,
		Filename:  src.Filename,
		Width:     src.Width,
		Height:    src.Height,
	})
}

// Remove 执行去背景并合成
func (h *SessionHandler) Remove(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	h.limitBody(c)
	spec, err := parseBackground(c, h.intake.MaxSize())
	if err != nil {
		h.formError(c, err)
		return
	}

	result, err := sess.Remove(c.Request.Context(), spec)
	if err != nil {
		respondError(c, err)
		return
	}

	message := "Background removed"
	if result.Tier == pipeline.TierLocal {
		message = "Background removed with the on-device model"
	}
	c.JSON(http.StatusOK, model.RemoveResponse{
		Success: true,
		Message: message,
		Data:    compositeData(sess.ID, result),
	})
}

// SetBackground 切换背景；已有掩码时直接重新合成
func (h *SessionHandler) SetBackground(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	h.limitBody(c)
	spec, err := parseBackground(c, h.intake.MaxSize())
	if err != nil {
		h.formError(c, err)
		return
	}

	result, err := sess.SetBackground(spec)
	if err != nil {
		respondError(c, err)
		return
	}
	if result == nil {
		c.JSON(http.StatusOK, model.BackgroundResponse{
			Success:    true,
			Message:    "Background saved. It is applied when the background is removed.",
			Background: spec.Key(),
		})
		return
	}
	c.JSON(http.StatusOK, model.BackgroundResponse{
		Success:    true,
		Message:    "Background updated",
		Background: result.Spec.Key(),
		Data:       compositeData(sess.ID, result),
	})
}

func (h *SessionHandler) Status(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, model.StatusResponse{
		Success: true,
		Data:    toStatus(sess.Status()),
	})
}

// Events 以 SSE 推送处理状态，会话删除或客户端断开时结束
func (h *SessionHandler) Events(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("status", toStatus(sess.Status()))
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case e, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("state", e)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// Download 下载当前合成结果
func (h *SessionHandler) Download(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	format, err := pipeline.ParseExportFormat(c.Query("format"))
	if err != nil {
		respondError(c, pipeline.NewError(pipeline.InputValidation, "format", err))
		return
	}

	export, err := sess.Export(format)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": export.Filename}))
	c.Data(http.StatusOK, export.ContentType, export.Data)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.store.Delete(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) session(c *gin.Context) (*pipeline.Session, bool) {
	sess, err := h.store.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return sess, true
}

func (h *SessionHandler) acceptImage(c *gin.Context) (*pipeline.SourceImage, bool) {
	h.limitBody(c)
	up, err := readUpload(c, "image", h.intake.MaxSize())
	if err != nil {
		if errors.Is(err, errUploadTooLarge) {
			tooLargeResponse(c, h.intake.MaxSize())
			return nil, false
		}
		respondError(c, pipeline.NewError(pipeline.InputValidation, "missing image file", err))
		return nil, false
	}

	src, err := h.intake.Accept(up.data, up.mimeType, up.filename)
	if err != nil {
		utils.L().Info("upload rejected",
			zap.String("filename", up.filename),
			zap.String("content_type", up.mimeType),
			zap.Error(err))
		respondError(c, err)
		return nil, false
	}
	return src, true
}

func (h *SessionHandler) formError(c *gin.Context, err error) {
	if errors.Is(err, errUploadTooLarge) {
		tooLargeResponse(c, h.intake.MaxSize())
		return
	}
	respondError(c, err)
}

// limitBody 限制请求体大小，超大上传在读取时直接失败，不会先落盘
func (h *SessionHandler) limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*h.intake.MaxSize()+formOverhead)
}

func compositeData(id string, r *pipeline.CompositeResult) *model.CompositeData {
	states := make([]string, 0, len(r.States))
	for _, s := range r.States {
		states = append(states, string(s))
	}
	b := r.Image.Bounds()
	return &model.CompositeData{
		Tier:        string(r.Tier),
		Background:  r.Spec.Key(),
		Width:       b.Dx(),
		Height:      b.Dy(),
		Warnings:    r.Warnings,
		States:      states,
		DownloadURL: fmt.Sprintf("%s/sessions/%s/download", APIPrefix, id),
	}
}

func toStatus(s pipeline.SessionStatus) model.SessionStatus {
	return model.SessionStatus{
		ID:           s.ID,
		Filename:     s.Filename,
		Width:        s.Width,
		Height:       s.Height,
		State:        string(s.State),
		Notice:       s.Notice,
		Tier:         string(s.Tier),
		Background:   s.Background,
		HasMask:      s.HasMask,
		HasComposite: s.HasComposite,
		Warnings:     s.Warnings,
		LastError:    s.LastError,
		UpdatedAt:    s.UpdatedAt,
	}
}
