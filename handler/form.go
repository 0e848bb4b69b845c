package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/Ayushj62/Snapshrinkstool/pipeline"
)

// upload 是从 multipart 表单读出的一个文件
type upload struct {
	data     []byte
	mimeType string
	filename string
}

var errUploadTooLarge = errors.New("upload too large")

func formatMB(n int64) string {
	return fmt.Sprintf("%d MB", n/(1024*1024))
}

// readUpload 读取表单文件，超过 maxSize 返回 errUploadTooLarge
func readUpload(c *gin.Context, field string, maxSize int64) (*upload, error) {
	file, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errUploadTooLarge
		}
		return nil, err
	}
	if file.Size > maxSize {
		return nil, errUploadTooLarge
	}
	data, err := readPart(file, maxSize)
	if err != nil {
		return nil, err
	}
	return &upload{
		data:     data,
		mimeType: file.Header.Get("Content-Type"),
		filename: filepath.Base(file.Filename),
	}, nil
}

func readPart(file *multipart.FileHeader, maxSize int64) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxSize {
		return nil, errUploadTooLarge
	}
	return data, nil
}

// parseBackground 解析 bg_type / bg_color / bg_image，表单和查询参数都可以
func parseBackground(c *gin.Context, maxSize int64) (pipeline.BackgroundSpec, error) {
	bgType := c.PostForm("bg_type")
	if bgType == "" {
		bgType = c.Query("bg_type")
	}

	switch pipeline.BackgroundMode(bgType) {
	case "", pipeline.ModeTransparent:
		return pipeline.TransparentBackground(), nil

	case pipeline.ModeColor:
		raw := c.PostForm("bg_color")
		if raw == "" {
			raw = c.Query("bg_color")
		}
		color, err := pipeline.ParseHexColor(raw)
		if err != nil {
			return pipeline.BackgroundSpec{}, pipeline.NewError(pipeline.InputValidation, "bg_color", err)
		}
		return pipeline.ColorBackground(color), nil

	case pipeline.ModeImage:
		up, err := readUpload(c, "bg_image", maxSize)
		if err != nil {
			if errors.Is(err, errUploadTooLarge) {
				return pipeline.BackgroundSpec{}, err
			}
			return pipeline.BackgroundSpec{}, pipeline.NewError(pipeline.InvalidBackgroundAsset, "bg_image is required", err)
		}
		return pipeline.ImageBackground(up.data), nil

	default:
		return pipeline.BackgroundSpec{}, pipeline.NewError(pipeline.InputValidation, fmt.Sprintf("unknown bg_type %q", bgType), nil)
	}
}
