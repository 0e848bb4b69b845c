package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/Ayushj62/Snapshrinkstool/config"
	"github.com/Ayushj62/Snapshrinkstool/pipeline"
)

const (
	// GrabCut 在长边不超过此值的图上运行，结果再放大回栅格尺寸
	grabCutWorkSize = 640
	grabCutMinSide  = 8
)

var errTooSmall = errors.New("image too small for grabcut")

// GrabCutModel 基于显著性种子的 GrabCut 前景分割，不需要模型文件
type GrabCutModel struct {
	iterations  int
	borderSize  int
	keepLargest bool
	scenes      *SceneAnalyzer
	portraits   *PortraitDetector
	log         *zap.Logger
}

func NewGrabCutModel(cfg *config.ModelConfig, log *zap.Logger) *GrabCutModel {
	portraits := NewPortraitDetector(cfg.FaceCascade)
	return &GrabCutModel{
		iterations:  cfg.Iterations,
		borderSize:  cfg.BorderSize,
		keepLargest: cfg.KeepLargest,
		scenes:      NewSceneAnalyzer(portraits),
		portraits:   portraits,
		log:         log,
	}
}

// GrabCutLoader 返回给模型管理器使用的加载函数
func GrabCutLoader(cfg *config.ModelConfig, log *zap.Logger) pipeline.ModelLoader {
	return func(ctx context.Context) (pipeline.InferenceModel, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log.Info("using grabcut segmenter", zap.String("opencv", gocv.Version()))
		return NewGrabCutModel(cfg, log), nil
	}
}

// Predict 返回与栅格同尺寸的 0/1 掩码
func (g *GrabCutModel) Predict(ctx context.Context, raster *pipeline.WorkingRaster) (*pipeline.Mask, error) {
	start := time.Now()

	src, err := gocv.ImageToMatRGB(raster.Image)
	if err != nil {
		return nil, fmt.Errorf("convert raster: %w", err)
	}
	defer src.Close()
	width, height := src.Cols(), src.Rows()

	work := fitWithin(src, grabCutWorkSize)
	defer work.Close()
	if work.Cols() < grabCutMinSide || work.Rows() < grabCutMinSide {
		return nil, errTooSmall
	}

	stats := g.scenes.Analyze(work)
	tune := stats.Scene.tuning()

	labels, rect, err := g.seed(work, tune)
	if err != nil {
		return nil, err
	}
	defer labels.Close()

	if err := g.segment(ctx, work, &labels, rect, tune); err != nil {
		return nil, err
	}

	fg, err := foregroundFromLabels(labels)
	if err != nil {
		return nil, err
	}
	defer func() { fg.Close() }()

	if err := g.refine(&fg, work, stats, tune); err != nil {
		return nil, err
	}
	if fg.Cols() != width || fg.Rows() != height {
		swap(&fg, resizeBinary(fg, width, height))
	}
	if g.keepLargest {
		swap(&fg, keepLargestRegion(fg))
	}

	g.log.Info("grabcut segmentation finished",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.String("scene", stats.Scene.String()),
		zap.Float64("edge_density", stats.EdgeDensity),
		zap.Float64("skin_ratio", stats.SkinRatio),
		zap.Duration("duration", time.Since(start)))

	return matToMask(fg), nil
}

func (g *GrabCutModel) Close() error {
	return g.portraits.Close()
}

// seed 简单场景用矩形初始化，其余用显著性标签；显著性为空时退回矩形
func (g *GrabCutModel) seed(work gocv.Mat, tune sceneTuning) (gocv.Mat, image.Rectangle, error) {
	if tune.fromSaliency {
		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(work, &gray, gocv.ColorBGRToGray)

		sal := saliencyMap(gray)
		defer sal.Close()

		labels, ok, err := seedLabels(sal)
		if err != nil {
			return labels, image.Rectangle{}, err
		}
		if ok {
			return labels, image.Rectangle{}, nil
		}
		labels.Close()
	}

	w, h := work.Cols(), work.Rows()
	border := g.borderSize
	if border < 10 {
		border = w * 5 / 100
	}
	border = max(1, min(border, w/4, h/4))
	return gocv.NewMat(), image.Rect(border, border, w-border, h-border), nil
}

func (g *GrabCutModel) segment(ctx context.Context, work gocv.Mat, labels *gocv.Mat, rect image.Rectangle, tune sceneTuning) error {
	bgd := gocv.NewMat()
	defer bgd.Close()
	fgd := gocv.NewMat()
	defer fgd.Close()

	mode := gocv.GCInitWithMask
	if labels.Empty() {
		mode = gocv.GCInitWithRect
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	gocv.GrabCut(work, labels, rect, &bgd, &fgd, max(1, g.iterations+tune.extraIterations), mode)

	if !tune.secondPass {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	gocv.GrabCut(work, labels, image.Rectangle{}, &bgd, &fgd, 2, gocv.GCInitWithMask)
	return nil
}

func (g *GrabCutModel) refine(fg *gocv.Mat, work gocv.Mat, stats SceneStats, tune sceneTuning) error {
	if stats.Portrait {
		swap(fg, g.portraits.Enhance(*fg, work))
		trimmed, err := edgeAwareTrim(*fg, work)
		if err != nil {
			return err
		}
		swap(fg, trimmed)
	}
	swap(fg, smooth(*fg, tune.kernelSize))
	if tune.refineEdges {
		swap(fg, refineEdges(*fg))
	}
	return nil
}

// fitWithin 长边超过 maxSide 时按比例缩小，否则复制
func fitWithin(img gocv.Mat, maxSide int) gocv.Mat {
	w, h := img.Cols(), img.Rows()
	if max(w, h) <= maxSide {
		return img.Clone()
	}
	nw, nh := pipeline.FitWithin(w, h, maxSide)
	out := gocv.NewMat()
	gocv.Resize(img, &out, image.Pt(nw, nh), 0, 0, gocv.InterpolationArea)
	return out
}
