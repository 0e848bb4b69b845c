package vision

import (
	"context"
	"fmt"
	"image"
	"os"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/Ayushj62/Snapshrinkstool/config"
	"github.com/Ayushj62/Snapshrinkstool/pipeline"
)

// U²-Net 类显著性模型使用的 ImageNet 归一化参数
var (
	dnnMean  = gocv.NewScalar(123.675, 116.28, 103.53, 0)
	dnnScale = 1.0 / (255 * 0.226)
)

// 网络输出是 sigmoid 概率，最高分低于此值时认为没有前景
const dnnScoreFloor = 0.3

// DNNModel 通过 OpenCV dnn 模块运行 ONNX 显著性网络，
// 输入为正方形 RGB，输出一张显著图
type DNNModel struct {
	net       gocv.Net
	inputSize int
	log       *zap.Logger
}

// DNNLoader 读取 ONNX 文件并预热一次，损坏的模型在加载阶段就失败
func DNNLoader(cfg *config.ModelConfig, log *zap.Logger) pipeline.ModelLoader {
	return func(ctx context.Context) (pipeline.InferenceModel, error) {
		if _, err := os.Stat(cfg.Path); err != nil {
			return nil, fmt.Errorf("model file: %w", err)
		}
		start := time.Now()
		net := gocv.ReadNetFromONNX(cfg.Path)
		if net.Empty() {
			return nil, fmt.Errorf("failed to read onnx model %s", cfg.Path)
		}
		m := &DNNModel{net: net, inputSize: cfg.InputSize, log: log}
		if m.inputSize <= 0 {
			m.inputSize = 320
		}

		if err := ctx.Err(); err != nil {
			_ = m.Close()
			return nil, err
		}
		warm := &pipeline.WorkingRaster{Image: image.NewNRGBA(image.Rect(0, 0, m.inputSize, m.inputSize))}
		if _, err := m.Predict(ctx, warm); err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("warm-up inference: %w", err)
		}

		log.Info("onnx model loaded",
			zap.String("path", cfg.Path),
			zap.Int("input_size", m.inputSize),
			zap.Duration("duration", time.Since(start)))
		return m, nil
	}
}

func (m *DNNModel) Predict(ctx context.Context, raster *pipeline.WorkingRaster) (*pipeline.Mask, error) {
	img, err := gocv.ImageToMatRGB(raster.Image)
	if err != nil {
		return nil, fmt.Errorf("convert raster: %w", err)
	}
	defer img.Close()

	blob := gocv.BlobFromImage(img, dnnScale, image.Pt(m.inputSize, m.inputSize), dnnMean, true, false)
	defer blob.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read network output: %w", err)
	}
	// 第一个通道是融合后的显著图
	mask, err := pipeline.MaskFromScores(m.inputSize, m.inputSize, data, dnnScoreFloor)
	if err != nil {
		return nil, err
	}
	return pipeline.ScaleMask(mask, raster.Width(), raster.Height()), nil
}

func (m *DNNModel) Close() error {
	return m.net.Close()
}
