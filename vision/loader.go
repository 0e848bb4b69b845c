package vision

import (
	"go.uber.org/zap"

	"github.com/Ayushj62/Snapshrinkstool/config"
	"github.com/Ayushj62/Snapshrinkstool/pipeline"
)

// Loader 按配置选择推理后端
func Loader(cfg *config.ModelConfig, log *zap.Logger) pipeline.ModelLoader {
	if cfg.Backend == config.BackendDNN {
		return DNNLoader(cfg, log)
	}
	return GrabCutLoader(cfg, log)
}
