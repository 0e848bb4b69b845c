package vision

import "gocv.io/x/gocv"

// Scene 是 GrabCut 之前对图像的粗分类
type Scene int

const (
	SceneSimple Scene = iota
	SceneMedium
	SceneComplex
	ScenePortrait
)

func (s Scene) String() string {
	switch s {
	case SceneSimple:
		return "simple"
	case SceneMedium:
		return "medium"
	case SceneComplex:
		return "complex"
	case ScenePortrait:
		return "portrait"
	}
	return "unknown"
}

// sceneTuning GrabCut 参数和后处理强度
type sceneTuning struct {
	extraIterations int
	fromSaliency    bool
	secondPass      bool
	kernelSize      int
	refineEdges     bool
}

var tunings = map[Scene]sceneTuning{
	SceneSimple:   {extraIterations: -2, kernelSize: 3},
	SceneMedium:   {fromSaliency: true, secondPass: true, kernelSize: 3, refineEdges: true},
	SceneComplex:  {extraIterations: 2, fromSaliency: true, secondPass: true, kernelSize: 5, refineEdges: true},
	ScenePortrait: {extraIterations: 1, fromSaliency: true, secondPass: true, kernelSize: 5, refineEdges: true},
}

func (s Scene) tuning() sceneTuning { return tunings[s] }

// SceneStats 场景分析的指标
type SceneStats struct {
	Scene       Scene
	EdgeDensity float64
	LabSpread   float64
	SkinRatio   float64
	Portrait    bool
}

func classifyScene(edgeDensity, labSpread float64, portrait bool) Scene {
	switch {
	case portrait:
		return ScenePortrait
	case edgeDensity < 0.05 && labSpread < 30:
		return SceneSimple
	case edgeDensity > 0.15 || labSpread > 60:
		return SceneComplex
	default:
		return SceneMedium
	}
}

type SceneAnalyzer struct {
	portraits *PortraitDetector
}

func NewSceneAnalyzer(portraits *PortraitDetector) *SceneAnalyzer {
	return &SceneAnalyzer{portraits: portraits}
}

// Analyze 输入为 BGR 图像
func (a *SceneAnalyzer) Analyze(img gocv.Mat) SceneStats {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	stats := SceneStats{
		EdgeDensity: edgeDensity(gray),
		LabSpread:   labSpread(img),
	}
	stats.SkinRatio, stats.Portrait = a.portraits.Check(img, gray)
	stats.Scene = classifyScene(stats.EdgeDensity, stats.LabSpread, stats.Portrait)
	return stats
}

// edgeDensity Canny 边缘像素占比
func edgeDensity(gray gocv.Mat) float64 {
	total := gray.Rows() * gray.Cols()
	if total == 0 {
		return 0
	}
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)
	return float64(gocv.CountNonZero(edges)) / float64(total)
}

// labSpread Lab 三通道标准差的平均值
func labSpread(img gocv.Mat) float64 {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(img, &lab, gocv.ColorBGRToLab)

	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()
	gocv.MeanStdDev(lab, &mean, &stddev)

	n := stddev.Rows()
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += stddev.GetDoubleAt(i, 0)
	}
	return sum / float64(n)
}
