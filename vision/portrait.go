package vision

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// YCrCb 肤色范围
var (
	skinLower = gocv.NewScalar(0, 133, 77, 0)
	skinUpper = gocv.NewScalar(255, 173, 127, 255)
)

const (
	portraitSkinRatio = 0.15
	// 低于此占比时不再尝试人脸检测
	faceCheckSkinRatio = 0.03
)

// PortraitDetector 用肤色占比判断人像，肤色不足时用 Haar 级联找人脸。
// 级联文件在首次需要时加载一次。
type PortraitDetector struct {
	cascadePath string
	once        sync.Once
	classifier  *gocv.CascadeClassifier
}

func NewPortraitDetector(cascadePath string) *PortraitDetector {
	return &PortraitDetector{cascadePath: cascadePath}
}

// SkinMask 返回 0/255 肤色掩码
func (pd *PortraitDetector) SkinMask(img gocv.Mat) gocv.Mat {
	ycrcb := gocv.NewMat()
	defer ycrcb.Close()
	gocv.CvtColor(img, &ycrcb, gocv.ColorBGRToYCrCb)

	raw := gocv.NewMat()
	defer raw.Close()
	gocv.InRangeWithScalar(ycrcb, skinLower, skinUpper, &raw)

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(5, 5))
	defer kernel.Close()

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(raw, &closed, gocv.MorphClose, kernel)

	skin := gocv.NewMat()
	gocv.MorphologyEx(closed, &skin, gocv.MorphOpen, kernel)
	return skin
}

// Check 返回肤色占比和是否为人像；gray 是同一图像的灰度版本
func (pd *PortraitDetector) Check(img, gray gocv.Mat) (float64, bool) {
	total := img.Rows() * img.Cols()
	if total == 0 {
		return 0, false
	}
	skin := pd.SkinMask(img)
	defer skin.Close()

	ratio := float64(gocv.CountNonZero(skin)) / float64(total)
	switch {
	case ratio > portraitSkinRatio:
		return ratio, true
	case ratio > faceCheckSkinRatio:
		return ratio, len(pd.faces(gray)) > 0
	}
	return ratio, false
}

func (pd *PortraitDetector) faces(gray gocv.Mat) []image.Rectangle {
	c := pd.cascade()
	if c == nil {
		return nil
	}
	return c.DetectMultiScale(gray)
}

// cascade 加载失败后不再重试
func (pd *PortraitDetector) cascade() *gocv.CascadeClassifier {
	pd.once.Do(func() {
		if pd.cascadePath == "" {
			return
		}
		c := gocv.NewCascadeClassifier()
		if !c.Load(pd.cascadePath) {
			_ = c.Close()
			return
		}
		pd.classifier = &c
	})
	return pd.classifier
}

// Enhance 把膨胀后的肤色区域并入掩码
func (pd *PortraitDetector) Enhance(mask, img gocv.Mat) gocv.Mat {
	skin := pd.SkinMask(img)
	defer skin.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(15, 15))
	defer kernel.Close()

	grown := gocv.NewMat()
	defer grown.Close()
	gocv.Dilate(skin, &grown, kernel)

	out := gocv.NewMat()
	gocv.BitwiseOr(mask, grown, &out)
	return out
}

func (pd *PortraitDetector) Close() error {
	if pd.classifier == nil {
		return nil
	}
	return pd.classifier.Close()
}
