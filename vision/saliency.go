package vision

import (
	"image"

	"gocv.io/x/gocv"
)

// GrabCut 标签值
const (
	labelBackground         byte = 0
	labelForeground         byte = 1
	labelProbableBackground byte = 2
	labelProbableForeground byte = 3
)

// saliencyMap 梯度幅值经大核模糊后用 Otsu 二值化，得到 0/255 的显著区域
func saliencyMap(gray gocv.Mat) gocv.Mat {
	gx := gocv.NewMat()
	defer gx.Close()
	gy := gocv.NewMat()
	defer gy.Close()
	gocv.Sobel(gray, &gx, gocv.MatTypeCV16S, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(gray, &gy, gocv.MatTypeCV16S, 0, 1, 3, 1, 0, gocv.BorderDefault)

	ax := gocv.NewMat()
	defer ax.Close()
	ay := gocv.NewMat()
	defer ay.Close()
	gocv.ConvertScaleAbs(gx, &ax, 1, 0)
	gocv.ConvertScaleAbs(gy, &ay, 1, 0)

	magnitude := gocv.NewMat()
	defer magnitude.Close()
	gocv.AddWeighted(ax, 0.5, ay, 0.5, 0, &magnitude)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(magnitude, &blurred, image.Pt(21, 21), 0, 0, gocv.BorderDefault)

	out := gocv.NewMat()
	gocv.Threshold(blurred, &out, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	return out
}

// seedLabels 生成 GrabCut 初始标签：边框是确定背景，显著区域是可能前景，
// 其余为可能背景。没有任何可能前景时 ok 为 false。
func seedLabels(saliency gocv.Mat) (labels gocv.Mat, ok bool, err error) {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(11, 11))
	defer kernel.Close()
	grown := gocv.NewMat()
	defer grown.Close()
	gocv.Dilate(saliency, &grown, kernel)

	w, h := grown.Cols(), grown.Rows()
	sal := grown.ToBytes()
	border := max(1, w*3/100)

	out := make([]byte, w*h)
	foreground := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			switch {
			case x < border || x >= w-border || y < border || y >= h-border:
				out[i] = labelBackground
			case sal[i] > 128:
				out[i] = labelProbableForeground
				foreground++
			default:
				out[i] = labelProbableBackground
			}
		}
	}
	if foreground == 0 {
		return gocv.NewMat(), false, nil
	}

	labels, err = gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8U, out)
	if err != nil {
		return gocv.NewMat(), false, err
	}
	return labels, true, nil
}
