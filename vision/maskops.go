package vision

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/Ayushj62/Snapshrinkstool/pipeline"
)

// swap 关闭 dst 并换成 next
func swap(dst *gocv.Mat, next gocv.Mat) {
	dst.Close()
	*dst = next
}

// foregroundFromLabels 确定前景和可能前景为 255，其余为 0
func foregroundFromLabels(labels gocv.Mat) (gocv.Mat, error) {
	src := labels.ToBytes()
	out := make([]byte, len(src))
	for i, v := range src {
		if v == labelForeground || v == labelProbableForeground {
			out[i] = 255
		}
	}
	return gocv.NewMatFromBytes(labels.Rows(), labels.Cols(), gocv.MatTypeCV8U, out)
}

// smooth 先开后闭，去掉孤立噪点并填补小孔
func smooth(mask gocv.Mat, kernelSize int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(kernelSize, kernelSize))
	defer kernel.Close()

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(mask, &opened, gocv.MorphOpen, kernel)

	out := gocv.NewMat()
	gocv.MorphologyEx(opened, &out, gocv.MorphClose, kernel)
	return out
}

// refineEdges 轻微膨胀后模糊再二值化，让边缘平滑
func refineEdges(mask gocv.Mat) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(2, 2))
	defer kernel.Close()

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(mask, &dilated, kernel)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(dilated, &blurred, image.Pt(3, 3), 0, 0, gocv.BorderDefault)

	out := gocv.NewMat()
	gocv.Threshold(blurred, &out, 127, 255, gocv.ThresholdBinary)
	return out
}

// edgeAwareTrim 在图像边缘附近去掉 5x5 邻域里前景不过半的像素
func edgeAwareTrim(mask, img gocv.Mat) (gocv.Mat, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 30, 90)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	near := gocv.NewMat()
	defer near.Close()
	gocv.Dilate(edges, &near, kernel)

	w, h := mask.Cols(), mask.Rows()
	edge := near.ToBytes()
	src := mask.ToBytes()
	out := append([]byte(nil), src...)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if edge[i] > 0 && !mostlyForeground(src, w, h, x, y) {
				out[i] = 0
			}
		}
	}
	return gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8U, out)
}

func mostlyForeground(px []byte, w, h, x, y int) bool {
	count := 0
	for ny := max(0, y-2); ny <= min(h-1, y+2); ny++ {
		for nx := max(0, x-2); nx <= min(w-1, x+2); nx++ {
			if px[ny*w+nx] > 128 {
				count++
			}
		}
	}
	return count > 12
}

// keepLargestRegion 只保留面积最大的外轮廓区域
func keepLargestRegion(mask gocv.Mat) gocv.Mat {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return mask.Clone()
	}

	largest, largestArea := 0, 0.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > largestArea {
			largest, largestArea = i, area
		}
	}

	out := gocv.Zeros(mask.Rows(), mask.Cols(), gocv.MatTypeCV8U)
	gocv.DrawContours(&out, contours, largest, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	return out
}

// resizeBinary 缩放到 w×h 后重新二值化
func resizeBinary(mask gocv.Mat, w, h int) gocv.Mat {
	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(mask, &scaled, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)

	out := gocv.NewMat()
	gocv.Threshold(scaled, &out, 127, 255, gocv.ThresholdBinary)
	return out
}

// matToMask 8 位单通道转 pipeline.Mask
func matToMask(m gocv.Mat) *pipeline.Mask {
	out := pipeline.NewMask(m.Cols(), m.Rows())
	for i, v := range m.ToBytes() {
		out.Values[i] = float32(v) / 255
	}
	return out
}
