package vision

import (
	"image"
	"image/color"

	"github.com/audexhq/audex/internal/core/rules"
)

// measure computes the grayscale quality signals used by the rule
// thresholds: mean brightness and the variance of a 4-neighbor Laplacian.
func measure(img image.Image) rules.QualityMetrics {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return rules.QualityMetrics{}
	}

	gray := make([]float64, w*h)
	sum := 0.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			v := float64(c.Y)
			gray[y*w+x] = v
			sum += v
		}
	}
	mean := sum / float64(w*h)

	if w < 3 || h < 3 {
		return rules.QualityMetrics{MeanBrightness: mean}
	}

	lapSum, lapSqSum := 0.0, 0.0
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := gray[(y-1)*w+x] + gray[(y+1)*w+x] + gray[y*w+x-1] + gray[y*w+x+1] - 4*gray[y*w+x]
			lapSum += lap
			lapSqSum += lap * lap
			n++
		}
	}
	lapMean := lapSum / float64(n)
	variance := lapSqSum/float64(n) - lapMean*lapMean

	return rules.QualityMetrics{MeanBrightness: mean, LaplacianVariance: variance}
}
