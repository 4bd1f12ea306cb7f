package features

import "github.com/dynamicworkspace/presence-sensor/internal/capture"

// measureQuality computes mean brightness and Laplacian variance on the
// frame as received — the pipeline is responsible for passing it the
// already-downscaled processing frame (spec §4.1: "computed on the
// downscaled processing frame").
func measureQuality(frame capture.Frame) Quality {
	w, h := frame.Width, frame.Height
	if w < 3 || h < 3 {
		return Quality{}
	}

	gray := make([]float64, w*h)
	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			b, g, r := frame.At(x, y)
			// ITU-R BT.601 luma weights, matching a typical cv2.cvtColor
			// BGR2GRAY conversion.
			lum := 0.114*float64(b) + 0.587*float64(g) + 0.299*float64(r)
			gray[y*w+x] = lum
			sum += lum
		}
	}
	brightness := sum / float64(w*h)

	// 3x3 Laplacian kernel [[0,1,0],[1,-4,1],[0,1,0]] over the interior,
	// matching cv2.Laplacian's default kernel on a grayscale image.
	var lapSum, lapSumSq float64
	var n int
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := gray[y*w+x]
			lap := gray[y*w+x-1] + gray[y*w+x+1] + gray[(y-1)*w+x] + gray[(y+1)*w+x] - 4*c
			lapSum += lap
			lapSumSq += lap * lap
			n++
		}
	}
	var blurVar float64
	if n > 0 {
		mean := lapSum / float64(n)
		blurVar = lapSumSq/float64(n) - mean*mean
		if blurVar < 0 {
			blurVar = 0
		}
	}

	return Quality{Brightness: brightness, BlurVar: blurVar}
}
