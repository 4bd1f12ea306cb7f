package detect

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dynamicworkspace/presence-sensor/internal/capture"
)

// strides used by the RetinaFace det_10g family of anchor configurations.
var faceStrides = []int{8, 16, 32}

const faceAnchorsPerStride = 2

// ONNXFaceDetector runs a RetinaFace-style detector through ONNX Runtime and
// adapts its five-point landmark output into the six relative keypoints this
// package's FaceDetector contract expects. Grounded on the RetinaFace
// session/anchor-decode/NMS pattern used elsewhere in this codebase's vision
// pipeline, adapted to emit FaceDetection (relative bbox + six keypoints)
// instead of pixel-space Detection.
//
// RetinaFace's 5-point landmark set has no ear tragion points, so
// KeypointRightEarTragion/KeypointLeftEarTragion are approximated from the
// bounding box edges at eye height. This is a deliberate approximation
// documented for callers computing yaw from ear-to-nose distance (see
// features.Extractor), not a bug.
type ONNXFaceDetector struct {
	mu sync.Mutex

	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

// NewONNXFaceDetector loads a RetinaFace det_10g-shaped ONNX model. opts may
// be nil for ORT defaults.
func NewONNXFaceDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*ONNXFaceDetector, error) {
	inputW, inputH := 640, 640

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create face detector input tensor: %w", err)
	}

	type outputSpec struct {
		name  string
		shape ort.Shape
	}
	outputs := []outputSpec{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
		{"454", ort.NewShape(12800, 10)},
		{"477", ort.NewShape(3200, 10)},
		{"500", ort.NewShape(800, 10)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))

	for i, spec := range outputs {
		outputNames[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create face detector output tensor %d (%s): %w", i, spec.name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create face detector session: %w", err)
	}

	return &ONNXFaceDetector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

func (d *ONNXFaceDetector) DetectFaces(ctx context.Context, frame capture.Frame) ([]FaceDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	imgData := frameToCHW(frame, d.inputW, d.inputH)
	copy(d.inputTensor.GetData(), imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run face detection: %w", err)
	}

	raw := d.decode(frame.Width, frame.Height)
	raw = nmsRaw(raw, 0.4)

	dets := make([]FaceDetection, 0, len(raw))
	for _, r := range raw {
		dets = append(dets, r.toRelative(frame.Width, frame.Height))
	}
	return dets, nil
}

// rawDet carries pixel-space bbox plus five landmarks, the model's native
// output space, before conversion to the package's relative FaceDetection.
type rawDet struct {
	bbox [4]float32 // x1,y1,x2,y2
	conf float32
	lm5  [5][2]float32 // left eye, right eye, nose, left mouth, right mouth
}

func (r rawDet) toRelative(origW, origH int) FaceDetection {
	w, h := float64(origW), float64(origH)
	x1, y1, x2, y2 := float64(r.bbox[0]), float64(r.bbox[1]), float64(r.bbox[2]), float64(r.bbox[3])

	eyeY := (float64(r.lm5[0][1]) + float64(r.lm5[1][1])) / 2
	earRight := Point2D{X: clamp01(x2 / w), Y: clamp01(eyeY / h)}
	earLeft := Point2D{X: clamp01(x1 / w), Y: clamp01(eyeY / h)}

	mouthCenter := Point2D{
		X: clamp01((float64(r.lm5[3][0]) + float64(r.lm5[4][0])) / 2 / w),
		Y: clamp01((float64(r.lm5[3][1]) + float64(r.lm5[4][1])) / 2 / h),
	}

	return FaceDetection{
		Score:  float64(r.conf),
		BBoxX:  clamp01(x1 / w),
		BBoxY:  clamp01(y1 / h),
		BBoxW:  clamp01((x2 - x1) / w),
		BBoxH:  clamp01((y2 - y1) / h),
		Keypoints: [6]Point2D{
			KeypointRightEye:        {X: clamp01(float64(r.lm5[1][0]) / w), Y: clamp01(float64(r.lm5[1][1]) / h)},
			KeypointLeftEye:         {X: clamp01(float64(r.lm5[0][0]) / w), Y: clamp01(float64(r.lm5[0][1]) / h)},
			KeypointNoseTip:         {X: clamp01(float64(r.lm5[2][0]) / w), Y: clamp01(float64(r.lm5[2][1]) / h)},
			KeypointMouthCenter:     mouthCenter,
			KeypointRightEarTragion: earRight,
			KeypointLeftEarTragion:  earLeft,
		},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (d *ONNXFaceDetector) decode(origW, origH int) []rawDet {
	var dets []rawDet

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range faceStrides {
		scores := d.outputTensors[si].GetData()
		bboxes := d.outputTensors[si+3].GetData()
		landmarks := d.outputTensors[si+6].GetData()

		fmW := d.inputW / stride
		fmH := d.inputH / stride

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < faceAnchorsPerStride; a++ {
					score := scores[idx]
					if score >= d.threshold {
						anchorX := float32(cx) * float32(stride)
						anchorY := float32(cy) * float32(stride)
						st := float32(stride)

						x1 := clampF32((anchorX-bboxes[idx*4+0]*st)*scaleW, 0, float32(origW))
						y1 := clampF32((anchorY-bboxes[idx*4+1]*st)*scaleH, 0, float32(origH))
						x2 := clampF32((anchorX+bboxes[idx*4+2]*st)*scaleW, 0, float32(origW))
						y2 := clampF32((anchorY+bboxes[idx*4+3]*st)*scaleH, 0, float32(origH))

						var lm [5][2]float32
						for li := 0; li < 5; li++ {
							lm[li][0] = (anchorX + landmarks[idx*10+li*2]*st) * scaleW
							lm[li][1] = (anchorY + landmarks[idx*10+li*2+1]*st) * scaleH
						}

						dets = append(dets, rawDet{bbox: [4]float32{x1, y1, x2, y2}, conf: score, lm5: lm})
					}
					idx++
				}
			}
		}
	}
	return dets
}

func nmsRaw(dets []rawDet, iouThreshold float32) []rawDet {
	if len(dets) == 0 {
		return dets
	}
	sort.Slice(dets, func(i, j int) bool { return dets[i].conf > dets[j].conf })

	keep := make([]bool, len(dets))
	for i := range keep {
		keep[i] = true
	}
	for i := 0; i < len(dets); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(dets); j++ {
			if keep[j] && iouRaw(dets[i].bbox, dets[j].bbox) > iouThreshold {
				keep[j] = false
			}
		}
	}
	var out []rawDet
	for i, d := range dets {
		if keep[i] {
			out = append(out, d)
		}
	}
	return out
}

func iouRaw(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	inter := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF32(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// frameToCHW letterbox-resizes a BGR capture.Frame into a normalized CHW
// float32 buffer of the model's expected input size.
func frameToCHW(frame capture.Frame, dstW, dstH int) []float32 {
	out := make([]float32, 3*dstW*dstH)
	planeSize := dstW * dstH

	xRatio := float64(frame.Width) / float64(dstW)
	yRatio := float64(frame.Height) / float64(dstH)

	for y := 0; y < dstH; y++ {
		sy := int(float64(y) * yRatio)
		if sy >= frame.Height {
			sy = frame.Height - 1
		}
		for x := 0; x < dstW; x++ {
			sx := int(float64(x) * xRatio)
			if sx >= frame.Width {
				sx = frame.Width - 1
			}
			b, g, r := frame.At(sx, sy)
			i := y*dstW + x
			out[i] = (float32(r) - 127.5) / 128.0
			out[planeSize+i] = (float32(g) - 127.5) / 128.0
			out[2*planeSize+i] = (float32(b) - 127.5) / 128.0
		}
	}
	return out
}

func (d *ONNXFaceDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
	return nil
}
