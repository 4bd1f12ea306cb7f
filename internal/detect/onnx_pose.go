package detect

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dynamicworkspace/presence-sensor/internal/capture"
)

// ONNXPoseDetector runs a small single-output regression model that maps a
// downsampled frame to a presence score and a world-space nose Z estimate.
// Grounded on the small-model session lifecycle used for the gender/age
// attribute predictor elsewhere in this codebase's vision pipeline (fixed
// square input, NewAdvancedSession with one input/one output, mutex-guarded
// Run), adapted from a softmax classification head to a two-value
// regression output (presence, nose Z).
//
// A production deployment would swap this for a full body-landmark model;
// any PoseDetector implementation satisfying the interface is pluggable, so
// this one exists to give the ONNX Runtime dependency a genuine second
// consumer beyond face detection.
type ONNXPoseDetector struct {
	mu sync.Mutex

	session     *ort.AdvancedSession
	inputTensor *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputSize   int

	// presenceThreshold is the minimum output magnitude treated as "no
	// usable landmarks" versus a genuine measurement; the model emits 0 for
	// frames it considers landmark-free.
	presenceThreshold float32
}

// NewONNXPoseDetector loads a single-input, single-output ONNX regression
// model. opts may be nil for ORT defaults.
func NewONNXPoseDetector(modelPath string, opts *ort.SessionOptions) (*ONNXPoseDetector, error) {
	const inputSize = 96

	inputShape := ort.NewShape(1, 3, int64(inputSize), int64(inputSize))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create pose detector input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 2))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create pose detector output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		[]string{"output"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create pose detector session: %w", err)
	}

	return &ONNXPoseDetector{
		session:           session,
		inputTensor:       inputTensor,
		outputTensor:      outputTensor,
		inputSize:         inputSize,
		presenceThreshold: 1e-6,
	}, nil
}

func (d *ONNXPoseDetector) DetectPose(ctx context.Context, frame capture.Frame) (PoseResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return PoseResult{}, err
	}

	chw := frameToCHW(frame, d.inputSize, d.inputSize)
	copy(d.inputTensor.GetData(), chw)

	if err := d.session.Run(); err != nil {
		return PoseResult{}, fmt.Errorf("run pose detection: %w", err)
	}

	out := d.outputTensor.GetData()
	presence, noseZ := out[0], out[1]
	if presence < d.presenceThreshold {
		return PoseResult{HasLandmarks: false}, nil
	}
	return PoseResult{HasLandmarks: true, NoseWorldZ: float64(noseZ)}, nil
}

func (d *ONNXPoseDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
	return nil
}
