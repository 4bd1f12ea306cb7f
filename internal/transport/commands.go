package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dynamicworkspace/presence-sensor/internal/calibration"
)

const probeMaxIndex = 6

// receiveLoop parses JSON command frames and dispatches them. Parse errors
// on a single message do not close the connection; unknown commands are
// silently dropped (spec §4.8, §6.3).
func (c *connection) receiveLoop(ctx context.Context) {
	defer c.cancel()

	c.ws.SetReadDeadline(time.Now().Add(pingTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pingTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			slog.Debug("ws: dropping malformed command", "error", err)
			continue
		}
		if cmd.Cmd == "" {
			continue
		}

		c.dispatch(ctx, cmd)
	}
}

func (c *connection) dispatch(ctx context.Context, cmd Command) {
	switch cmd.Cmd {
	case "cameras":
		list, current := c.handler.Cameras(ctx, probeMaxIndex)
		c.writeJSON(CamerasMessage{Type: "cameras", List: list, Current: current})

	case "switch_camera":
		err := c.handler.SwitchCamera(ctx, cmd.Index)
		ack := AckMessage{Type: "ack", What: "switch_camera", OK: err == nil, Index: intPtr(cmd.Index)}
		if err != nil {
			ack.Reason = err.Error()
		}
		c.writeJSON(ack)

	case "calibrate_phase":
		c.handleCalibratePhase(ctx, cmd)

	case "calibrate_finalize":
		c.handleCalibrateFinalize(ctx)

	case "set_conf_min":
		if cmd.Value == nil {
			c.writeJSON(AckMessage{Type: "ack", What: "set_conf_min", OK: false, Reason: "missing value"})
			return
		}
		c.handler.SetConfMin(*cmd.Value)
		c.writeJSON(AckMessage{Type: "ack", What: "set_conf_min", OK: true, Value: *cmd.Value})

	case "set_qos":
		c.handler.SetQoS(cmd.ProcScale, cmd.FDStride, cmd.PoseStride, cmd.TargetFPS)
		c.writeJSON(AckMessage{Type: "ack", What: "set_qos", OK: true})

	default:
		// Unknown commands are silently dropped (spec §6.3).
	}
}

func (c *connection) handleCalibratePhase(ctx context.Context, cmd Command) {
	phase := calibration.Phase(cmd.Phase)
	if phase != calibration.PhaseReview && phase != calibration.PhaseFocus {
		c.writeJSON(CalibStatusMessage{Type: "calib_status", Phase: cmd.Phase, Status: "error", Reason: "unknown phase"})
		return
	}

	duration := 3 * time.Second
	if cmd.DurationS != nil && *cmd.DurationS > 0 {
		duration = time.Duration(*cmd.DurationS * float64(time.Second))
	}

	c.writeJSON(CalibStatusMessage{Type: "calib_status", Phase: string(phase), Status: "sampling"})

	result := c.handler.CalibratePhase(ctx, phase, duration)
	if !result.OK {
		c.writeJSON(CalibStatusMessage{Type: "calib_status", Phase: string(phase), Status: "error", Reason: result.Reason})
		return
	}

	c.writeJSON(CalibResultPhaseMessage{
		Type: "calib_result_phase", Phase: string(phase),
		Mean: result.Mean, Std: result.Std, N: result.N, Stable: result.Stable,
		FaceMeans: FaceMeansPayload{
			EyeDist: result.FaceMeans.EyeDist, BBoxArea: result.FaceMeans.BBoxArea,
			EyeN: result.FaceMeans.EyeN, BBoxN: result.FaceMeans.BBoxN,
		},
	})
}

func (c *connection) handleCalibrateFinalize(ctx context.Context) {
	_, err := c.handler.CalibrateFinalize(ctx)
	if err != nil {
		c.writeJSON(CalibStatusMessage{Type: "calib_status", Status: "error", Reason: err.Error()})
		return
	}
	c.writeJSON(CalibDoneMessage{Type: "calib_done", Saved: true})
}

func intPtr(v int) *int { return &v }
