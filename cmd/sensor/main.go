package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dynamicworkspace/presence-sensor/internal/archive"
	"github.com/dynamicworkspace/presence-sensor/internal/calibration"
	"github.com/dynamicworkspace/presence-sensor/internal/capture"
	"github.com/dynamicworkspace/presence-sensor/internal/config"
	"github.com/dynamicworkspace/presence-sensor/internal/detect"
	"github.com/dynamicworkspace/presence-sensor/internal/httpapi"
	"github.com/dynamicworkspace/presence-sensor/internal/pipeline"
	"github.com/dynamicworkspace/presence-sensor/internal/state"
	"github.com/dynamicworkspace/presence-sensor/internal/telemetry"
	"github.com/dynamicworkspace/presence-sensor/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	port := flag.Int("port", 0, "websocket/HTTP listen port (overrides config)")
	camera := flag.Int("camera", -1, "camera index to open (overrides config)")
	fps := flag.Float64("fps", 0, "target frame rate, clamped to [10,30] (overrides config)")
	faceModel := flag.String("face-model", "", "path to a RetinaFace-style ONNX face detector (empty disables face detection)")
	poseModel := flag.String("pose-model", "", "path to a pose/nose-Z ONNX model (empty disables pose detection)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// CLI flags always win over the config file (spec §6.1).
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *camera >= 0 {
		cfg.Camera.Index = *camera
	}
	if *fps != 0 {
		cfg.Camera.TargetFPS = clampFPS(*fps)
	} else {
		cfg.Camera.TargetFPS = clampFPS(cfg.Camera.TargetFPS)
	}

	telemetry.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting presence sensor", "port", cfg.Server.Port, "camera", cfg.Camera.Index, "target_fps", cfg.Camera.TargetFPS)

	faceDetector, poseDetector, closeDetectors := buildDetectors(*faceModel, *poseModel)
	defer closeDetectors()

	calibStore, err := calibration.NewStore()
	if err != nil {
		slog.Error("resolve calibration path", "error", err)
		os.Exit(1)
	}

	rec, readyChecks, closeArchive := buildArchive(cfg)
	defer closeArchive()

	store := state.New()
	source := capture.NewSimulated(640, 480, cfg.Camera.Index)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tunables := cfg.Posture.Tunables()
	pl, err := pipeline.New(ctx, source, faceDetector, poseDetector, calibStore, store, rec, pipeline.Config{
		CameraIndex: cfg.Camera.Index,
		TargetFPS:   cfg.Camera.TargetFPS,
		Tunables:    &tunables,
	})
	if err != nil {
		slog.Error("start pipeline", "error", err)
		os.Exit(1)
	}
	go pl.Run(ctx)

	hub := transport.NewHub(store, pl)
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Hub:    hub,
		Checks: readyChecks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("sensor server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down sensor...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("sensor stopped")
}

// clampFPS enforces spec §6.1's [10,30] CLI bound.
func clampFPS(fps float64) float64 {
	if fps < 10 {
		return 10
	}
	if fps > 30 {
		return 30
	}
	return fps
}

// buildDetectors loads the configured ONNX models, falling back to
// NullFaceDetector/NullPoseDetector (initializing onnxruntime once for
// both adapters, which share its environment) when a
// path is not configured or loading fails — detection is an external
// collaborator per spec §1, never a startup-blocking dependency.
func buildDetectors(faceModelPath, poseModelPath string) (detect.FaceDetector, detect.PoseDetector, func()) {
	if faceModelPath == "" && poseModelPath == "" {
		return detect.NullFaceDetector{}, detect.NullPoseDetector{}, func() {}
	}

	ort.SetSharedLibraryPath(onnxLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Warn("onnx runtime init failed — face/pose detection unavailable", "error", err)
		return detect.NullFaceDetector{}, detect.NullPoseDetector{}, func() {}
	}

	var faceDetector detect.FaceDetector = detect.NullFaceDetector{}
	var poseDetector detect.PoseDetector = detect.NullPoseDetector{}
	var closers []func() error

	if faceModelPath != "" {
		fd, err := detect.NewONNXFaceDetector(faceModelPath, 0.5, nil)
		if err != nil {
			slog.Warn("load face detector model — face detection unavailable", "error", err)
		} else {
			faceDetector = fd
			closers = append(closers, fd.Close)
		}
	}
	if poseModelPath != "" {
		pd, err := detect.NewONNXPoseDetector(poseModelPath, nil)
		if err != nil {
			slog.Warn("load pose detector model — pose detection unavailable", "error", err)
		} else {
			poseDetector = pd
			closers = append(closers, pd.Close)
		}
	}

	return faceDetector, poseDetector, func() {
		for _, c := range closers {
			_ = c()
		}
		ort.DestroyEnvironment()
	}
}

func onnxLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// buildArchive wires whichever archive sinks the config enables behind a
// single async Dispatcher, and collects a /readyz check per sink that
// connected successfully; a deployment with none configured gets a no-op
// Null recorder and an empty check map (spec carries no Non-goal against
// archiving, but none of it is required for correctness).
func buildArchive(cfg *config.Config) (*archive.Dispatcher, map[string]httpapi.Checker, func()) {
	ctx := context.Background()
	var sinks []archive.Recorder
	checks := map[string]httpapi.Checker{}

	if cfg.Database.Enabled {
		pg, err := archive.NewPostgresRecorder(ctx, archive.PostgresConfig{DSN: cfg.Database.DSN(), MaxConns: cfg.Database.MaxConns})
		if err != nil {
			slog.Warn("connect postgres archive sink — disabled", "error", err)
		} else if err := pg.EnsureSchema(ctx); err != nil {
			slog.Warn("ensure postgres archive schema — disabled", "error", err)
			pg.Close()
		} else {
			sinks = append(sinks, pg)
			checks["postgres"] = pg.Ping
		}
	}

	if cfg.MinIO.Enabled {
		mi, err := archive.NewMinIORecorder(archive.MinIOConfig{
			Endpoint: cfg.MinIO.Endpoint, AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey, UseSSL: cfg.MinIO.UseSSL, Bucket: cfg.MinIO.Bucket,
		})
		if err != nil {
			slog.Warn("create minio archive sink — disabled", "error", err)
		} else if err := mi.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio archive bucket — disabled", "error", err)
		} else {
			sinks = append(sinks, mi)
			checks["minio"] = mi.Ping
		}
	}

	if cfg.NATS.Enabled {
		eb, err := archive.NewEventBus(cfg.NATS.URL)
		if err != nil {
			slog.Warn("connect nats archive sink — disabled", "error", err)
		} else if err := eb.EnsureStream(ctx); err != nil {
			slog.Warn("ensure nats posture stream — disabled", "error", err)
			eb.Close()
		} else {
			sinks = append(sinks, eb)
			checks["nats"] = eb.Ping
		}
	}

	var record archive.Recorder = archive.Null{}
	if len(sinks) > 0 {
		record = archive.NewMulti(sinks...)
	}
	dispatcher := archive.NewDispatcher(record, 64)
	return dispatcher, checks, dispatcher.Close
}
