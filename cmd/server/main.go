package main

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"render-viewer/internal/platform/config"
	"render-viewer/internal/platform/logger"
	"render-viewer/internal/platform/metrics"
	"render-viewer/internal/transport"
	"render-viewer/internal/viewer"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	maxRes := config.GetEnvInt("MAX_RENDER_RES", viewer.DefaultMaxRenderRes)
	quality := config.GetEnvInt("JPEG_QUALITY", viewer.DefaultJPEGQuality)
	fastScale := config.GetEnvFloat("FAST_RENDER_SCALE", viewer.DefaultFastRenderScale)
	trainSteps := config.GetEnvInt("TRAIN_STEPS", 10000)
	stepMillis := config.GetEnvInt("STEP_MILLIS", 100)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	cfg := viewer.NewRenderConfig()
	if err := cfg.SetMaxRenderRes(maxRes); err != nil {
		log.Error("bad MAX_RENDER_RES", "error", err)
		os.Exit(1)
	}
	if err := cfg.SetJPEGQuality(quality); err != nil {
		log.Error("bad JPEG_QUALITY", "error", err)
		os.Exit(1)
	}
	if err := cfg.SetFastRenderScale(fastScale); err != nil {
		log.Error("bad FAST_RENDER_SCALE", "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	ts := transport.NewServer(log)
	coord := viewer.NewCoordinator(viewer.ModeTraining, demoRenderFn, cfg, log, met)
	coord.BindPanel(ts)
	ts.OnClientConnect(coord.Connect)
	ts.OnClientDisconnect(coord.Disconnect)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetConnectedClients(ts.ClientCount()) }).ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/ws", ts.ServeWS)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("viewer starting",
		"port", port,
		"max_render_res", maxRes,
		"fast_render_scale", fastScale,
		"train_steps", trainSteps,
	)

	done := make(chan struct{})
	go trainLoop(coord, trainSteps, time.Duration(stepMillis)*time.Millisecond, done, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	close(done)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("viewer stopped")
}

// trainLoop simulates a training host: one Update per step, periodic
// metrics pushes, Complete at the end.
func trainLoop(coord *viewer.Coordinator, steps int, period time.Duration, done <-chan struct{}, log *slog.Logger) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for step := 1; step <= steps; step++ {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		if err := coord.Update(step, step%50 == 0); err != nil {
			log.Error("update failed", "step", step, "error", err)
		}
		if step%10 == 0 {
			coord.UpdateMetrics(map[string]any{
				"step":    step,
				"loss":    1.0 / float64(step),
				"clients": coord.ClientCount(),
			})
		}
	}

	if err := coord.Complete(); err != nil {
		log.Error("complete failed", "error", err)
	}
}

// demoRenderFn stands in for a real model: it paints a gradient that
// shifts with the camera position, so a connected client gets visible
// movement feedback.
func demoRenderFn(cam viewer.CameraState, width, height int) (viewer.Frame, []float32, error) {
	pos := cam.CameraToWorld.Col(3)
	phase := pos.X() + pos.Y() + pos.Z()

	pix := make([]uint8, width*height*3)
	depth := make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			fx := float64(x) / float64(width)
			fy := float64(y) / float64(height)
			pix[3*i] = uint8(255 * fx)
			pix[3*i+1] = uint8(255 * fy)
			pix[3*i+2] = uint8(127.5 * (1 + math.Sin(phase)))
			depth[i] = float32(1 + fx*fy)
		}
	}
	return viewer.Frame{Width: width, Height: height, Pix: pix}, depth, nil
}
