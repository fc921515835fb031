// sentry watches a camera and microphone and raises alerts for fighting,
// weapons and loud noise.
//
// Usage:
//
//	sentry [--config path] [--mock]
//	sentry --healthcheck
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-sentry/internal/config"
	"github.com/teslashibe/go-sentry/internal/httpc"
	"github.com/teslashibe/go-sentry/internal/log"
	"github.com/teslashibe/go-sentry/internal/supervisor"
	"github.com/teslashibe/go-sentry/pkg/alert"
	"github.com/teslashibe/go-sentry/pkg/audioio"
	"github.com/teslashibe/go-sentry/pkg/camera"
	"github.com/teslashibe/go-sentry/pkg/camera/capture"
	"github.com/teslashibe/go-sentry/pkg/camera/rtc"
	"github.com/teslashibe/go-sentry/pkg/detection"
	"github.com/teslashibe/go-sentry/pkg/detection/onnx"
	"github.com/teslashibe/go-sentry/pkg/engine"
	"github.com/teslashibe/go-sentry/pkg/faults"
	"github.com/teslashibe/go-sentry/pkg/hub"
	"github.com/teslashibe/go-sentry/pkg/ingest"
	"github.com/teslashibe/go-sentry/pkg/tts"
	"github.com/teslashibe/go-sentry/pkg/web"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "YAML config file (default $SENTRY_CONFIG, then config.yaml)")
	mock := flag.Bool("mock", false, "Use mock camera, microphone and detectors")
	healthcheck := flag.Bool("healthcheck", false, "Probe a running sentry and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}

	if *healthcheck {
		os.Exit(probe(cfg.Web.Addr))
	}

	if *mock {
		cfg.Camera.Backend = camera.BackendMock
		if cfg.Audio.Backend != audioio.BackendNone {
			cfg.Audio.Backend = audioio.BackendMock
		}
		if cfg.Alert.Voice.Enabled {
			cfg.Alert.Voice.TTS.Provider = tts.ProviderMock
		}
	}

	logger := log.Init(cfg.Log.Level, cfg.Log.Format)
	logger.Info("sentry starting", "version", version, "camera", cfg.Camera.Backend, "audio", cfg.Audio.Backend, "mock", *mock)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mock, logger); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		fatal(err)
	}
	logger.Info("sentry stopped")
}

// run opens every device, then serves the pipeline until ctx ends or a
// fatal error occurs. Devices are released on every return path.
func run(ctx context.Context, cfg *config.Config, mock bool, logger *slog.Logger) error {
	var edge *ingest.Hub
	if cfg.Ingest.Enabled {
		edge = ingest.NewHub(cfg.Ingest, logger)
		defer edge.Close()
	}

	src, err := openCamera(ctx, cfg.Camera, edge, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	mic, err := openMic(ctx, cfg.Audio, edge, logger)
	if err != nil {
		return err
	}
	if mic != nil {
		defer mic.Close()
	}

	poses, objects, err := openDetectors(cfg.Detection, mock, logger)
	if err != nil {
		return err
	}
	defer poses.Close()
	defer objects.Close()

	frames := camera.NewBuffer()
	poseProducer := engine.NewPoseProducer(cfg.Producer, frames, poses, logger)
	objectProducer := engine.NewObjectProducer(cfg.Producer, frames, objects, logger)
	inputs := engine.Inputs{
		Poses:   poseProducer.Output(),
		Objects: objectProducer.Output(),
	}
	var audioProducer *engine.AudioProducer
	if mic != nil {
		audioProducer = engine.NewAudioProducer(mic, logger)
		inputs.Levels = audioProducer.Output()
	}

	alertHub := hub.New("alerts", logger)
	history := alert.NewHubSink(alertHub, cfg.Alert.HistorySize)
	sinks := []alert.Sink{alert.NewLogSink(logger), history}
	if edge != nil {
		sinks = append(sinks, edge)
	}
	if cfg.Alert.Voice.Enabled {
		voice, closeVoice, err := openVoice(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeVoice()
		sinks = append(sinks, voice)
	}
	dispatcher := alert.NewDispatcher(cfg.Alert, logger, sinks...)

	eng := engine.New(cfg.Fusion, inputs, dispatcher, logger)

	opts := []web.Option{web.WithAlertHub(alertHub), web.WithPreview(frames)}
	if edge != nil {
		opts = append(opts, web.WithEdge(edge))
	}
	server := web.NewServer(cfg.Web, eng, history, logger, opts...)

	tree := supervisor.New(supervisor.DefaultTreeConfig(), logger)
	tree.AddCapture(supervisor.NewPump(src, frames))
	if audioProducer != nil {
		tree.AddCapture(audioProducer)
	}
	tree.AddPipeline(poseProducer)
	tree.AddPipeline(objectProducer)
	tree.AddPipeline(eng)
	tree.AddPipeline(dispatcher)
	for _, h := range server.Hubs() {
		tree.AddAPI(h)
	}
	tree.AddAPI(server)

	logger.Info("sentry running", "dashboard", cfg.Web.Addr, "cycle_hz", cfg.Fusion.CycleFrequency, "sinks", len(sinks))
	return tree.Serve(ctx)
}

func openCamera(ctx context.Context, cfg camera.Config, edge *ingest.Hub, logger *slog.Logger) (camera.Source, error) {
	cfg = cfg.Resolved()
	switch cfg.Backend {
	case camera.BackendMock:
		return camera.NewMockSource(cfg), nil
	case camera.BackendEdge:
		return edge, nil
	case camera.BackendWebRTC:
		return rtc.Dial(ctx, rtc.DefaultConfig(cfg.URL), logger)
	default:
		return capture.Open(cfg, logger)
	}
}

// openMic returns a started source, or nil when audio is disabled.
func openMic(ctx context.Context, cfg audioio.Config, edge *ingest.Hub, logger *slog.Logger) (audioio.Source, error) {
	var src audioio.Source
	switch cfg.Backend {
	case audioio.BackendNone:
		logger.Warn("audio disabled, loud noise detection is off")
		return nil, nil
	case audioio.BackendEdge:
		src = edge.Mic()
	default:
		s, err := audioio.NewSource(cfg, logger)
		if err != nil {
			return nil, faults.Device("microphone", err)
		}
		src = s
	}
	if err := src.Start(ctx); err != nil {
		src.Close()
		return nil, faults.Device(src.Name(), err)
	}
	return src, nil
}

func openDetectors(cfg detection.Config, mock bool, logger *slog.Logger) (detection.PoseEstimator, detection.ObjectDetector, error) {
	if mock {
		return detection.NewMockPoseEstimator(), detection.NewMockObjectDetector(), nil
	}

	var ce faults.ConfigError
	labels, err := detection.LoadLabels(cfg.ObjectLabels)
	if err != nil {
		ce.Add("detection.object_labels", "%v", err)
		return nil, nil, ce.Err()
	}

	ycfg := onnx.DefaultYOLOConfig()
	ycfg.ModelPath = cfg.ObjectModel
	ycfg.Labels = labels
	ycfg.ConfidenceThresh = float32(cfg.ObjectConfidence)
	objects, err := onnx.NewYOLO(ycfg, logger)
	if err != nil {
		ce.Add("detection.object_model", "%v", err)
		return nil, nil, ce.Err()
	}

	pcfg := onnx.DefaultMoveNetConfig()
	pcfg.ModelPath = cfg.PoseModel
	pcfg.ScoreThreshold = float32(cfg.PoseScoreThreshold)
	pcfg.MaxDetections = cfg.MaxPoses
	poses, err := onnx.NewMoveNet(pcfg, logger)
	if err != nil {
		objects.Close()
		ce.Add("detection.pose_model", "%v", err)
		return nil, nil, ce.Err()
	}
	return poses, objects, nil
}

// openVoice builds the spoken alert sink and starts the speaker.
func openVoice(ctx context.Context, cfg *config.Config, logger *slog.Logger) (alert.Sink, func(), error) {
	provider, err := tts.New(cfg.Alert.Voice.TTS, logger)
	if err != nil {
		return nil, nil, err
	}
	out := cfg.Audio
	if out.Backend == audioio.BackendEdge || out.Backend == audioio.BackendNone {
		out.Backend = audioio.BackendAuto
	}
	speaker, err := audioio.NewSink(out, logger)
	if err != nil {
		provider.Close()
		return nil, nil, faults.Device("speaker", err)
	}
	if err := speaker.Start(ctx); err != nil {
		speaker.Close()
		provider.Close()
		return nil, nil, faults.Device(speaker.Name(), err)
	}
	closeAll := func() {
		speaker.Close()
		provider.Close()
	}
	return alert.NewVoiceSink(cfg.Alert.Voice, provider, speaker, logger), closeAll, nil
}

// probe checks /api/health on the local server. It returns the exit code.
func probe(addr string) int {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck: bad address %q: %v\n", addr, err)
		return 1
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := httpc.Get(ctx, "http://"+net.JoinHostPort(host, port)+"/api/health", 3*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "healthcheck: status %d\n", resp.StatusCode)
		return 1
	}
	return 0
}

// fatal prints a blocking message for errors the user must fix, then exits.
func fatal(err error) {
	fmt.Fprintln(os.Stderr)
	switch {
	case errors.Is(err, faults.ErrDeviceUnavailable):
		fmt.Fprintln(os.Stderr, "❌ Camera or microphone unavailable")
		fmt.Fprintf(os.Stderr, "   %v\n", err)
		fmt.Fprintln(os.Stderr, "   Check the device is connected and this user may open it.")
	case errors.Is(err, faults.ErrConfiguration):
		fmt.Fprintln(os.Stderr, "❌ Invalid configuration")
		var ce *faults.ConfigError
		if errors.As(err, &ce) {
			for _, f := range ce.Fields {
				fmt.Fprintf(os.Stderr, "   %s: %s\n", f.Field, f.Reason)
			}
		} else {
			fmt.Fprintf(os.Stderr, "   %v\n", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "❌ sentry failed: %v\n", err)
	}
	fmt.Fprintln(os.Stderr)
	os.Exit(1)
}
