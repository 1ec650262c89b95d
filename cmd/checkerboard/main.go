// Command checkerboard renders the compute checker board into a window.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/Carmen-Shannon/oxy-compute/engine"
	"github.com/Carmen-Shannon/oxy-compute/engine/config"
	"github.com/Carmen-Shannon/oxy-compute/engine/loader"
	"github.com/Carmen-Shannon/oxy-compute/engine/logger"
	"github.com/Carmen-Shannon/oxy-compute/engine/metrics"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/resources"
	"github.com/Carmen-Shannon/oxy-compute/engine/scene"
	"github.com/Carmen-Shannon/oxy-compute/engine/window"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	variant := flag.String("variant", "", "buffering variant: pingpong or uniform")
	shaderRoot := flag.String("shaders", "", "load shaders from this directory instead of the embedded assets")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address")
	software := flag.Bool("software", false, "force the software fallback adapter")
	profiling := flag.Bool("profile", false, "log frame rate and memory statistics")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err == nil {
		err = applyFlags(&cfg, *variant, *shaderRoot, *metricsAddr, *software, *profiling)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development, Name: "checkerboard"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("checkerboard failed", zap.Error(err))
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func applyFlags(cfg *config.Config, variant, shaderRoot, metricsAddr string, software, profiling bool) error {
	if variant != "" {
		v, err := resources.ParseVariant(variant)
		if err != nil {
			return err
		}
		cfg.Variant = v
	}
	if shaderRoot != "" {
		cfg.Shader.Root = shaderRoot
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	cfg.Software = cfg.Software || software
	cfg.Profiling = cfg.Profiling || profiling
	return cfg.Validate()
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	w, err := window.NewWindow(
		window.WithTitle(cfg.Window.Title),
		window.WithSize(cfg.Window.Width, cfg.Window.Height),
		window.WithResizable(cfg.Window.Resizable),
	)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	ropts, err := rendererOptions(cfg, log)
	if err != nil {
		return err
	}
	r, err := renderer.NewRenderer(renderer.BackendTypeWGPU, w, ropts...)
	if err != nil {
		return err
	}
	defer r.Release()

	loaderBackend := loader.BackendTypeEmbedded
	loaderOptions := []loader.LoaderBuilderOption{loader.WithLogger(log.Named("loader"))}
	if cfg.Shader.Root != "" {
		loaderBackend = loader.BackendTypeFile
		loaderOptions = append(loaderOptions, loader.WithRoot(cfg.Shader.Root))
	}

	sceneOptions := []scene.SceneBuilderOption{
		scene.WithLoader(loader.NewLoader(loaderBackend, loaderOptions...)),
		scene.WithComputeShader(cfg.ShaderPath(), cfg.Shader.EntryPoint),
		scene.WithDisplayShader(cfg.Shader.Display),
		scene.WithDisplayFactor(cfg.DisplayFactor),
		scene.WithWorkgroupSize(cfg.WorkgroupSize),
		scene.WithCacheCapacity(cfg.Shader.CacheCapacity),
		scene.WithCompileWorkers(cfg.Shader.CompileWorkers),
		scene.WithLogger(log.Named("scene")),
		scene.WithMetrics(m),
	}
	if !cfg.Shader.Validate {
		sceneOptions = append(sceneOptions, scene.WithShaderValidator(nil))
	}
	width, height := cfg.TextureSize()
	s, err := scene.NewScene("checker board", r.Device(), cfg.Variant, width, height, sceneOptions...)
	if err != nil {
		return err
	}
	defer s.Release()

	e := engine.NewEngine(
		engine.WithWindow(w),
		engine.WithRenderer(r),
		engine.WithScene(0, s),
		engine.WithTickRate(cfg.TickRate),
		engine.WithRenderFrameLimit(cfg.FrameLimit),
		engine.WithProfiling(cfg.Profiling),
		engine.WithLogger(log),
		engine.WithMetrics(m),
	)
	return e.Run()
}

func rendererOptions(cfg config.Config, log *zap.Logger) ([]renderer.RendererBuilderOption, error) {
	presentMode, ok := renderer.ParsePresentMode(cfg.PresentMode)
	if !ok {
		return nil, fmt.Errorf("unknown present mode %q", cfg.PresentMode)
	}
	return []renderer.RendererBuilderOption{
		renderer.WithPresentMode(presentMode),
		renderer.WithForceSoftwareRenderer(cfg.Software),
		renderer.WithLogger(log.Named("renderer")),
	}, nil
}
