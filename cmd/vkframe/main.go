// Command vkframe opens a window and draws a textured quad through the frame
// engine until the window is closed.
package main

//go:generate glslc ../../shaders/shader.vert -o ../../shaders/vert.spv
//go:generate glslc ../../shaders/shader.frag -o ../../shaders/frag.spv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/andewx/vkframe"
	"github.com/andewx/vkframe/hal"
	"github.com/andewx/vkframe/hal/soft"
	"github.com/andewx/vkframe/hal/vulkan"
)

func init() {
	// GLFW event handling must run on the main thread.
	runtime.LockOSThread()
}

type options struct {
	config     string
	debug      bool
	width      int
	height     int
	title      string
	backend    string
	frames     int
	screenshot string
}

func main() {
	var opts options
	flags := pflag.NewFlagSet("vkframe", pflag.ExitOnError)
	flags.StringVarP(&opts.config, "config", "c", "", "config file (toml or yaml)")
	flags.BoolVar(&opts.debug, "debug", false, "enable validation layers and debug logging")
	flags.IntVar(&opts.width, "width", 0, "window width")
	flags.IntVar(&opts.height, "height", 0, "window height")
	flags.StringVar(&opts.title, "title", "", "window title")
	flags.StringVar(&opts.backend, "backend", "", "vulkan or soft")
	flags.IntVarP(&opts.frames, "frames", "n", 0, "stop after this many frames, 0 runs until the window closes")
	flags.StringVar(&opts.screenshot, "screenshot", "", "write the last frame to this PNG file on exit")
	flags.Parse(os.Args[1:])

	cfg, err := loadConfig(opts, flags)
	vkframe.Fatal(err)

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := newLogger(os.Stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch cfg.Backend {
	case "soft":
		err = runSoft(ctx, cfg, opts, logger)
	default:
		err = runWindow(ctx, cfg, opts, logger)
	}
	vkframe.Fatal(err, stop)
}

// newLogger writes text to a terminal and JSON lines anywhere else.
func newLogger(f *os.File, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return slog.New(slog.NewTextHandler(f, opts))
	}
	return slog.New(slog.NewJSONHandler(f, opts))
}

// loadConfig reads the config file, if any, and lets flags that were set on
// the command line override it.
func loadConfig(opts options, flags *pflag.FlagSet) (vkframe.Config, error) {
	cfg := vkframe.DefaultConfig()
	if opts.config != "" {
		var err error
		if cfg, err = vkframe.LoadConfig(opts.config); err != nil {
			return cfg, err
		}
	}
	if flags.Changed("debug") {
		cfg.Debug = opts.debug
	}
	if flags.Changed("width") {
		cfg.Width = opts.width
	}
	if flags.Changed("height") {
		cfg.Height = opts.height
	}
	if flags.Changed("title") {
		cfg.Title = opts.title
	}
	if flags.Changed("backend") {
		cfg.Backend = opts.backend
	}
	return cfg, cfg.Validate()
}

func runWindow(ctx context.Context, cfg vkframe.Config, opts options, logger *slog.Logger) error {
	if err := glfw.Init(); err != nil {
		return errors.Wrap(err, "glfw init")
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.Visible, glfw.True)
	window, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		return errors.Wrap(err, "create window")
	}
	defer window.Destroy()

	major, minor, err := cfg.Version()
	if err != nil {
		return err
	}
	inst, err := vulkan.New(window, vulkan.Options{
		AppName: cfg.Title,
		Major:   major,
		Minor:   minor,
		Debug:   cfg.Debug,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer inst.Destroy()

	registry := vkframe.NewSurfaceRegistry()
	handle := registry.Register()
	defer registry.Unregister(handle)

	gh := newGLFWHost(window)
	window.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		logger.Debug("framebuffer resized", "width", width, "height", height)
		registry.MarkStale(handle)
	})
	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
		}
	})

	return run(ctx, inst, gh, cfg, opts, logger, vkframe.WithSurface(registry, handle))
}

// runSoft drives the CPU backend without a window. It stops after --frames
// frames, 120 when the flag is not set.
func runSoft(ctx context.Context, cfg vkframe.Config, opts options, logger *slog.Logger) error {
	if opts.frames == 0 {
		opts.frames = 120
	}
	win := soft.NewWindow(cfg.Width, cfg.Height)
	inst := soft.New(soft.Options{Window: win, Logger: logger})
	defer inst.Destroy()
	return run(ctx, inst, newSoftHost(win, logger), cfg, opts, logger)
}

func run(ctx context.Context, inst hal.Instance, h host, cfg vkframe.Config, opts options,
	logger *slog.Logger, extra ...vkframe.RendererOption) error {

	cfg = optionalShaders(cfg, logger)
	renderer, err := vkframe.NewRenderer(inst, h, cfg, append(extra, vkframe.WithLogger(logger))...)
	if err != nil {
		return err
	}
	defer renderer.Destroy()

	if _, err := renderer.LoadMesh(quadVertices, quadIndices); err != nil {
		return err
	}

	cam := newCamera()
	counter := vkframe.NewFrameCounter(time.Now)
	last := time.Now()
	for n := 0; opts.frames == 0 || n < opts.frames; n++ {
		if ctx.Err() != nil || !h.Poll() {
			break
		}
		now := time.Now()
		cam.update(h.Input(), float32(now.Sub(last).Seconds()))
		last = now

		width, height := h.FramebufferSize()
		view, proj := cam.matrices(aspect(width, height))
		renderer.SetCamera(&view, &proj)

		info, err := renderer.DrawFrame(ctx)
		if vkframe.IsFatal(err) {
			return err
		}
		if err != nil {
			logger.Debug("frame not presented", "frame", info.Frame, "err", err)
		}
		if fps, ok := counter.Tick(); ok {
			h.SetTitle(fmt.Sprintf("%s | FPS: %d", cfg.Title, fps))
		}
	}

	if opts.screenshot != "" {
		capture, err := renderer.Screenshot(ctx)
		if err != nil {
			return err
		}
		if err := savePNG(opts.screenshot, capture); err != nil {
			return err
		}
		logger.Info("screenshot written", "path", opts.screenshot)
	}
	return nil
}

// optionalShaders drops the shader paths when either file is missing, which
// leaves the renderer clearing the screen only.
func optionalShaders(cfg vkframe.Config, logger *slog.Logger) vkframe.Config {
	for _, path := range []string{cfg.Shaders.Vertex, cfg.Shaders.Fragment} {
		if _, err := os.Stat(path); err != nil {
			logger.Warn("shader not found, drawing clear color only", "path", path)
			cfg.Shaders = vkframe.ShaderConfig{}
			break
		}
	}
	return cfg
}

func aspect(width, height int) float32 {
	if height == 0 {
		return 1
	}
	return float32(width) / float32(height)
}
