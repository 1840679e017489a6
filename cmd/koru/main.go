// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"strings"
	"sync"
	"time"

	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/gobuffalo/envy"
	"github.com/gobuffalo/packr"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruview/core"
	"github.com/devblok/koruview/device"
	"github.com/devblok/koruview/model"
	"github.com/devblok/koruview/util/quat"
	"github.com/devblok/koruview/utility/kar"
)

func init() {
	runtime.LockOSThread()
}

var (
	configPath  = flag.String("config", "", "YAML configuration file")
	modelPath   = flag.String("model", "assets/suzanne.dae", "Model to view, a path inside the archive when -archive is set")
	archivePath = flag.String("archive", "", "kar archive holding the model and optionally compiled shaders")
	vertexFn    = flag.String("vert", "meshVertex.vert", "Vertex shader function")
	fragmentFn  = flag.String("frag", "meshFragment.frag", "Fragment shader function")
	headlessRun = flag.Bool("headless", false, "Run without a window on the headless device")
	frameLimit  = flag.Uint64("frames", 0, "Exit after this many frames, 0 runs until closed")
)

// Profiling
var (
	cpuProfile   = flag.String("cpuprof", "", "Profile CPU usage to file")
	memProfile   = flag.String("memprof", "", "Profile memory usage into a file")
	traceProfile = flag.String("trace", "", "Trace output for profiling")
	debug        = flag.Bool("vkdbg", false, "Load Vulkan validation layers")
)

// platform is what the viewer renders with, either a window or nothing.
type platform interface {
	Device() device.Device
	Surface() device.Surface

	// Poll handles pending window events, false means the user asked to quit.
	Poll() bool
	Destroy()
}

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		log.WithError(err).Warn("could not load .env")
	}
	envy.Reload()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	if err := profile(run); err != nil {
		log.WithError(err).Fatal("koru exited")
	}
}

// profile runs fn under the requested profilers.
func profile(fn func() error) error {
	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}

	if *traceProfile != "" {
		f, err := os.Create(*traceProfile)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := trace.Start(f); err != nil {
			return err
		}
		defer trace.Stop()
	}

	if err := fn(); err != nil {
		return err
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			return err
		}
		defer f.Close()
		return pprof.WriteHeapProfile(f)
	}
	return nil
}

func run() error {
	configuration, err := core.LoadConfiguration(*configPath)
	if err != nil {
		return err
	}

	var archive *kar.Archive
	if *archivePath != "" {
		if archive, err = kar.OpenFile(*archivePath); err != nil {
			return err
		}
		defer archive.Close()
	}

	library, err := shaderLibrary(configuration.Renderer.ShaderDirectory, archive)
	if err != nil {
		return err
	}

	var p platform
	if *headlessRun {
		p, err = newHeadless(configuration, library)
	} else {
		p, err = newWindow(configuration, library)
	}
	if err != nil {
		return err
	}
	defer p.Destroy()

	scheduler, err := core.Initialise(p.Device(), p.Surface(), configuration)
	if err != nil {
		return err
	}

	rendererConfig := model.MeshRendererConfig{
		VertexFunction:   *vertexFn,
		FragmentFunction: *fragmentFn,
		Model:            filepath.Base(*modelPath),
		Source:           model.Dir(filepath.Dir(*modelPath)),
	}
	if archive != nil {
		rendererConfig.Model = *modelPath
		rendererConfig.Source = archive
	}
	renderer, err := model.NewMeshRenderer(scheduler.Context(), p.Surface(), rendererConfig)
	if err != nil {
		return err
	}
	defer renderer.Release()

	scheduler.Camera().SetView(glm.Translate3D(0, -2, -6))
	renderer.SetModelMatrix(glm.Translate3D(0, 2, 2).Mul4(quat.ToMatrix(quat.FromEuler(270, 180, 0))))
	renderer.SetSpin(0, 0, 30)

	counter := core.NewFrameCounter()
	if err := scheduler.Register(renderer); err != nil {
		return err
	}
	if err := scheduler.RegisterComputeTarget(counter); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	programSync := sync.WaitGroup{}

	/* Frame counter loop */
	programSync.Add(1)
	go func() {
		defer programSync.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				fmt.Println()
				return
			case <-ticker.C:
				stats := counter.Reset()
				fmt.Printf("\r\033[2KFrames per second: %.0f\tEncoding: %s\tIn flight: %d\tCGO calls: %d",
					stats.FramesPerSecond(), stats.AverageEncoding(), scheduler.Pacer().InFlight(), runtime.NumCgoCall())
			}
		}
	}()

	/* Scheduler loop */
	var runErr error
	programSync.Add(1)
	go func() {
		defer programSync.Done()
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
			cancel()
		}
	}()

	/* Event loop */
	events := scheduler.Time().EventTicker()
EventLoop:
	for {
		select {
		case <-ctx.Done():
			break EventLoop
		case <-events.C:
			if !p.Poll() {
				cancel()
				continue EventLoop
			}
			if *frameLimit > 0 && scheduler.Frames() >= *frameLimit {
				cancel()
			}
		}
	}

	programSync.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	if err := scheduler.Destroy(drainCtx); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"frames":  scheduler.Frames(),
		"dropped": scheduler.Dropped(),
	}).Info("viewer closed")
	return runErr
}

// shaderLibrary prefers compiled shaders stored in the archive, then the
// shader directory.
func shaderLibrary(dir string, archive *kar.Archive) (*device.ShaderLibrary, error) {
	if archive != nil {
		library, err := device.NewShaderLibrary(archive)
		if err != nil {
			return nil, err
		}
		if library.Len() > 0 {
			return library, nil
		}
	}

	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	library, err := device.NewShaderLibrary(packr.NewBox(dir))
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"directory": dir,
		"functions": strings.Join(library.Names(), ","),
	}).Debug("shader library loaded")
	return library, nil
}
