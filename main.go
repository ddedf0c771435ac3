/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/ember/engine"
	"github.com/spaghettifunk/ember/engine/config"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/testbed"
)

func main() {
	configPath := flag.String("config", "testbed/config.toml", "TOML configuration file")
	screenshot := flag.String("screenshot", "", "save the first frame as BMP to this path and exit")
	backend := flag.String("backend", "", "override renderer.backend (vulkan or software)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		core.LogFatal("%s", err)
	}
	if *backend != "" {
		cfg.Renderer.Backend = *backend
	}

	var opts []engine.Option
	if *screenshot != "" {
		opts = append(opts, engine.WithMaxFrames(1))
	}

	ctx, err := engine.New(testbed.NewTestGame(), cfg, opts...)
	if err != nil {
		core.LogFatal("%s", err)
	}
	if *screenshot != "" {
		ctx.Screenshot(*screenshot)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// the loop owns the engine, so a signal only asks it to stop
	go func() {
		<-sigCh
		ctx.Quit()
	}()

	err = ctx.Run()
	ctx.Shutdown()
	if err != nil {
		core.LogFatal("%s", err)
	}
}
