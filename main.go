/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/testbed"
)

func main() {
	configPath := flag.String("config", "anima.toml", "engine configuration file")
	flag.Parse()

	config := core.DefaultConfig()
	if _, err := os.Stat(*configPath); err == nil {
		if config, err = core.LoadConfig(*configPath); err != nil {
			core.LogFatal(err.Error())
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		core.LogFatal(err.Error())
	}

	tb := testbed.NewTestGame()
	e, err := engine.New(tb.Game, config)
	if err != nil {
		core.LogFatal(err.Error())
	}

	if err := e.Initialize(); err != nil {
		core.LogError(err.Error())
		_ = e.Shutdown()
		os.Exit(1)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		core.LogInfo("signal received, stopping after the current frame")
		e.Stop()
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError(err.Error())
	}
	if runErr != nil {
		core.LogError(runErr.Error())
		os.Exit(1)
	}
}
