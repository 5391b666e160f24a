/*
   vmcore - Main process.

   Copyright (c) 2024, Richard Cornwell

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

package main

import (
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	"github.com/rcornwell/vmcore/command/console"
	config "github.com/rcornwell/vmcore/config/configparser"
	logger "github.com/rcornwell/vmcore/util/logger"
	"github.com/rcornwell/vmcore/vm"
)

var Logger *slog.Logger

func main() {
	optConfig := getopt.StringLong("config", 'c', "vmcore.cfg", "Configuration file")
	optImage := getopt.StringLong("image", 'i', "", "Guest memory image to load at address 0")
	optAOTCache := getopt.StringLong("aot-cache", 'a', "", "Ahead-of-time code-cache image to preload")
	optInteractive := getopt.BoolLong("interactive", 'I', "Start the operator console instead of running immediately")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	if _, err := os.Stat(*optConfig); os.IsNotExist(err) {
		programLevel := new(slog.LevelVar)
		programLevel.Set(slog.LevelInfo)
		Logger = slog.New(logger.NewHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel}, new(bool)))
		slog.SetDefault(Logger)
		Logger.Error("configuration file not found", "path", *optConfig)
		os.Exit(1)
	}

	settings, err := config.LoadFile(*optConfig)
	if err != nil {
		slog.Error("vmcore: failed to load configuration", "error", err)
		os.Exit(1)
	}

	var logWriter io.Writer
	if settings.LogFile != "" {
		logFile, err := os.Create(settings.LogFile)
		if err != nil {
			slog.Error("vmcore: failed to create log file", "path", settings.LogFile, "error", err)
			os.Exit(1)
		}
		logWriter = logFile
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(settings.LogLevel)
	debugMode := settings.LogLevel <= slog.LevelDebug
	Logger = slog.New(logger.NewHandler(logWriter, &slog.HandlerOptions{Level: programLevel}, &debugMode))
	slog.SetDefault(Logger)

	Logger.Info("vmcore started", "config", *optConfig)

	machine := vm.New(settings.ToVMConfig(Logger))

	if *optAOTCache != "" {
		if f, err := os.Open(*optAOTCache); err == nil {
			if err := machine.LoadAOTCache(f); err != nil {
				Logger.Warn("vmcore: could not load AOT code-cache image", "path", *optAOTCache, "error", err)
			}
			f.Close()
		} else {
			Logger.Warn("vmcore: could not open AOT code-cache image", "path", *optAOTCache, "error", err)
		}
	}

	if *optImage != "" {
		image, err := os.ReadFile(*optImage)
		if err != nil {
			Logger.Error("vmcore: failed to read guest image", "path", *optImage, "error", err)
			os.Exit(1)
		}
		if err := machine.LoadImage(0, image); err != nil {
			Logger.Error("vmcore: failed to load guest image", "error", err)
			os.Exit(1)
		}
	}

	if *optInteractive {
		console.Run(machine)
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan vm.RunResult, 1)
	go func() { done <- machine.Run(0) }()

	select {
	case res := <-sigChan:
		Logger.Info("vmcore: received signal, shutting down", "signal", res.String())
	case res := <-done:
		Logger.Info("vmcore: guest run ended", "outcome", res.Outcome.String())
	}

	machine.Shutdown()
	Logger.Info("vmcore: stopped")
}
