// Command echo-server wires the reactorcore Listener up to the reference
// Echo transport and runs it until interrupted. It is a runnable
// demonstration binary, not part of the core library surface.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hioload/reactorcore/api"
	"github.com/hioload/reactorcore/server"
	"github.com/hioload/reactorcore/transport"
)

func main() {
	addrFlag := flag.String("addr", "127.0.0.1:9090", "address to listen on")
	workers := flag.Int("workers", server.DefaultWorkers(), "worker pool size")
	reuseAddr := flag.Bool("reuse-addr", true, "set SO_REUSEADDR")
	flag.Parse()

	log := newLogger()
	defer log.Sync()

	addr, err := api.ParseAddress(*addrFlag)
	if err != nil {
		log.Fatal("invalid address", zap.Error(err))
	}

	var opts api.Options
	if *reuseAddr {
		opts |= api.ReuseAddr
	}
	opts |= api.InstallSignalHandler

	l := server.NewWithAddress(addr)
	if err := l.Init(*workers, opts, server.MaxBacklog); err != nil {
		log.Fatal("init failed", zap.Error(err))
	}
	l.SetHandler(transport.EchoFactory{BufferSize: 4096})

	if err := l.Bind(); err != nil {
		log.Fatal("bind failed", zap.Error(err))
	}
	defer l.Close()

	log.Info("listening", zap.String("addr", addr.String()), zap.Int("workers", *workers))

	ready := make(chan struct{})
	go func() {
		<-ready
		log.Info("ready", zap.Uint16("port", l.GetPort()))
	}()

	if err := l.Run(ready); err != nil {
		log.Fatal("run failed", zap.Error(err))
	}
	log.Info("shut down cleanly")
}

// newLogger builds a zap logger with a colored console encoder when
// stdout is a terminal and a plain structured one otherwise.
func newLogger() *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if isatty.IsTerminal(os.Stdout.Fd()) {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stdout), zapcore.DebugLevel)
		return zap.New(core)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(os.Stdout), zapcore.InfoLevel)
	logger := zap.New(core)
	fmt.Fprintln(os.Stderr, "reactorcore echo-server starting (non-tty output: structured JSON logs)")
	return logger
}
