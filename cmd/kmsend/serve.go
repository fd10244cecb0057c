package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"kmsend/internal/config"
	"kmsend/internal/progress"
	"kmsend/internal/server"
)

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := configFlag(fs)
	addr := fs.String("addr", "", "listen address (overrides server.addr)")
	open := fs.Bool("open", false, "open the page in the default browser")
	fs.Parse(args)

	a, err := bootstrap(*configPath)
	if err != nil {
		fatalf("Error: %v", err)
	}
	defer a.close()
	if *addr != "" {
		a.cfg.Server.Addr = *addr
	}

	err = errors.New("server stopped by a panic")
	a.crash.Recover(func() {
		err = serve(a, *open || a.cfg.Server.OpenBrowser)
	})
	if err != nil {
		a.log.Error("serve failed", "error", err)
		a.close()
		fatalf("Error: %v", err)
	}
}

func serve(a *app, openBrowser bool) error {
	lock, err := a.acquireLock()
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := a.claimStore(ctx)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	if st != nil {
		defer st.Close()
	}

	p, err := a.newPipeline(recorderFor(st))
	if err != nil {
		return err
	}
	a.watchConfig(p)

	extra, rs := a.sinks(ctx)
	if rs != nil {
		defer rs.Close()
	}
	broadcaster := progress.NewBroadcaster()
	sinks := append([]progress.Sink{progress.NewConsoleSink(os.Stdout), broadcaster}, extra...)
	dispatcher := progress.NewDispatcher(a.log.Logger, sinks...)

	hc := a.healthChecker(st, rs)

	gin.SetMode(gin.ReleaseMode)
	deps := server.Deps{
		Runner:     p.orch,
		Events:     broadcaster,
		Health:     hc,
		Metrics:    p.metrics.HTTPHandler(),
		Config:     a.currentConfig,
		RunContext: ctx,
		Version:    Version,
		Logger:     a.log,
	}
	if st != nil {
		deps.History = st
	}
	srv, err := server.New(deps)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// The dispatcher outlives ctx so the final records of an interrupted
	// run still reach the sinks; the stream is closed once the worker exits.
	g.Go(func() error {
		defer a.crash.RecoverGoroutine()
		return dispatcher.Run(context.WithoutCancel(gctx), p.events)
	})
	g.Go(func() error {
		defer a.crash.RecoverGoroutine()
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		rejected := p.metrics.Counter("config_reload_errors_total", "Configuration reloads rejected as invalid.", nil)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-a.loader.Errors():
				rejected.Inc()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		p.orch.Wait()
		p.events.Close()
		broadcaster.Close()
		return nil
	})

	if openBrowser {
		go func() {
			time.Sleep(time.Second)
			if err := openURL("http://" + a.cfg.Server.Addr); err != nil {
				a.log.Warn("open browser", "error", err)
			}
		}()
	}

	a.log.Info("kmsend ready", "addr", a.cfg.Server.Addr, "version", Version)
	err = g.Wait()
	a.log.Info("kmsend stopped")
	return err
}

// currentConfig returns the latest configuration, including hot reloads.
func (a *app) currentConfig() *config.Config {
	if cfg := a.loader.Config(); cfg != nil {
		return cfg
	}
	return a.cfg
}

func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
