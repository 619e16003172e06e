// Loginway - login gateway for the classic pre-match client handshake.
//
// The gateway terminates client TCP connections, runs the enciphered
// handshake, checks patch level and population admission, and hands
// accepted clients into the character-select/in-world holding states.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kongor-project/loginway/internal/cli"
	"github.com/kongor-project/loginway/internal/config"
	"github.com/kongor-project/loginway/internal/events"
	"github.com/kongor-project/loginway/internal/gateway"
	"github.com/kongor-project/loginway/internal/obs"
)

const (
	AppName    = "Loginway"
	AppVersion = "1.0.0"
	Banner     = `
  _                _
 | |   ___  __ _ _ (_)_ __   __ __ ____ _ _   _
 | |  / _ \/ _' | || | '_ \ / / '_ \ V  V / _' | | | |
 | |_| (_) | (_| | || | | | \ \ | | \_/\_/ (_| | |_| |
 |_____\___/\__, |_|_|_| |_|\_\_| |_|    \__,_|\__, |
             |___/   v%s                     |___/
 Login Gateway
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	if err := obs.InitLogger(config.DefaultConfig().Logging); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	configDir := flag.String("config-dir", config.DefaultConfigDir, "directory holding config.json")
	flag.Parse()

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting " + AppName)

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if err := obs.InitLogger(cfg.Logging); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := obs.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("arch", sysInfo.Arch).
		Msg("system information")

	gw, err := gateway.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct gateway")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cliHandler := cli.NewCLI(gw.EventBus(), gw.Queue(), gw.Sessions(), gw.Patcher(), gw.Bans())

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.Listen.Port).Msg("starting gateway")
		if err := startWithRetry(ctx, "gateway", gw.Run, 10); err != nil {
			log.Error().Err(err).Msg("gateway failed after retries")
			errCh <- fmt.Errorf("gateway: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)

	quitCh := make(chan struct{}, 1)
	gw.EventBus().Subscribe(events.EventShutdown, "main.quit", func(context.Context, events.Event) error {
		select {
		case quitCh <- struct{}{}:
		default:
		}
		return nil
	})

	shuttingDown := false
	for !shuttingDown {
		select {
		case <-quitCh:
			log.Info().Msg("received shutdown request from console")
			shuttingDown = true
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				log.Info().Msg("received SIGHUP, reloading ban list")
				if err := gw.Bans().Reload(); err != nil {
					log.Warn().Err(err).Msg("ban list reload failed")
				}
			case syscall.SIGUSR1:
				cliHandler.PrintSnapshot()
			default:
				log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
				shuttingDown = true
			}
		case err := <-errCh:
			log.Error().Err(err).Msg("critical error, initiating shutdown")
			shuttingDown = true
		}
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	gw.EventBus().Emit(ctx, events.Event{Type: events.EventShutdown, Source: "main"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	gw.EventBus().Stop()
	if err := gw.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close gateway cleanly")
	}

	log.Info().Msg(AppName + " stopped")
}

// startWithRetry calls startFn, retrying with a fixed 3s backoff whenever it
// returns an error (for example the listen socket not yet released by a
// previous process, or a failed boot load), up to maxRetries times. A nil
// return, as on a clean shutdown, ends the loop at once.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("start failed, retrying in 3s...")
			time.Sleep(3 * time.Second)
		}
	}
	return lastErr
}
