// Command evv-agent is the device-side client. It resolves a stable device
// identity, registers it, shows the open visit for the device's patient and
// the acting user, and can start or end that visit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mengy007/evv-poc/internal/apiclient"
	"github.com/mengy007/evv-poc/internal/bootstrap"
	"github.com/mengy007/evv-poc/internal/domain"
	"github.com/mengy007/evv-poc/internal/identity"
	"github.com/mengy007/evv-poc/internal/platform/logging"
)

type options struct {
	server   string
	agent    string
	state    string
	webauthn bool
	start    bool
	end      bool
	lat, lon float64
	watch    bool
	verbose  bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.server, "server", envOr("EVV_SERVER", "http://localhost:8080"), "Server base URL (or set EVV_SERVER env)")
	flag.StringVar(&o.agent, "agent", os.Getenv("EVV_AGENT"), "Acting user hash (or set EVV_AGENT env)")
	flag.StringVar(&o.state, "state", defaultStatePath(), "File holding the device identity")
	flag.BoolVar(&o.webauthn, "webauthn", false, "Derive a new identity from a software platform credential")
	flag.BoolVar(&o.start, "start", false, "Start a visit after bootstrapping")
	flag.BoolVar(&o.end, "end", false, "End the open visit after bootstrapping")
	flag.Float64Var(&o.lat, "lat", 0, "Latitude reported when starting a visit")
	flag.Float64Var(&o.lon, "lon", 0, "Longitude reported when starting a visit")
	flag.BoolVar(&o.watch, "watch", false, "Keep running and print the elapsed time of the open visit")
	flag.BoolVar(&o.verbose, "verbose", false, "Verbose logging")
	flag.Parse()
	return o
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "evv-agent.json"
	}
	return filepath.Join(dir, "evv-agent", "state.json")
}

func main() {
	o := parseFlags()
	if o.start && o.end {
		log.Fatal("-start and -end are mutually exclusive")
	}

	logLevel := "warn"
	if o.verbose {
		logLevel = "debug"
	}
	// stdout carries the report.
	slog.SetDefault(logging.New(os.Stderr, logLevel, "text"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := identity.NewStateFile(o.state)

	client, err := apiclient.New(o.server, apiclient.WithCookieJar(identity.NewJar(state.Slot(identity.SlotCookie))))
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}

	var resolverOpts []identity.ResolverOption
	if o.webauthn {
		resolverOpts = append(resolverOpts, identity.WithCeremony(&identity.Ceremony{
			Authenticator: &identity.SoftwareAuthenticator{},
		}))
	}
	resolver := identity.NewResolver(state.Store(), resolverOpts...)

	var locator bootstrap.StaticLocator
	if isSet("lat") && isSet("lon") {
		locator.Position = &domain.Location{Lat: o.lat, Lon: o.lon}
	}

	orch := bootstrap.New(client, resolver, locator)
	defer orch.Close()

	if err := run(ctx, orch, o); err != nil {
		printState(os.Stdout, orch.Snapshot())
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, orch *bootstrap.Orchestrator, o options) error {
	if err := orch.Activate(ctx, o.agent); err != nil {
		return err
	}

	switch {
	case o.start:
		if err := orch.Start(ctx); err != nil {
			return err
		}
	case o.end:
		if err := orch.End(ctx); err != nil {
			return err
		}
	}

	printState(os.Stdout, orch.Snapshot())
	if !o.watch {
		return nil
	}
	return watch(ctx, orch)
}

// watch prints the elapsed time once a second until interrupted.
func watch(ctx context.Context, orch *bootstrap.Orchestrator) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s := orch.Snapshot()
			if s.Session == nil {
				fmt.Print("\rNo open visit")
				continue
			}
			fmt.Printf("\rElapsed %s", s.Elapsed)
		}
	}
}

func isSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
