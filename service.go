package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/kardianos/service"
)

const serviceStopTimeout = 35 * time.Second

// serviceActions are the subcommands accepted after "service".
var serviceActions = []string{"install", "uninstall", "start", "stop", "restart", "status"}

// program adapts app to the service manager's Start/Stop lifecycle.
type program struct {
	app    *app
	cancel context.CancelFunc
	exit   chan struct{}
	code   int
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.exit = make(chan struct{})

	go func() {
		defer close(p.exit)
		p.code = p.app.run(ctx)
		if ctx.Err() == nil && p.code != 0 {
			// The app ended on its own; let the service manager see the failure.
			os.Exit(p.code)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case <-p.exit:
		return nil
	case <-time.After(serviceStopTimeout):
		return fmt.Errorf("timeout waiting for service to stop")
	}
}

// serviceConfig returns the unit description. args are passed to the
// binary when the service manager launches it.
func serviceConfig(args []string) *service.Config {
	return &service.Config{
		Name:        "devoid-client",
		DisplayName: "Devoid Generation Client",
		Description: "Submits image generation requests to the Devoid generator service and records the results",
		Arguments:   args,
		Option: service.KeyValue{
			"StartType": "automatic",
			"Restart":   "on-failure",
		},
	}
}

// serviceArgs turns the flags of the current invocation into absolute
// paths so the installed service does not depend on its working directory.
func serviceArgs(envPath, requestsPath string) ([]string, error) {
	var args []string
	if envPath != "" {
		abs, err := filepath.Abs(envPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "-env", abs)
	}
	if requestsPath != "" {
		abs, err := filepath.Abs(requestsPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "-requests", abs)
	}
	return args, nil
}

// runAsService hands control to the service manager and returns once it
// stops the program.
func runAsService(a *app) (int, error) {
	prg := &program{app: a}
	s, err := service.New(prg, serviceConfig(nil))
	if err != nil {
		return 1, fmt.Errorf("failed to create service: %w", err)
	}
	if err := s.Run(); err != nil {
		return 1, fmt.Errorf("service run failed: %w", err)
	}
	return prg.code, nil
}

// controlService performs one of serviceActions against the installed
// service.
func controlService(action string, args []string, out io.Writer) error {
	if !slices.Contains(serviceActions, action) {
		return fmt.Errorf("unknown service action %q (want one of %v)", action, serviceActions)
	}
	s, err := service.New(&program{}, serviceConfig(args))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	if action == "status" {
		status, err := s.Status()
		if err != nil {
			return fmt.Errorf("failed to query service: %w", err)
		}
		fmt.Fprintf(out, "Service %s\n", statusName(status))
		return nil
	}

	if err := service.Control(s, action); err != nil {
		return fmt.Errorf("failed to %s service: %w", action, err)
	}
	fmt.Fprintf(out, "Service %s: ok\n", action)
	return nil
}

func statusName(s service.Status) string {
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "status unknown"
	}
}
