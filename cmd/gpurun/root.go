package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gogpu/dispatch"
	"github.com/gogpu/dispatch/backend"
	"github.com/gogpu/dispatch/backend/host"
	"github.com/gogpu/dispatch/backend/wgpu"
	"github.com/gogpu/dispatch/internal/config"
)

// app is the state shared by all subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	cfg     *config.Config
	log     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "gpurun",
		Short: "Run WGSL compute functions on a GPU",
		Long: `gpurun compiles a WGSL compute function, allocates device buffers,
binds them to the function's arguments in order and dispatches it.

Settings are read from $HOME/.gpudispatch/config.yaml (or --config),
GPUDISPATCH_* environment variables and flags, in increasing priority.`,
		Version:           dispatch.Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.gpudispatch/config.yaml)")
	flags.String("backend", "auto", "compute backend: auto, wgpu or host")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	_ = a.v.BindPFlag("backend.name", flags.Lookup("backend"))
	_ = a.v.BindPFlag("logging.level", flags.Lookup("log-level"))

	root.AddCommand(newDeviceCmd(a), newRunCmd(a), newVersionCmd())
	return root
}

// load reads the configuration and installs the logger.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	a.cfg = cfg
	a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel()}))
	dispatch.SetLogger(a.log)
	if used := a.v.ConfigFileUsed(); used != "" {
		a.log.Debug("gpurun: config loaded", "file", used)
	}
	return nil
}

func (a *app) wgpuConfig() wgpu.Config {
	c := wgpu.DefaultConfig()
	c.PowerPreference = a.cfg.PowerPreference()
	c.ForceFallbackAdapter = a.cfg.Backend.ForceFallbackAdapter
	c.Backends = a.cfg.Backends()
	c.MapTimeout = a.cfg.Backend.MapTimeout
	return c
}

// openSession opens the configured backend. "auto" tries wgpu and falls
// back to the host backend.
func (a *app) openSession() (*dispatch.Session, error) {
	opts := []dispatch.Option{
		dispatch.WithMemoryBudget(a.cfg.Dispatch.MemoryBudget),
		dispatch.WithLogger(a.log),
	}
	gpu := dispatch.WithBackend(wgpu.New(a.wgpuConfig()))
	cpu := dispatch.WithBackend(host.New())

	switch a.cfg.Backend.Name {
	case backend.NameWGPU:
		return dispatch.Open(append(opts, gpu)...)
	case backend.NameHost:
		return dispatch.Open(append(opts, cpu)...)
	}

	s, err := dispatch.Open(append(opts, gpu)...)
	if err == nil {
		return s, nil
	}
	a.log.Warn("gpurun: wgpu unavailable, using host backend", "err", err)
	s, hostErr := dispatch.Open(append(opts, cpu)...)
	if hostErr != nil {
		return nil, fmt.Errorf("no backend available: %w", hostErr)
	}
	return s, nil
}
