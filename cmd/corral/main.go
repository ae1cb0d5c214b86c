package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corralproject/corral/pkg/enforcement"
	"github.com/corralproject/corral/pkg/healer"
	"github.com/corralproject/corral/pkg/log"
	"github.com/corralproject/corral/pkg/manager"
	"github.com/corralproject/corral/pkg/metrics"
	"github.com/corralproject/corral/pkg/notify"
	"github.com/corralproject/corral/pkg/plugin"
	"github.com/corralproject/corral/pkg/plugin/host"
	"github.com/corralproject/corral/pkg/scheduler"
	"github.com/corralproject/corral/pkg/storage"
	"github.com/corralproject/corral/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "corral",
	Short: "Corral - time-bound cluster resource reservations",
	Long: `Corral is a resource-reservation service: users lease compute hosts
for a fixed time window, and Corral guarantees no two leases ever hold
overlapping claims on the same physical unit.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Corral version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hostCmd)
}

// loadFromFlags resolves the effective configuration for a command
func loadFromFlags(cmd *cobra.Command) (*FileConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reservation service",
	Long: `Run the reservation service: the event scheduler, the healer, the
metrics endpoint and the lease manager, against the local store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadFromFlags(cmd)
		if err != nil {
			return err
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
		metrics.SetVersion(Version)

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %v", err)
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %v", err)
		}
		defer store.Close()
		metrics.RegisterComponent("store", true, "")

		broker := notify.NewBroker()
		broker.Start()
		defer broker.Stop()

		registry := plugin.NewRegistry()
		hostPlugin := host.New(store, host.NopProvisioner{}, cfg.hostConfig())
		if err := registry.Register(hostPlugin); err != nil {
			return err
		}

		filters, err := cfg.enforcementFilters()
		if err != nil {
			return err
		}
		chain := enforcement.NewChain(filters...)

		mgr := manager.New(store, registry, chain, cfg.trustProvider(), broker, cfg.managerConfig())

		sched := scheduler.NewScheduler(store, mgr, broker, cfg.schedulerConfig())
		sched.Start()
		defer sched.Stop()
		metrics.RegisterComponent("scheduler", true, "")

		heal := healer.NewHealer(store, registry, broker, cfg.healerConfig())
		heal.Start()
		defer heal.Stop()
		metrics.RegisterComponent("healer", true, "")

		collector := metrics.NewCollector(store)
		collector.Start()
		defer collector.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		errCh := make(chan error, 1)
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				errCh <- fmt.Errorf("metrics server error: %v", err)
			}
		}()

		logger := log.WithComponent("main")
		logger.Info().
			Str("data_dir", cfg.DataDir).
			Str("metrics_addr", cfg.MetricsAddr).
			Strs("resource_types", registry.ResourceTypes()).
			Msg("corral is running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			return err
		}
		return nil
	},
}

// Host inventory commands operate directly on the store, so they run
// while the service is stopped (bolt allows a single writer process).
var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Manage the host inventory",
}

var hostAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a host to the inventory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadFromFlags(cmd)
		if err != nil {
			return err
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		hostname, _ := cmd.Flags().GetString("hostname")
		vcpus, _ := cmd.Flags().GetInt("vcpus")
		memoryMB, _ := cmd.Flags().GetInt64("memory-mb")
		diskGB, _ := cmd.Flags().GetInt64("disk-gb")
		unreservable, _ := cmd.Flags().GetBool("unreservable")
		extraPairs, _ := cmd.Flags().GetStringSlice("extra")

		extra := make(map[string]string, len(extraPairs))
		for _, pair := range extraPairs {
			k, v, found := strings.Cut(pair, "=")
			if !found {
				return fmt.Errorf("invalid --extra %q, want key=value", pair)
			}
			extra[k] = v
		}

		h := &types.Host{
			Hostname:   hostname,
			VCPUs:      vcpus,
			MemoryMB:   memoryMB,
			DiskGB:     diskGB,
			Reservable: !unreservable,
			Extra:      extra,
		}
		mgr := newOfflineManager(store, cfg)
		if err := mgr.CreateHost(h); err != nil {
			return err
		}
		fmt.Printf("Host %s added (%s)\n", h.ID, h.Hostname)
		return nil
	},
}

var hostListCmd = &cobra.Command{
	Use:   "list",
	Short: "List inventory hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadFromFlags(cmd)
		if err != nil {
			return err
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		hosts, err := store.ListHosts()
		if err != nil {
			return err
		}
		fmt.Printf("%-36s  %-20s  %5s  %9s  %7s  %-10s  %s\n",
			"ID", "HOSTNAME", "VCPUS", "MEMORY_MB", "DISK_GB", "RESERVABLE", "STATUS")
		for _, h := range hosts {
			fmt.Printf("%-36s  %-20s  %5d  %9d  %7d  %-10t  %s\n",
				h.ID, h.Hostname, h.VCPUs, h.MemoryMB, h.DiskGB, h.Reservable, h.Status)
		}
		return nil
	},
}

var hostDeleteCmd = &cobra.Command{
	Use:   "delete <host-id>",
	Short: "Remove a host from the inventory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadFromFlags(cmd)
		if err != nil {
			return err
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		mgr := newOfflineManager(store, cfg)
		if err := mgr.DeleteHost(args[0]); err != nil {
			return err
		}
		fmt.Printf("Host %s deleted\n", args[0])
		return nil
	},
}

// newOfflineManager builds a manager good enough for inventory
// commands: no plugins, no enforcement, no notifications consumed.
func newOfflineManager(store storage.Store, cfg *FileConfig) *manager.Manager {
	broker := notify.NewBroker()
	broker.Start()
	return manager.New(store, plugin.NewRegistry(), enforcement.NewChain(), cfg.trustProvider(), broker, cfg.managerConfig())
}

func init() {
	hostAddCmd.Flags().String("hostname", "", "Host name (required)")
	hostAddCmd.Flags().Int("vcpus", 0, "Number of virtual CPUs")
	hostAddCmd.Flags().Int64("memory-mb", 0, "Memory in MB")
	hostAddCmd.Flags().Int64("disk-gb", 0, "Local disk in GB")
	hostAddCmd.Flags().Bool("unreservable", false, "Exclude the host from allocation")
	hostAddCmd.Flags().StringSlice("extra", nil, "Extra capability as key=value (repeatable)")

	hostCmd.AddCommand(hostAddCmd)
	hostCmd.AddCommand(hostListCmd)
	hostCmd.AddCommand(hostDeleteCmd)
}
