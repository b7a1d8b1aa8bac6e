package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/daemonp/visonic2mqtt/internal/config"
	"github.com/daemonp/visonic2mqtt/internal/executor"
	"github.com/daemonp/visonic2mqtt/internal/homeassistant"
	"github.com/daemonp/visonic2mqtt/internal/integration"
	"github.com/daemonp/visonic2mqtt/internal/log"
	"github.com/daemonp/visonic2mqtt/internal/metrics"
	"github.com/daemonp/visonic2mqtt/internal/mqtt"
	"github.com/daemonp/visonic2mqtt/internal/panel"
	"github.com/daemonp/visonic2mqtt/internal/store"
	"github.com/daemonp/visonic2mqtt/internal/visonic"
)

const usage = `Usage: visonic2mqtt [-config config.yml] <command> [flags]

Commands:
  run          bridge every configured panel to MQTT (default)
  add          validate credentials and add a panel
  reconfigure  change the settings of a panel (-id, same flags as add)
  remove       remove a panel by entry id
  list         list configured panels
`

func main() {
	configFile := flag.String("config", "config.yml", "Path to configuration file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	logger := log.NewLogger(cfg.Log)

	entries, err := store.Open(cfg.EntriesFile)
	if err != nil {
		logger.Fatal("Failed to open entries: %v", err)
	}

	pool := executor.New(cfg.Visonic.Workers)
	dial := panel.VisonicDialer(visonic.WithTimeout(cfg.Visonic.RequestTimeout))

	command, args := "run", []string(nil)
	if flag.NArg() > 0 {
		command, args = flag.Arg(0), flag.Args()[1:]
	}

	switch command {
	case "run":
		err = run(cfg, entries, pool, dial, logger)
	case "add":
		err = add(args, os.Stdout, entries, pool, dial, logger)
	case "reconfigure":
		err = reconfigure(args, os.Stdout, entries, pool, dial, logger)
	case "remove":
		err = remove(args, entries, logger)
	case "list":
		list(entries)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, entries *store.Store, pool *executor.Pool, dial panel.Dialer, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, logger); err != nil {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
	}

	// Connect to MQTT broker
	mqttClient := mqtt.NewMQTT(&cfg.MQTT, logger)
	if err := mqttClient.Connect(); err != nil {
		return err
	}
	defer mqttClient.Close()

	// Home Assistant discovery is optional; state and command topics are
	// always available.
	var announcer mqtt.Announcer
	if cfg.HomeAssistant.Discovery {
		announcer = homeassistant.New(&cfg.HomeAssistant, mqttClient, logger)
	}
	bridge := mqtt.NewBridge(mqttClient, announcer, logger)

	registry := integration.NewRegistry(dial, pool, bridge, logger, integration.Options{})
	configured := entries.Entries()
	if len(configured) == 0 {
		logger.Warn("No panels configured, add one with 'visonic2mqtt add'")
	}
	setup := registry.Start(ctx, configured, cfg.Visonic.RetryInterval)

	// Wait for termination signal
	<-ctx.Done()

	// Graceful shutdown
	logger.Info("Shutting down...")
	setup.Wait()
	registry.Close()
	return nil
}

func add(args []string, out io.Writer, entries *store.Store, pool *executor.Pool, dial panel.Dialer, logger *log.Logger) error {
	entry := config.NewEntryConfig()

	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	entryFlags(fs, &entry)
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow := integration.NewConfigFlow(pool, dial, entries, logger)
	result, err := flow.Submit(context.Background(), entry)
	if err != nil {
		return err
	}
	if !result.OK() {
		return fmt.Errorf("could not add panel: %s (%v)", result.Errors["base"], result.Err)
	}

	fmt.Fprintf(out, "Added %s as entry %s\n", result.Entry.Title, result.Entry.ID)
	return nil
}

// reconfigure starts from the stored entry, so only the flags given change.
// The master code is never pre-filled and must be entered again.
func reconfigure(args []string, out io.Writer, entries *store.Store, pool *executor.Pool, dial panel.Dialer, logger *log.Logger) error {
	fs := flag.NewFlagSet("reconfigure", flag.ContinueOnError)
	id := fs.String("id", "", "Entry id to reconfigure")
	if err := fs.Parse(idFirst(args)); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("reconfigure: -id is required")
	}

	flow := integration.NewConfigFlow(pool, dial, entries, logger)
	entry, err := flow.Defaults(*id)
	if err != nil {
		return err
	}

	fs = flag.NewFlagSet("reconfigure", flag.ContinueOnError)
	fs.String("id", *id, "Entry id to reconfigure")
	entryFlags(fs, &entry)
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := flow.Reconfigure(context.Background(), *id, entry)
	if err != nil {
		return err
	}
	if !result.OK() {
		return fmt.Errorf("could not reconfigure panel: %s (%v)", result.Errors["base"], result.Err)
	}

	fmt.Fprintf(out, "Reconfigured %s (entry %s)\n", result.Entry.Title, result.Entry.ID)
	return nil
}

func entryFlags(fs *flag.FlagSet, entry *config.EntryConfig) {
	fs.StringVar(&entry.Host, "host", entry.Host, "Visonic service host")
	fs.StringVar(&entry.Email, "email", entry.Email, "Account email")
	fs.StringVar(&entry.Password, "password", entry.Password, "Account password")
	fs.StringVar(&entry.PanelID, "panel-id", entry.PanelID, "Panel serial")
	fs.StringVar(&entry.MasterCode, "code", entry.MasterCode, "Panel master code")
	fs.BoolVar(&entry.CodelessArm, "codeless-arm", entry.CodelessArm, "Arm without entering a code")
	fs.BoolVar(&entry.CodelessDisarm, "codeless-disarm", entry.CodelessDisarm, "Disarm without entering a code")
	fs.IntVar(&entry.UpdateInterval, "interval", entry.UpdateInterval, "Update interval in seconds")
}

// idFirst picks the -id flag out of args so the entry can be loaded before
// the remaining flags are parsed against it.
func idFirst(args []string) []string {
	for i, arg := range args {
		switch {
		case arg == "-id" || arg == "--id":
			if i+1 < len(args) {
				return []string{arg, args[i+1]}
			}
			return []string{arg}
		case strings.HasPrefix(arg, "-id=") || strings.HasPrefix(arg, "--id="):
			return []string{arg}
		}
	}
	return nil
}

func remove(args []string, entries *store.Store, logger *log.Logger) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	id := fs.String("id", "", "Entry id to remove")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("remove: -id is required")
	}

	if err := entries.Remove(*id); err != nil {
		return err
	}
	logger.Info("Removed entry %s", *id)
	return nil
}

func list(entries *store.Store) {
	for _, e := range entries.Entries() {
		fmt.Printf("%s\t%s\t%s\tevery %ds\n", e.ID, e.Title, e.Host, e.UpdateInterval)
	}
}
