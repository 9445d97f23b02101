// Command shovel moves messages between an AMQP broker and/or an on-disk
// queue directory, optionally through a named transform.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"go.bryk.io/shovel/cli"
	"go.bryk.io/shovel/cli/konf"
	"go.bryk.io/shovel/config"
	"go.bryk.io/shovel/engine"
	xlog "go.bryk.io/shovel/log"
	"go.bryk.io/shovel/pidfile"
)

// exit codes per the control-interface contract: 0 clean, 1 config error,
// 2 fatal runtime error after the pipeline started.
const (
	exitOK     = 0
	exitConfig = 1
	exitFatal  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	log := xlog.WithZero(xlog.ZeroOptions{})

	root := &cobra.Command{
		Use:           "shovel",
		Short:         "Move messages between an AMQP broker and an on-disk queue directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if err := cli.SetupCommandParams(root, flagParams()); err != nil {
		log.WithFields(xlog.Fields{"error": err.Error()}).Error("invalid flag definitions")
		return exitConfig
	}

	var code int
	root.RunE = func(cmd *cobra.Command, args []string) error {
		code = runShovel(cmd, log)
		if code != exitOK {
			return fmt.Errorf("shovel exited with code %d", code)
		}
		return nil
	}

	statusCmd := &cobra.Command{
		Use:   "status [pidfile]",
		Short: "Report whether a shovel instance tracked by the given PID file is running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := pidfile.Query(args[0])
			if err != nil {
				return err
			}
			if st.Running {
				fmt.Printf("running pid=%d uptime=%s\n", st.PID, st.Uptime.Round(time.Second))
			} else {
				fmt.Println("stopped")
			}
			return nil
		},
	}

	quitCmd := &cobra.Command{
		Use:   "quit [pidfile]",
		Short: "Request graceful termination of the instance tracked by the given PID file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pidfile.RequestQuit(args[0])
		},
	}

	root.AddCommand(statusCmd, quitCmd)

	if err := root.Execute(); err != nil {
		if code == exitOK {
			code = exitConfig
		}
		return code
	}
	return exitOK
}

// flagParams declares the command-line surface; values are then re-read,
// along with any config file and environment overrides, through the
// konf-based loader so file/env/flag precedence is uniform.
func flagParams() []cli.Param {
	return []cli.Param{
		{Name: "incoming-broker-uri", Usage: "incoming broker connection string", ByDefault: ""},
		{Name: "incoming-queue", Usage: "incoming queue directory path", ByDefault: ""},
		{Name: "outgoing-broker-uri", Usage: "outgoing broker connection string", ByDefault: ""},
		{Name: "outgoing-queue", Usage: "outgoing queue directory path", ByDefault: ""},
		{Name: "outgoing-exchange", Usage: "outgoing broker exchange", ByDefault: ""},
		{Name: "outgoing-routing-key", Usage: "outgoing broker routing key", ByDefault: ""},
		{Name: "subscribe", Usage: "incoming broker subscription destination, e.g. /queue/Q (repeatable)", ByDefault: []string{}},
		{Name: "prefetch", Usage: "broker source prefetch count", ByDefault: int(0)},
		{Name: "window", Usage: "in-flight window size", ByDefault: int(32)},
		{Name: "reliable", Usage: "enable client acks and publisher confirms", ByDefault: false},
		{Name: "count", Usage: "stop after this many acked messages", ByDefault: uint64(0)},
		{Name: "duration", Usage: "stop after this many seconds have elapsed", ByDefault: int(0)},
		{Name: "timeout-inactivity", Usage: "stop after this many seconds without a receipt", ByDefault: int(0)},
		{Name: "timeout-connect", Usage: "seconds allowed for Source/Sink Start", ByDefault: int(30)},
		{Name: "timeout-linger", Usage: "seconds allowed to drain on shutdown", ByDefault: int(10)},
		{Name: "lazy", Usage: "defer sink construction until the first receive", ByDefault: false},
		{Name: "loop", Usage: "rescan the queue source on exhaustion", ByDefault: false},
		{Name: "remove", Usage: "delete queue source entries on ack", ByDefault: false},
		{Name: "statistics", Usage: "log a summary at shutdown", ByDefault: false},
		{Name: "callback-code", Usage: "name of the compiled-in transform to use", ByDefault: ""},
		{Name: "pidfile", Usage: "path to the PID file", ByDefault: ""},
		{Name: "config", Usage: "path to a config file", ByDefault: ""},
		{Name: "legacy-config", Usage: "use the single-file viper-based config loader instead of the layered file/env/flag loader", ByDefault: false},
	}
}

// flatConfig mirrors the flag surface for konf.Config.Unmarshal.
type flatConfig struct {
	IncomingBrokerURI  string   `konf:"incoming-broker-uri"`
	IncomingQueue      string   `konf:"incoming-queue"`
	OutgoingBrokerURI  string   `konf:"outgoing-broker-uri"`
	OutgoingQueue      string   `konf:"outgoing-queue"`
	OutgoingExchange   string   `konf:"outgoing-exchange"`
	OutgoingRoutingKey string   `konf:"outgoing-routing-key"`
	Subscribe          []string `konf:"subscribe"`
	Prefetch           int      `konf:"prefetch"`
	Window             int      `konf:"window"`
	Reliable           bool     `konf:"reliable"`
	Count              uint64   `konf:"count"`
	Duration           int      `konf:"duration"`
	TimeoutInactivity  int      `konf:"timeout-inactivity"`
	TimeoutConnect     int      `konf:"timeout-connect"`
	TimeoutLinger      int      `konf:"timeout-linger"`
	Lazy               bool     `konf:"lazy"`
	Loop               bool     `konf:"loop"`
	Remove             bool     `konf:"remove"`
	Statistics         bool     `konf:"statistics"`
	CallbackCode       string   `konf:"callback-code"`
	PIDFile            string   `konf:"pidfile"`
}

func loadConfig(cmd *cobra.Command) (config.Options, error) {
	fc := flatConfig{Window: 32, TimeoutConnect: 30, TimeoutLinger: 10}
	if v, _ := cmd.Flags().GetString("incoming-broker-uri"); v != "" {
		fc.IncomingBrokerURI = v
	}

	legacy, _ := cmd.Flags().GetBool("legacy-config")
	if legacy {
		loadLegacyConfig(cmd, &fc)
	} else if handler := setupKonf(cmd); handler != nil {
		_ = handler.Unmarshal("", &fc)
	}
	for _, name := range []string{
		"incoming-broker-uri", "incoming-queue", "outgoing-broker-uri", "outgoing-queue",
		"outgoing-exchange", "outgoing-routing-key", "callback-code", "pidfile",
	} {
		if v, _ := cmd.Flags().GetString(name); v != "" {
			assignFlag(&fc, name, v)
		}
	}
	if v, _ := cmd.Flags().GetStringSlice("subscribe"); len(v) > 0 {
		fc.Subscribe = v
	}
	if v, _ := cmd.Flags().GetInt("prefetch"); v != 0 {
		fc.Prefetch = v
	}
	if v, _ := cmd.Flags().GetInt("window"); v != 0 {
		fc.Window = v
	}
	if v, _ := cmd.Flags().GetBool("reliable"); v {
		fc.Reliable = v
	}
	if v, _ := cmd.Flags().GetUint64("count"); v != 0 {
		fc.Count = v
	}
	if v, _ := cmd.Flags().GetInt("duration"); v != 0 {
		fc.Duration = v
	}
	if v, _ := cmd.Flags().GetInt("timeout-inactivity"); v != 0 {
		fc.TimeoutInactivity = v
	}
	if v, _ := cmd.Flags().GetBool("lazy"); v {
		fc.Lazy = v
	}
	if v, _ := cmd.Flags().GetBool("loop"); v {
		fc.Loop = v
	}
	if v, _ := cmd.Flags().GetBool("remove"); v {
		fc.Remove = v
	}
	if v, _ := cmd.Flags().GetBool("statistics"); v {
		fc.Statistics = v
	}

	return toOptions(fc)
}

// setupKonf builds the default layered (file/env/flag) config loader. A
// missing config file is not an error: flags and defaults still apply.
func setupKonf(cmd *cobra.Command) *konf.Config {
	pf := &pflag.FlagSet{}
	cmd.Flags().VisitAll(func(f *pflag.Flag) { pf.AddFlag(f) })

	var locations []string
	if cf, _ := cmd.Flags().GetString("config"); cf != "" {
		locations = append(locations, cf)
	}
	locations = append(locations, konf.DefaultLocations("shovel", "config.yaml")...)

	handler, err := konf.Setup(
		konf.WithFileLocations(locations),
		konf.WithTagName("konf"),
		konf.WithEnv("shovel"),
		konf.WithPflags(pf),
	)
	if err != nil {
		return nil
	}
	return handler
}

// loadLegacyConfig populates fc using the single-file viper-backed loader
// (--legacy-config) instead of the layered konf loader: a simpler
// alternative for deployments that only ever read one config file and
// don't need env/flag layering.
func loadLegacyConfig(cmd *cobra.Command, fc *flatConfig) {
	opts := &cli.ConfigOptions{}
	if cf, _ := cmd.Flags().GetString("config"); cf != "" {
		opts.Locations = []string{filepath.Dir(cf)}
		opts.FileName = strings.TrimSuffix(filepath.Base(cf), filepath.Ext(cf))
	}
	c := cli.ConfigHandler("shovel", opts)
	if err := c.ReadFile(true); err != nil {
		return
	}
	_ = c.Unmarshal(fc, "")
}

// assignFlag applies a string flag override onto the matching flatConfig
// field by name.
func assignFlag(fc *flatConfig, name, value string) {
	switch name {
	case "incoming-broker-uri":
		fc.IncomingBrokerURI = value
	case "incoming-queue":
		fc.IncomingQueue = value
	case "outgoing-broker-uri":
		fc.OutgoingBrokerURI = value
	case "outgoing-queue":
		fc.OutgoingQueue = value
	case "outgoing-exchange":
		fc.OutgoingExchange = value
	case "outgoing-routing-key":
		fc.OutgoingRoutingKey = value
	case "callback-code":
		fc.CallbackCode = value
	case "pidfile":
		fc.PIDFile = value
	}
}

func toOptions(fc flatConfig) (config.Options, error) {
	var o config.Options
	o.Prefetch = fc.Prefetch
	o.Window = fc.Window
	o.Reliable = fc.Reliable
	o.Count = fc.Count
	o.Duration = time.Duration(fc.Duration) * time.Second
	o.TimeoutInactivity = time.Duration(fc.TimeoutInactivity) * time.Second
	o.TimeoutConnect = time.Duration(fc.TimeoutConnect) * time.Second
	o.TimeoutLinger = time.Duration(fc.TimeoutLinger) * time.Second
	o.Lazy = fc.Lazy
	o.Loop = fc.Loop
	o.Remove = fc.Remove
	o.Statistics = fc.Statistics
	o.PIDFile = fc.PIDFile
	o.Callback = config.Callback{Code: fc.CallbackCode}

	if fc.IncomingBrokerURI != "" {
		uri, err := config.ParseURI(fc.IncomingBrokerURI, nil)
		if err != nil {
			return o, err
		}
		be := &config.BrokerEndpoint{URI: uri}
		for _, raw := range fc.Subscribe {
			sub, err := config.ParseSubscription(raw, nil)
			if err != nil {
				return o, err
			}
			be.Subscriptions = append(be.Subscriptions, sub)
		}
		o.IncomingBroker = be
	}
	if fc.IncomingQueue != "" {
		o.IncomingQueue = &config.QueueEndpoint{Path: fc.IncomingQueue}
	}
	if fc.OutgoingBrokerURI != "" {
		uri, err := config.ParseURI(fc.OutgoingBrokerURI, nil)
		if err != nil {
			return o, err
		}
		o.OutgoingBroker = &config.BrokerEndpoint{
			URI:        uri,
			Exchange:   fc.OutgoingExchange,
			RoutingKey: fc.OutgoingRoutingKey,
		}
	}
	if fc.OutgoingQueue != "" {
		o.OutgoingQueue = &config.QueueEndpoint{Path: fc.OutgoingQueue}
	}

	if err := o.Validate(); err != nil {
		return o, err
	}
	return o, nil
}

func runShovel(cmd *cobra.Command, log xlog.Logger) int {
	opts, err := loadConfig(cmd)
	if err != nil {
		log.WithFields(xlog.Fields{"error": err.Error()}).Error("configuration error")
		return exitConfig
	}

	var pf *pidfile.File
	if opts.PIDFile != "" {
		pf, err = pidfile.Create(opts.PIDFile)
		if err != nil {
			log.WithFields(xlog.Fields{"error": err.Error()}).Error("pid file error")
			return exitConfig
		}
		defer func() { _ = pf.Remove() }()
	}

	source, err := buildSource(opts, log)
	if err != nil {
		log.WithFields(xlog.Fields{"error": err.Error()}).Error("invalid source configuration")
		return exitConfig
	}
	sink, err := buildSink(opts, log)
	if err != nil {
		log.WithFields(xlog.Fields{"error": err.Error()}).Error("invalid sink configuration")
		return exitConfig
	}

	var transform engine.Transform
	if opts.Callback.Code != "" {
		transform, err = engine.LookupTransform(opts.Callback.Code)
		if err != nil {
			log.WithFields(xlog.Fields{"error": err.Error()}).Error("invalid transform")
			return exitConfig
		}
	}

	window := engine.NewWindow(opts.Window)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	quit := func() bool {
		if pf != nil && pf.QuitRequested() {
			return true
		}
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}

	ctrl := engine.NewController(source, sink, transform, window, engine.Config{
		Stop: engine.StopConditions{
			Count:             opts.Count,
			Duration:          opts.Duration,
			TimeoutInactivity: opts.TimeoutInactivity,
		},
		TimeoutConnect: opts.TimeoutConnect,
		TimeoutLinger:  opts.TimeoutLinger,
		Lazy:           opts.Lazy,
		Statistics:     opts.Statistics,
		Quit:           quit,
		TransformData:  opts.Callback.Data,
		Logger:         log,
	})

	_, runErr := ctrl.Run(ctx)
	if runErr != nil {
		log.WithFields(xlog.Fields{"error": runErr.Error()}).Error("fatal runtime error")
		return exitFatal
	}
	return exitOK
}

func buildSource(opts config.Options, log xlog.Logger) (engine.Source, error) {
	switch {
	case opts.IncomingBroker != nil:
		b := opts.IncomingBroker
		return engine.NewBrokerSource(engine.BrokerSourceConfig{
			URI:      b.URI.String(),
			Queues:   subscriptionQueueNames(b),
			Reliable: opts.Reliable,
			Prefetch: effectivePrefetch(opts),
			Logger:   log,
		}), nil
	case opts.IncomingQueue != nil:
		return engine.NewQueueSource(engine.QueueSourceConfig{
			Path:   opts.IncomingQueue.Path,
			Remove: opts.Remove,
			Loop:   opts.Loop,
		}), nil
	default:
		return nil, fmt.Errorf("no incoming endpoint configured")
	}
}

func buildSink(opts config.Options, log xlog.Logger) (engine.Sink, error) {
	switch {
	case opts.OutgoingBroker != nil:
		b := opts.OutgoingBroker
		return engine.NewBrokerSink(engine.BrokerSinkConfig{
			URI:        b.URI.String(),
			Exchange:   b.Exchange,
			RoutingKey: b.RoutingKey,
			Reliable:   opts.Reliable,
			Logger:     log,
		}), nil
	case opts.OutgoingQueue != nil:
		return engine.NewQueueSink(engine.QueueSinkConfig{Path: opts.OutgoingQueue.Path}), nil
	default:
		return nil, fmt.Errorf("no outgoing endpoint configured")
	}
}

// subscriptionQueueNames returns the queue name for every configured
// subscription. The broker source opens one consumer subscription per
// entry, per §4.1 ("subscribes to every configured Subscription").
func subscriptionQueueNames(b *config.BrokerEndpoint) []string {
	names := make([]string, 0, len(b.Subscriptions))
	for _, sub := range b.Subscriptions {
		names = append(names, sub.Destination.Name)
	}
	return names
}

// effectivePrefetch applies the §4.1 rule: prefetch equals the configured
// value, or min(count, 100) when reliable mode and a count limit are both
// set and no explicit prefetch was given.
func effectivePrefetch(opts config.Options) int {
	if opts.Prefetch > 0 {
		return opts.Prefetch
	}
	if opts.Reliable && opts.Count > 0 {
		if opts.Count < 100 {
			return int(opts.Count)
		}
		return 100
	}
	return 0
}
