// Package app provides the entry point for the mesh gateway CLI.
package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vmcpmesh/gateway/internal/bridge"
	"github.com/vmcpmesh/gateway/internal/clientpool"
	"github.com/vmcpmesh/gateway/internal/meshauth"
	"github.com/vmcpmesh/gateway/internal/monitoring"
	"github.com/vmcpmesh/gateway/internal/sandbox"
	"github.com/vmcpmesh/gateway/internal/strategy"
	"github.com/vmcpmesh/gateway/pkg/logger"
	"github.com/vmcpmesh/gateway/pkg/mesh"
	"github.com/vmcpmesh/gateway/pkg/meshconfig"
)

var rootCmd = &cobra.Command{
	Use:               "meshgatewayd",
	DisableAutoGenTag: true,
	Short:             "Mesh gateway - aggregate and proxy multiple MCP servers",
	Long: `meshgatewayd resolves a Virtual MCP definition into a single aggregated
MCP endpoint, fanning tool/resource/prompt calls out to the connections it
composes and speaking a chosen tool-selection strategy back to the client.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		level := slog.LevelInfo
		if viper.GetBool("debug") {
			level = slog.LevelDebug
		}
		logger.Initialize(level, true)
	},
}

// NewRootCmd creates the root command for the gateway CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the gateway bootstrap configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newValidateCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("meshgatewayd version: %s", getVersion())
		},
	}
}

func getVersion() string {
	return "dev"
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the bootstrap configuration file",
		RunE: func(_ *cobra.Command, _ []string) error {
			configPath := viper.GetString("config")
			if configPath == "" {
				return fmt.Errorf("no configuration file specified, use --config")
			}
			cfg, err := loadAndValidateConfig(configPath)
			if err != nil {
				return err
			}
			logger.Infof("configuration is valid: %d connections, %d virtual mcps",
				len(cfg.Connections), len(cfg.VirtualMCPs))
			return nil
		},
	}
}

func loadAndValidateConfig(configPath string) (*meshconfig.FileConfig, error) {
	logger.Infof("loading configuration from %s", configPath)
	loader := meshconfig.NewYAMLLoader(configPath, meshconfig.OSReader{})
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := meshconfig.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate configuration: %w", err)
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Dial a Virtual MCP and bridge it to stdio",
		Long: `serve resolves the named Virtual MCP from the bootstrap configuration
file, starts it, and bridges the resulting MCP endpoint over this process's
stdin/stdout as newline-delimited JSON-RPC — the same framing a downstream
STDIO connection speaks.

A Prometheus /metrics endpoint is also served on --metrics-addr for local
scraping; spans are sampled but not exported in this mode.`,
		RunE: runServe,
	}

	cmd.Flags().String("virtual-mcp", "", "Virtual MCP id to dial")
	cmd.Flags().String("organization", "", "Organization id the Virtual MCP belongs to")
	cmd.Flags().String("metrics-addr", "127.0.0.1:9464", "Address the /metrics endpoint listens on")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	configPath := viper.GetString("config")
	if configPath == "" {
		return fmt.Errorf("no configuration file specified, use --config")
	}
	virtualMCPID, _ := cmd.Flags().GetString("virtual-mcp")
	if virtualMCPID == "" {
		return fmt.Errorf("no virtual mcp specified, use --virtual-mcp")
	}
	organizationID, _ := cmd.Flags().GetString("organization")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	fileCfg, err := loadAndValidateConfig(configPath)
	if err != nil {
		return err
	}
	storage := meshconfig.NewStaticStorage(fileCfg)
	cfg := meshconfig.FromEnv()

	issuer, err := meshauth.NewIssuer(cfg.JWTSigningKey, "meshgatewayd", cfg.TokenTTL, cfg.MeshURL)
	if err != nil {
		return fmt.Errorf("create jwt issuer: %w", err)
	}
	tokens := meshauth.NewTokenResolver(storage.DownstreamTokens())
	headerBuilder := meshauth.NewHeaderBuilder(tokens, issuer)

	tel, err := newTelemetry()
	if err != nil {
		return fmt.Errorf("create telemetry providers: %w", err)
	}
	defer tel.shutdown(ctx)

	metricsSrv := &http.Server{Addr: metricsAddr, Handler: tel.metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("metrics server stopped: %v", err)
		}
	}()
	defer func() { _ = metricsSrv.Close() }()

	sink, err := monitoring.NewOTelSink(tel.tracer, tel.meter,
		monitoring.WithStorage(storage.Monitoring()),
		monitoring.WithEnabled(cfg.MonitoringEnabled),
	)
	if err != nil {
		return fmt.Errorf("create monitoring sink: %w", err)
	}

	// stdioPool is a process-wide singleton so a STDIO child survives
	// across every dial it's reused for; perRequestPool is scoped to
	// this one serve invocation (spec §4.C).
	stdioPool := clientpool.New()
	perRequestPool := clientpool.New()
	defer func() { _ = stdioPool.Close() }()
	defer func() { _ = perRequestPool.Close() }()

	b := bridge.New(storage, cfg, headerBuilder, sink, perRequestPool, stdioPool, buildStrategy)

	conn := &mesh.Connection{
		ID:             "cli-dial",
		OrganizationID: organizationID,
		ConnectionType: mesh.ConnectionVirtual,
		ConnectionURL:  virtualMCPID,
		Status:         mesh.StatusActive,
	}
	transportConn, err := b.Dial(ctx, conn)
	if err != nil {
		return fmt.Errorf("dial virtual mcp %s: %w", virtualMCPID, err)
	}
	defer func() { _ = transportConn.Close() }()

	logger.Infof("serving virtual mcp %s over stdio (metrics at http://%s/metrics)", virtualMCPID, metricsAddr)
	return pipeStdio(ctx, transportConn)
}

// buildStrategy selects the tool-selection strategy a VirtualMCP runs,
// keyed off the "strategy" metadata field the bootstrap file sets
// (spec §4.G): "code_execution" sandboxes tool calls behind generated
// code, "smart_selection" narrows the exposed tool surface, anything
// else (including unset) passes every child tool straight through.
func buildStrategy(agg strategy.Aggregator, vmcp *mesh.VirtualMCP) strategy.Strategy {
	name, _ := vmcp.Metadata["strategy"].(string)
	switch name {
	case "code_execution":
		return strategy.NewCodeExecution(agg, sandbox.New())
	case "smart_selection":
		return strategy.NewSmartSelection(agg)
	default:
		return strategy.NewPassthrough(agg)
	}
}

// pipeStdio frames os.Stdin as newline-delimited JSON-RPC requests into
// conn and writes whatever conn delivers back as newline-delimited JSON
// on os.Stdout, mirroring internal/transport's STDIO framing convention.
func pipeStdio(ctx context.Context, conn interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, msg json.RawMessage) error
	OnReceive(fn func(json.RawMessage))
	OnClose(fn func(err error))
	Close() error
}) error {
	out := bufio.NewWriter(os.Stdout)
	conn.OnReceive(func(msg json.RawMessage) {
		_, _ = out.Write(msg)
		_, _ = out.WriteString("\n")
		_ = out.Flush()
	})

	closed := make(chan error, 1)
	conn.OnClose(func(err error) { closed <- err })

	if err := conn.Start(ctx); err != nil {
		return fmt.Errorf("start bridged transport: %w", err)
	}

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			msg := make(json.RawMessage, len(line))
			copy(msg, line)
			if err := conn.Send(ctx, msg); err != nil {
				logger.Errorf("send to virtual mcp failed: %v", err)
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-closed:
		return err
	case <-scanDone:
		<-ctx.Done()
		return nil
	}
}
