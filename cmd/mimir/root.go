package mimir

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/edgeflare/mimir/pkg/config"
	"github.com/edgeflare/mimir/pkg/logging"
	"github.com/edgeflare/mimir/pkg/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	logger   = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "mimir",
	Short: "Mimir is a retrieval-augmented generation stack",
	Long:  `mimir serves embeddings, ingests documents into a vector store and answers questions with a language model`,
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Println(cfg.ProjectVersion())
			return
		}
		_ = cmd.Help()
	},
	SilenceUsage: true,
}

// Main runs the CLI and exits non-zero on error.
func Main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is a .env found in the working directory or its parents)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "", "log level, overrides LOG_LEVEL (debug, info, warn, error, none)")
	rootCmd.Flags().BoolP("version", "v", false, "Print the version number")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	if strings.EqualFold(logLevel, "none") {
		logger = zap.NewNop()
		return
	}
	if logLevel != "" {
		cfg.LoggingConfig.Level = logLevel
	}
	if logger, err = logging.New(cfg.LoggingConfig); err != nil {
		fmt.Fprintln(os.Stderr, "Error building logger:", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// startMetrics serves /metrics on METRICS_ADDR when it is set. Wait on wg after ctx is done.
func startMetrics(ctx context.Context, wg *sync.WaitGroup) {
	if cfg.MetricsAddr == "" {
		return
	}
	metrics.StartPrometheusServer(ctx, wg, &metrics.PromServerOpts{Addr: cfg.MetricsAddr, Logger: logger})
}

// printOutput writes v as indented JSON or as YAML.
func printOutput(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// bindFlags binds every flag in fs to the viper key prefix.<flag name>.
func bindFlags(fs *pflag.FlagSet, prefix string) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(prefix+"."+f.Name, f)
	})
}
