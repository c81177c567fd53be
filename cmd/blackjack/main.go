package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/blackjack-test/blackjack/internal/clusterclient"
	"github.com/blackjack-test/blackjack/internal/errs"
	"github.com/blackjack-test/blackjack/internal/scheduler"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "blackjack <test_dir>",
	Short: "Run declarative end-to-end tests against a Kubernetes cluster",
	Long: `blackjack walks a directory of test.yaml files, applies manifests and
scripts against a live cluster, and asserts on what the cluster reports
back through watched resources.`,
	Args: cobra.ExactArgs(1),
	RunE: run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().Int("parallel", 4, "Maximum number of concurrently running User-class tests")
	rootCmd.PersistentFlags().Float64("timeout-scaling", 1.0, "Scale factor (>= 1) applied to sleeps and wait budgets")
	rootCmd.PersistentFlags().String("config", "", "Path to an optional YAML config file")
	rootCmd.PersistentFlags().Int("attempts", 1, "Default number of attempts for a test before it is reported as failed")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("kubeconfig", "", "Path to kubeconfig file (optional)")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		logrus.WithError(err).Fatal("failed to bind flags")
	}
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			logrus.WithError(err).Fatal("failed to read config file")
		}
	}

	viper.SetEnvPrefix("BLACKJACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		logrus.Warnf("invalid log level %s, using info", viper.GetString("log-level"))
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
}

func run(_ *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Warn("received interrupt, abandoning in-flight steps")
		cancel()

		<-sigChan
		logrus.Warn("received second interrupt, abandoning cleanup wait")
	}()

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("starting blackjack")

	restConfig, err := getKubeConfig()
	if err != nil {
		return fmt.Errorf("failed to get kubernetes config: %w", err)
	}

	client, err := clusterclient.New(restConfig)
	if err != nil {
		return fmt.Errorf("failed to create cluster client: %w", err)
	}

	cfg := scheduler.Config{
		TestDir:         args[0],
		Parallel:        viper.GetInt("parallel"),
		TimeoutScaling:  viper.GetFloat64("timeout-scaling"),
		DefaultAttempts: viper.GetInt("attempts"),
		Client:          client,
		Logger:          logrus.NewEntry(logrus.StandardLogger()),
	}

	results, runErr := scheduler.Run(ctx, cfg)
	for _, r := range results {
		if r.Err != nil {
			logrus.WithField("test", r.Name).WithError(r.Err).Error("FAIL")
		} else {
			logrus.WithField("test", r.Name).Info("PASS")
		}
	}

	return runErr
}

func getKubeConfig() (*rest.Config, error) {
	kubeconfig := viper.GetString("kubeconfig")

	config, err := rest.InClusterConfig()
	if err == nil {
		return config, nil
	}

	if kubeconfig == "" {
		kubeconfig = clientcmd.RecommendedHomeFile
	}

	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errs.ErrNoTestsFound) || errors.Is(err, errs.ErrSomeTestsFailed) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}
