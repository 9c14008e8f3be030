package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/CZERTAINLY/Crawler/internal/log"
	"github.com/CZERTAINLY/Crawler/internal/model"
	"github.com/CZERTAINLY/Crawler/internal/rest"
	"github.com/CZERTAINLY/Crawler/internal/session"

	"github.com/spf13/cobra"
)

const (
	envConfigDir    = "CRAWLER_CONFIG_DIR"
	shutdownTimeout = 10 * time.Second
)

var (
	userConfigDir string // ~/.crawler
	configDir     string // actual config root

	flagConfigDir string // value of --config-dir flag
	flagVerbose   bool   // value of --verbose flag
	flagLoop      int    // value of --loop flag
	flagRest      bool   // value of --rest flag
)

func init() {
	d, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	userConfigDir = filepath.Join(d, ".crawler")
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "Directory of job settings - default is "+userConfigDir)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	runCmd.Flags().IntVar(&flagLoop, "loop", model.LoopInfinite, "number of crawl passes, 0 crawls nothing, -1 crawls until stopped")
	runCmd.Flags().BoolVar(&flagRest, "rest", false, "serve the REST interface on rest.url")

	// never print messages
	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initCrawler

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("crawler failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "crawler",
	Short:        "Crawls file systems and indexes documents into Elasticsearch",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "run crawls the job described by <config-dir>/<job>/_settings.yaml",
	Args:  cobra.ExactArgs(1),
	RunE:  doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a crawler",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("crawler: version info not available")
			return
		}

		fmt.Printf("config: %s\n", configDir)
		fmt.Printf("crawler: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doRun(cmd *cobra.Command, args []string) error {
	job := args[0]
	attrs := slog.Group("crawler",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx := log.ContextAttrs(cmd.Context(), attrs)

	settings, created, err := loadSettings(ctx, configDir, job)
	if err != nil {
		return err
	}
	if created {
		slog.InfoContext(ctx, "default settings created: edit them and run again",
			"path", settingsPath(configDir, job))
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := session.New(ctx, configDir, settings, flagLoop, flagRest)
	if err != nil {
		return err
	}
	if err := sess.Start(ctx); err != nil {
		return errors.Join(err, sess.Close())
	}

	var srv *rest.Server
	if flagRest {
		srv = rest.New(settings, sess.ManagementService(), sess.DocumentService())
		if err := srv.Start(ctx); err != nil {
			return errors.Join(err, sess.Close())
		}
		// the REST interface outlives the crawl
		<-ctx.Done()
	} else {
		select {
		case <-ctx.Done():
		case <-sess.Done():
		}
	}
	slog.InfoContext(ctx, "stopping", "job", job)

	var errs []error
	if srv != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		errs = append(errs, srv.Shutdown(sctx))
		cancel()
	}
	errs = append(errs, sess.Close(), sess.Err())
	return errors.Join(errs...)
}

func initCrawler(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv(envConfigDir); ok {
		configDir = envConfig
	} else if flagConfigDir != "" {
		configDir = flagConfigDir
	} else {
		configDir = userConfigDir
	}

	slog.SetDefault(log.New(os.Stderr, flagVerbose))
	slog.Debug("crawler run", "configDir", configDir)
	return nil
}
