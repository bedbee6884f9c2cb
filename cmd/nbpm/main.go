package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/frederic-klein/nbpm/internal/app"
	"github.com/frederic-klein/nbpm/internal/config"
	"github.com/frederic-klein/nbpm/internal/downloader"
	"github.com/frederic-klein/nbpm/internal/extractor"
	"github.com/frederic-klein/nbpm/internal/logger"
	"github.com/frederic-klein/nbpm/internal/prompt"
)

var (
	configPath string
	verbose    bool
	assumeYes  bool
	recursive  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "nbpm",
		Short:         "Nebula package manager",
		Long:          "nbpm installs, updates and removes binary packages from the Nebula repository.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Answer yes to every confirmation")

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Download the latest repository index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return a.Update(cmd.Context())
		},
	}

	searchCmd := &cobra.Command{
		Use:   "search TERM",
		Short: "Search the repository index",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return a.Search(args[0])
		},
	}

	installCmd := &cobra.Command{
		Use:     "install PACKAGE...",
		Short:   "Install packages and their dependencies",
		Example: "  nbpm install bash 'readline>=8.0.0'",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return a.Install(cmd.Context(), args)
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove PACKAGE...",
		Short: "Remove installed packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return a.Remove(args, recursive)
		},
	}
	removeCmd.Flags().BoolVarP(&recursive, "recursive", "R", false, "Also remove installed dependencies")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return a.List()
		},
	}

	rootCmd.AddCommand(updateCmd, searchCmd, installCmd, removeCmd, listCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
		os.Exit(1)
	}
}

func newApp() (*app.App, error) {
	log := logger.New(os.Stderr, verbose)

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg, err = config.LoadDefault()
		if err != nil {
			log.Warn("using default configuration", "error", err)
		}
	}
	log.Debug("configuration", "home", cfg.Home, "root", cfg.Root, "repo", cfg.RepoURL)

	ext, err := extractor.New(cfg.Extractor)
	if err != nil {
		return nil, err
	}

	dlOpts := []downloader.Option{downloader.WithTimeout(time.Duration(cfg.FetchTimeout))}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		dlOpts = append(dlOpts, downloader.WithProgress(os.Stderr))
	}

	var confirm prompt.Confirmer = prompt.NewTerminal(os.Stdin, os.Stdout)
	if assumeYes {
		confirm = prompt.Always(true)
	}

	return app.New(cfg, app.Deps{
		Fetcher:   downloader.NewDownloader(dlOpts...),
		Extractor: ext,
		Confirmer: confirm,
		Out:       os.Stdout,
		Logger:    log,
	}), nil
}
