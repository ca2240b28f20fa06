package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bastiangx/titleserve/internal/cli"
	"github.com/bastiangx/titleserve/internal/logger"
	"github.com/bastiangx/titleserve/internal/store"
	"github.com/bastiangx/titleserve/internal/utils"
	"github.com/bastiangx/titleserve/pkg/config"
	"github.com/bastiangx/titleserve/pkg/engine"
	"github.com/bastiangx/titleserve/pkg/feed"
	"github.com/bastiangx/titleserve/pkg/server"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// flags shared by every command.
type flags struct {
	configPath string
	dbPath     string
	namespaces []string
	debug      bool
	chunk      int
}

// app is what the server and CLI commands work with.
type app struct {
	cfg        *config.Config
	configPath string
	store      *store.Store
	engine     *engine.Engine
}

func (a *app) Close() {
	a.engine.Close()
	if err := a.store.Close(); err != nil {
		log.Warnf("Closing database: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           AppName,
		Short:         "titleserve - fuzzy page title search over namespaced links",
		Long:          "Serves progressive, typo tolerant title searches over MessagePack IPC on stdin/stdout.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Setup(f.debug)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, f)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "Path to the config file")
	pf.StringVar(&f.dbPath, "db", "", "Path to the title database (overrides index.db_path)")
	pf.StringSliceVar(&f.namespaces, "ns", nil, "Namespace to load, repeatable (overrides index.namespaces)")
	pf.BoolVarP(&f.debug, "debug", "d", false, "Toggle debug mode")
	pf.IntVar(&f.chunk, "chunk", 0, "Candidates per search chunk (overrides search.chunk_size)")

	root.AddCommand(newCliCmd(f), newImportCmd(f), newConfigCmd(f), newDBCmd(f), newVersionCmd())
	return root
}

func newCliCmd(f *flags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "cli",
		Short: "Try searches interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigHandler()
			ctx := cmd.Context()

			rt, err := openApp(ctx, cmd, f)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !cmd.Flags().Changed("limit") {
				limit = rt.cfg.CLI.DefaultLimit
			}
			log.SetReportTimestamp(false)
			log.Debug("Input info:", "limit", limit, "namespaces", rt.engine.Namespaces())

			return cli.NewInputHandler(rt.engine, limit, os.Stdout).Start(ctx, os.Stdin)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", config.DefaultConfig().CLI.DefaultLimit, "Number of results to print")
	return cmd
}

func newImportCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <links.json>",
		Short: "Import a JSON dump of links into the title database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var links []feed.Link
			if err := json.Unmarshal(data, &links); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			defaultNS := ""
			if len(f.namespaces) > 0 {
				defaultNS = f.namespaces[0]
			}
			for i := range links {
				if links[i].Namespace == "" {
					links[i].Namespace = defaultNS
				}
			}

			cfg, _ := loadConfig(cmd, f)
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.Import(cmd.Context(), links)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d links into %s\n", n, len(links), st.Path())
			return nil
		},
	}
}

func newConfigCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or reset the config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file in use",
		Run: func(cmd *cobra.Command, args []string) {
			_, path := config.LoadConfigWithPriority(f.configPath)
			fmt.Fprintln(cmd.OutOrStdout(), config.GetActiveConfigPath(path))
			fmt.Fprintf(cmd.OutOrStdout(), "config dir: %s\n", config.GetConfigDir())
		},
	}, &cobra.Command{
		Use:   "reset",
		Short: "Overwrite the config file with the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := f.configPath
			if path == "" {
				path = config.GetDefaultConfigPath()
			}
			if err := config.RebuildConfigFile(path); err != nil {
				return fmt.Errorf("reset config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote defaults to %s\n", path)
			return nil
		},
	})
	return cmd
}

func newDBCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the title database",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List namespaces and their page counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadConfig(cmd, f)
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			names, err := st.Namespaces()
			if err != nil {
				return err
			}
			for _, ns := range names {
				n, err := st.Count(ns)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %d\n", ns, n)
			}
			return nil
		},
	}, &cobra.Command{
		Use:   "drop <namespace>",
		Short: "Delete a namespace with all its pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadConfig(cmd, f)
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DropNamespace(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current version",
		Run: func(cmd *cobra.Command, args []string) {
			showVersion()
		},
	}
}

func runServer(cmd *cobra.Command, f *flags) error {
	sigHandler()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := openApp(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer rt.Close()

	log.Debug("spawning IPC")
	srv := server.NewServer(rt.engine, os.Stdin, os.Stdout)
	srv.SetMaxQueryLen(rt.cfg.Server.MaxQueryLen)

	if rt.configPath != "" {
		err := config.Watch(ctx, rt.configPath, config.DefaultDebounce, func(cfg *config.Config) {
			applyOverrides(cmd, f, cfg)
			rt.engine.SetOptions(cfg.EngineOptions())
			srv.SetMaxQueryLen(cfg.Server.MaxQueryLen)
		})
		if err != nil {
			log.Warnf("Config changes will not be picked up: %v", err)
		}
	}

	showStartupInfo(rt)
	return srv.Start(ctx)
}

// loadConfig reads the config and applies the command line overrides.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, string) {
	cfg, path := config.LoadConfigWithPriority(f.configPath)
	applyOverrides(cmd, f, cfg)
	log.Debugf("Using config: %s", config.GetActiveConfigPath(path))
	return cfg, path
}

func applyOverrides(cmd *cobra.Command, f *flags, cfg *config.Config) {
	if f.dbPath != "" {
		cfg.Index.DBPath = f.dbPath
	}
	if len(f.namespaces) > 0 {
		cfg.Index.Namespaces = f.namespaces
	}
	if cmd.Flags().Changed("chunk") {
		cfg.Search.ChunkSize = f.chunk
	}
	cfg.Normalize()
}

func openStore(cfg *config.Config) (*store.Store, error) {
	dbPath, err := utils.NewPathResolver().ResolveDataPath(cfg.Index.DBPath)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	log.Debugf("Using database at: %s", dbPath)
	return store.Open(dbPath)
}

func openApp(ctx context.Context, cmd *cobra.Command, f *flags) (*app, error) {
	cfg, path := loadConfig(cmd, f)
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	rt := &app{
		cfg:        cfg,
		configPath: path,
		store:      st,
		engine:     engine.New(st, cfg.EngineOptions()),
	}

	if len(cfg.Index.Namespaces) == 0 {
		log.Warn("No namespaces configured, the index stays empty until a load request")
		return rt, nil
	}
	if _, err := rt.engine.LoadIndex(ctx, cfg.Index.Namespaces); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// sigHandler is a simple handler for OS signals to exit normally.
func sigHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		fmt.Fprintf(os.Stderr, "\nExiting...\n")
		os.Exit(0)
	}()
}

func showVersion() {
	vlog := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    false,
		ReportTimestamp: false,
		Prefix:          "",
	})

	styles := log.DefaultStyles()
	styles.Values["version"] = lipgloss.NewStyle().Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"}).
		Background(lipgloss.AdaptiveColor{Light: "#f2e9e1", Dark: "#26233a"})
	styles.Values["gh"] = lipgloss.NewStyle().Italic(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
	vlog.SetStyles(styles)

	vlog.Print("")
	vlog.Print("[ titleserve ] Finds page titles, typos included")
	vlog.Print("", "version", Version)
	vlog.Print("")
	vlog.Print("use -h or --help to see available options")
	vlog.Print("Github Repo", "gh", gh)
}

// showStartupInfo displays some basic info about the init process.
func showStartupInfo(rt *app) {
	currentLevel := log.GetLevel()
	log.SetLevel(log.InfoLevel)
	defer log.SetLevel(currentLevel)

	println("============")
	println(" titleserve ")
	println("============")
	log.Infof("Version: %s", Version)
	log.Infof("Process ID: [ %d ]", os.Getpid())
	log.Infof("database: ( %s )", rt.store.Path())
	log.Infof("config: ( %s )", config.GetActiveConfigPath(rt.configPath))
	log.Infof("index: %d titles from %v", rt.engine.Len(), rt.engine.Namespaces())
	log.Info("status: ready")
	println("============")
}
