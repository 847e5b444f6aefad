package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"xenvfs/internal/archive"
	"xenvfs/internal/backend"
	"xenvfs/internal/config"
	"xenvfs/internal/fusefs"
	"xenvfs/internal/logging"
	"xenvfs/internal/vfs"
)

var (
	logger = logging.GetLogger()
)

const usage = `usage: xenvfs [flags] <command> [args]

commands:
  serve                  mount the namespace over FUSE until interrupted
  ls [-r] <path>         list a directory
  cat <path>             print a file
  put <path> [file]      store a file (stdin when file is omitted)
  mkdir <path>           create a directory and its parents
  rm <path>              remove a file or directory
  cp <src> <dest>        copy, across mounts if needed
  mv <src> <dest>        move, across mounts if needed
  stat <path>            print metadata as JSON
  mounts                 list the mount table
  export [file]          write the namespace as a zip archive (stdout by default)
  import <file>          replace the namespace with a zip archive

flags:
`

func main() {
	configPath := flag.StringP("config", "c", "", "Configuration file (.yaml, .yml or .json)")
	mountPoint := flag.StringP("mount", "m", "", "Host mount point for serve (overrides fuse.mountpoint)")
	recursive := flag.BoolP("recursive", "r", false, "Recursive listing for ls")
	verbose := flag.BoolP("verbose", "v", false, "Enable verbose logging")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	if level, ok := logging.ParseLevel(cfg.Log.Level); ok {
		logger.SetLevel(level)
	}
	if *verbose {
		logger.SetLevel(logging.LevelDebug)
	}
	if *mountPoint != "" {
		cfg.Fuse.MountPoint = filepath.Clean(*mountPoint)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m, err := config.Build(ctx, cfg, vfs.WithMetrics(reg))
	if err != nil {
		logger.Error("Failed to create virtual filesystem: %v", err)
		os.Exit(1)
	}

	err = run(ctx, m, cfg, reg, args, *recursive)
	if cerr := m.Close(context.Background()); cerr != nil {
		logger.Error("Failed to release backends: %v", cerr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "xenvfs: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, m *vfs.Manager, cfg config.Config, reg *prometheus.Registry, args []string, recursive bool) error {
	cmd, args := args[0], args[1:]
	out := os.Stdout

	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: expected %d argument(s), got %d", cmd, n, len(args))
		}
		return nil
	}

	switch cmd {
	case "serve":
		return serve(ctx, m, cfg, reg)

	case "ls":
		p := "/"
		if len(args) > 0 {
			p = args[0]
		}
		entries, err := m.List(ctx, p, recursive)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDirectory {
				fmt.Fprintf(out, "%s/\n", e.Name)
			} else {
				fmt.Fprintln(out, e.Name)
			}
		}
		return nil

	case "cat":
		if err := need(1); err != nil {
			return err
		}
		data, err := m.Read(ctx, args[0])
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err

	case "put":
		if err := need(1); err != nil {
			return err
		}
		var r io.Reader = os.Stdin
		if len(args) > 1 {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		c, err := vfs.FromReader(r)
		if err != nil {
			return err
		}
		return m.Write(ctx, args[0], c)

	case "mkdir":
		if err := need(1); err != nil {
			return err
		}
		return m.Mkdir(ctx, args[0])

	case "rm":
		if err := need(1); err != nil {
			return err
		}
		return m.Rm(ctx, args[0])

	case "cp", "mv":
		if err := need(2); err != nil {
			return err
		}
		if cmd == "cp" {
			return m.Copy(ctx, args[0], args[1])
		}
		return m.Move(ctx, args[0], args[1])

	case "stat":
		if err := need(1); err != nil {
			return err
		}
		st, err := m.Stat(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)

	case "mounts":
		for _, e := range m.Mounts() {
			fmt.Fprintf(out, "%-24s %s\n", e.Path, backend.KindOf(e.Backend))
		}
		return nil

	case "export":
		var w io.Writer = out
		if len(args) > 0 {
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return archive.Export(ctx, m, w)

	case "import":
		if err := need(1); err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		return archive.Import(ctx, m, f, info.Size())

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// serve mounts the namespace on the host and blocks until a signal arrives.
func serve(ctx context.Context, m *vfs.Manager, cfg config.Config, reg *prometheus.Registry) error {
	if cfg.Fuse.MountPoint == "" {
		return errors.New("serve: a mount point is required (--mount or fuse.mountpoint)")
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("Serving metrics on %s", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("Starting xenvfs on %s...", cfg.Fuse.MountPoint)
	if err := fusefs.New(m).Serve(ctx, cfg.Fuse.MountPoint); err != nil {
		return err
	}
	logger.Info("Clean shutdown complete")
	return nil
}
