// Package main provides the entry point for the overlayctl tool,
// which inspects and manages a lower/upper overlay pair from outside
// a shimmed process.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/liboverlay/liboverlay/internal/config"
	"github.com/liboverlay/liboverlay/internal/logging"
	"github.com/liboverlay/liboverlay/internal/overlay"
)

const usage = `usage: overlayctl [flags] <command> [args]

commands:
  ls [rel]        print the merged listing of a directory (default: root)
  resolve <rel>   print which layer answers a path
  changes         list upper's divergences from lower (M: modified, D: deleted)
  export <dest>   flatten the merged view into a destination directory
  clear           remove all upper content, returning the view to pristine lower

The lower and upper roots come from -lower/-upper, or from the
LIBOVERLAY_LOWER_DIR and LIBOVERLAY_UPPER_DIR environment variables.
`

func main() {
	lowerDir := flag.String("lower", "", "read-only base tree (overrides environment)")
	upperDir := flag.String("upper", "", "writable overlay tree (overrides environment)")
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, err := loadConfig(*configPath, *lowerDir, *upperDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "overlayctl: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if *verbose {
		level = "debug"
	}
	logging.Init(&logging.Config{Level: level, Format: cfg.Logging.Format})
	defer logging.Sync()

	ov, err := overlay.New(cfg.LowerDir, cfg.UpperDir, nil)
	if err != nil {
		logging.Fatalf("invalid overlay pair: %v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(ov, args[0], args[1:]); err != nil {
		logging.Fatalf("%s: %v", args[0], err)
	}
}

// loadConfig builds the configuration from the optional YAML file and
// the environment, with flags taking precedence.
func loadConfig(path, lower, upper string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if v := os.Getenv(config.EnvLowerDir); v != "" && cfg.LowerDir == "" {
		cfg.LowerDir = v
	}
	if v := os.Getenv(config.EnvUpperDir); v != "" && cfg.UpperDir == "" {
		cfg.UpperDir = v
	}
	if lower != "" {
		cfg.LowerDir = lower
	}
	if upper != "" {
		cfg.UpperDir = upper
	}
	return cfg, cfg.Validate()
}

func run(ov *overlay.Overlay, command string, args []string) error {
	switch command {
	case "ls":
		rel := "."
		if len(args) > 0 {
			rel = args[0]
		}
		return runLs(ov, rel)
	case "resolve":
		if len(args) != 1 {
			return fmt.Errorf("expects exactly one path")
		}
		res := ov.ResolveRead(args[0])
		fmt.Printf("%s\t%s\n", res.Loc, res.Path)
		return nil
	case "changes":
		return runChanges(ov)
	case "export":
		if len(args) != 1 {
			return fmt.Errorf("expects a destination directory")
		}
		return ov.Export(args[0])
	case "clear":
		return ov.Clear()
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runLs(ov *overlay.Overlay, rel string) error {
	entries, err := ov.ReadDirMerged(rel)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	for _, e := range entries {
		fmt.Printf("%-10s %s\n", e.Kind, e.Name)
	}
	return nil
}

func runChanges(ov *overlay.Overlay) error {
	changes, err := ov.Changes()
	if err != nil {
		return err
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	for _, c := range changes {
		marker := "M"
		if c.Deleted {
			marker = "D"
		}
		fmt.Printf("%s:%s\n", marker, c.Path)
	}
	return nil
}
