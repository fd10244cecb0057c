package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"kmsend/internal/config"
)

func cmdConfig(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: kmsend config <init|show|validate|path> [-config path]")
		os.Exit(1)
	}
	action := args[0]

	fs := flag.NewFlagSet("config "+action, flag.ExitOnError)
	configPath := configFlag(fs)
	force := fs.Bool("force", false, "overwrite an existing file (init)")
	asJSON := fs.Bool("json", false, "print JSON instead of TOML (show)")
	fs.Parse(args[1:])

	path := *configPath
	if path == "" {
		if path = config.FindConfigFile(); path == "" {
			path = config.ConfigPath()
		}
	}

	switch action {
	case "init":
		cfg, created, err := initConfig(path, *force)
		if err != nil {
			fatalf("%s: %v", path, err)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			fatalf("Error: %v", err)
		}
		if created {
			fmt.Printf("Wrote default configuration to %s\n", path)
		} else {
			fmt.Printf("%s already exists and is valid (use -force to overwrite)\n", path)
		}
		fmt.Printf("Data directory: %s\n", cfg.App.DataDir)

	case "show":
		cfg, err := config.NewLoader(path, nil).Load()
		if err != nil {
			fatalf("Error: %v", err)
		}
		if cfg.Progress.Redis.Password != "" {
			cfg.Progress.Redis.Password = "********"
		}
		if *asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(cfg)
			return
		}
		if err := toml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
			fatalf("Error: %v", err)
		}

	case "validate":
		cfg, err := config.NewLoader(path, nil).Load()
		if err != nil {
			fatalf("%s: %v", path, err)
		}
		warnings := config.ValidateAll(cfg).Warnings()
		for _, w := range warnings {
			fmt.Printf("warning: %s: %s\n", w.Field, w.Message)
		}
		fmt.Printf("%s: ok (%d warnings)\n", path, len(warnings))

	case "path":
		fmt.Println(path)

	default:
		fatalf("Unknown config action: %s", action)
	}
}

// initConfig writes the defaults to path unless a file is already there, in
// which case that file is loaded and validated instead. force always writes.
func initConfig(path string, force bool) (*config.Config, bool, error) {
	if !force {
		return config.LoadOrCreate(path)
	}
	cfg := config.DefaultConfig()
	if err := config.SaveConfig(cfg, path); err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}
