package main

import (
	"flag"
	"fmt"
	"os"

	"vpn-session-monitor/internal/app"
	"vpn-session-monitor/internal/config"
)

var (
	// version is meant to be overridden at build time via -ldflags.
	version = "dev"
)

func main() {
	cfg, err := config.ParseFlags()
	if cfg.ShowHelp {
		flag.Usage()
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "vpn-session-monitor:", err)
		os.Exit(2)
	}

	os.Exit(app.Run(cfg, version))
}
