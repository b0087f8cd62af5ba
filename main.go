package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

var (
	version    = flag.Bool("version", false, "Print version info")
	help       = flag.Bool("help", false, "Print help")
	configPath = flag.String("config", "", "YAML configuration file")
)

const (
	ProjectName    = "motor-server"
	ProjectVersion = "1.0.0"
)

func printVersion() {
	fmt.Printf("%s v%s\n", ProjectName, ProjectVersion)
}

func printHelp() {
	printVersion()
	flag.PrintDefaults()
}

func main() {
	defineFlags(flag.CommandLine)
	flag.Parse()

	if *version {
		printVersion()
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.ApplyFlags(flag.CommandLine)

	opts, err := cfg.Options()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	log.Printf("Selected backend: %v", opts.Backend)

	app, err := NewServerApp(opts)
	if err != nil {
		log.Fatalf("failed to create motor server: %v", err)
	}
	defer app.Destroy()

	// Handle SIGINT and SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Run until signal received
	<-sigChan
}
