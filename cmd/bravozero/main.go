// Package main provides the bravozero command-line tool: PERSONA key
// management and one-shot calls to the Constitution, Memory and Bridge
// services, mainly for scripting and debugging agents.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bravozero/bravozero-go/pkg/client"
	"github.com/bravozero/bravozero-go/pkg/config"
	"github.com/bravozero/bravozero-go/pkg/constitution"
	"github.com/bravozero/bravozero-go/pkg/transport"
)

const version = transport.Version

// Exit codes.
const (
	exitOK     = 0
	exitError  = 1
	exitDenied = 2
	exitUsage  = 64
)

var errUsage = errors.New("usage")

// globalFlags are accepted before the subcommand.
type globalFlags struct {
	APIKey      string
	AgentID     string
	KeyPath     string
	BaseURL     string
	Environment string
	ConfigFile  string
	LogLevel    string
	Timeout     time.Duration
	ShowVersion bool
}

// app carries the I/O and config sources, so tests can run commands without
// touching the real environment.
type app struct {
	stdout io.Writer
	stderr io.Writer
	source config.Source
	global globalFlags
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, cancelling...")
		cancel()
	}()

	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	err := a.run(ctx, os.Args[1:])
	cancel()

	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return exitUsage
	case errors.Is(err, constitution.ErrDenied):
		log.Printf("%v", err)
		return exitDenied
	default:
		log.Printf("Error: %v", err)
		return exitError
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bravozero", flag.ContinueOnError)
	fs.SetOutput(a.stderr)

	g := &a.global
	fs.StringVar(&g.APIKey, "api-key", "", "API key (default $BRAVOZERO_API_KEY)")
	fs.StringVar(&g.AgentID, "agent-id", "", "Agent ID (default $BRAVOZERO_AGENT_ID)")
	fs.StringVar(&g.KeyPath, "key", "", "Path to the Ed25519 private key PEM (default $BRAVOZERO_PRIVATE_KEY_PATH)")
	fs.StringVar(&g.BaseURL, "base-url", "", "API base URL, overrides -env")
	fs.StringVar(&g.Environment, "env", "", "Deployment: production, staging or development")
	fs.StringVar(&g.ConfigFile, "config", "", "Config file (default ~/.bravozero/config.yaml)")
	fs.StringVar(&g.LogLevel, "log-level", "", "Log level: debug, info, warn, error or off")
	fs.DurationVar(&g.Timeout, "timeout", 0, "Per-request timeout")
	fs.BoolVar(&g.ShowVersion, "version", false, "Show version and exit")
	fs.Usage = func() { a.usage(fs) }

	if err := fs.Parse(args); err != nil {
		return err
	}

	if g.ShowVersion {
		fmt.Fprintf(a.stdout, "bravozero v%s\n", version)
		return nil
	}
	if g.ConfigFile != "" {
		a.source.File = g.ConfigFile
	}

	rest := fs.Args()
	if len(rest) == 0 {
		a.usage(fs)
		return errUsage
	}

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "keygen":
		return a.keygen(cmdArgs)
	case "pubkey":
		return a.pubkey(cmdArgs)
	case "attest":
		return a.attest(cmdArgs)
	case "verify":
		return a.verify(cmdArgs)
	case "config":
		return a.configCmd(cmdArgs)
	case "evaluate":
		return a.evaluate(ctx, cmdArgs)
	case "omega":
		return a.omega(ctx, cmdArgs)
	case "rules":
		return a.rules(ctx, cmdArgs)
	case "values":
		return a.values(ctx, cmdArgs)
	case "memory":
		return a.memory(ctx, cmdArgs)
	case "files":
		return a.files(ctx, cmdArgs)
	case "help":
		a.usage(fs)
		return nil
	default:
		fmt.Fprintf(a.stderr, "unknown command %q\n\n", cmd)
		a.usage(fs)
		return errUsage
	}
}

func (a *app) usage(fs *flag.FlagSet) {
	w := a.stderr
	fmt.Fprintf(w, "bravozero - Bravo Zero SDK command-line tool\n\n")
	fmt.Fprintf(w, "Usage: bravozero [global options] <command> [command options]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  keygen      Generate an Ed25519 PERSONA key pair\n")
	fmt.Fprintf(w, "  pubkey      Print the public key of the configured private key\n")
	fmt.Fprintf(w, "  attest      Create an attestation token\n")
	fmt.Fprintf(w, "  verify      Verify an attestation token against a public key\n")
	fmt.Fprintf(w, "  config      Show or save configuration (show, init)\n")
	fmt.Fprintf(w, "  evaluate    Ask the Constitution Agent to evaluate an action\n")
	fmt.Fprintf(w, "  omega       Show the global alignment score\n")
	fmt.Fprintf(w, "  rules       List rules, or show one rule by id\n")
	fmt.Fprintf(w, "  values      Show the constitutional values\n")
	fmt.Fprintf(w, "  memory      Trace Manifold operations (record, query, get, update, delete, link, related, export, snapshots)\n")
	fmt.Fprintf(w, "  files       Forge Bridge operations (ls, cat, put, rm, info, sync, status)\n\n")
	fmt.Fprintf(w, "Global options:\n")
	fs.PrintDefaults()
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  bravozero keygen -out ~/.bravozero/agent.pem\n")
	fmt.Fprintf(w, "  bravozero -key ~/.bravozero/agent.pem evaluate -priority high send_email\n")
	fmt.Fprintf(w, "  bravozero memory query -limit 5 \"deployment checklist\"\n")
}

// explicit returns the settings given as global flags.
func (a *app) explicit() config.Config {
	g := a.global
	return config.Config{
		APIKey:         g.APIKey,
		AgentID:        g.AgentID,
		PrivateKeyPath: g.KeyPath,
		BaseURL:        g.BaseURL,
		Environment:    config.Environment(g.Environment),
		Timeout:        g.Timeout,
		LogLevel:       g.LogLevel,
	}
}

// resolve merges flags, environment and config file without requiring
// credentials, for commands that only need the key.
func (a *app) resolve() (config.Config, error) {
	return config.Resolve(a.explicit(), a.source)
}

func (a *app) newClient() (*client.Client, error) {
	return client.New(
		client.WithConfig(a.explicit()),
		client.WithConfigSource(a.source),
	)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// newFlagSet returns a subcommand flag set writing errors to stderr.
func (a *app) newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage: bravozero %s\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

// requireArgs checks the positional argument count of a subcommand.
func requireArgs(fs *flag.FlagSet, minArgs, maxArgs int) error {
	n := fs.NArg()
	if n < minArgs || (maxArgs >= 0 && n > maxArgs) {
		fs.Usage()
		return errUsage
	}
	return nil
}
