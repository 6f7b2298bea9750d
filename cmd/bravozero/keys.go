package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bravozero/bravozero-go/pkg/config"
	"github.com/bravozero/bravozero-go/pkg/persona"
)

// keygen writes a new PKCS#8 private key and prints the matching public key.
func (a *app) keygen(args []string) error {
	fs := a.newFlagSet("keygen", "keygen [-out path] [-force]")
	out := fs.String("out", "", "Write the private key PEM here instead of stdout")
	force := fs.Bool("force", false, "Overwrite an existing key file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 0, 0); err != nil {
		return err
	}

	key, err := persona.GenerateKey(nil)
	if err != nil {
		return err
	}
	pemBytes, err := persona.MarshalPrivateKeyPEM(key)
	if err != nil {
		return err
	}

	auth, err := persona.NewAuthenticatorFromKey("keygen", key)
	if err != nil {
		return err
	}

	if *out == "" {
		_, err := a.stdout.Write(pemBytes)
		return err
	}

	path, err := config.ExpandHome(*out)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, pemBytes, 0600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}

	fmt.Fprintf(a.stderr, "Private key written to %s\n", path)
	fmt.Fprintln(a.stdout, auth.PublicKeyBase64())
	return nil
}

// pubkey prints the public key of the configured private key.
func (a *app) pubkey(args []string) error {
	fs := a.newFlagSet("pubkey", "pubkey [-format base64|pem]")
	format := fs.String("format", "base64", "Output format: base64 (raw 32 bytes) or pem (SPKI)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 0, 0); err != nil {
		return err
	}

	cfg, err := a.resolve()
	if err != nil {
		return err
	}
	if cfg.PrivateKeyPath == "" {
		return errors.New("no private key configured: pass -key or set BRAVOZERO_PRIVATE_KEY_PATH")
	}
	key, err := persona.LoadPrivateKeyFile(cfg.PrivateKeyPath)
	if err != nil {
		return err
	}
	auth, err := persona.NewAuthenticatorFromKey("pubkey", key)
	if err != nil {
		return err
	}

	switch *format {
	case "base64":
		fmt.Fprintln(a.stdout, auth.PublicKeyBase64())
	case "pem":
		pemBytes, err := auth.PublicKeyPEM()
		if err != nil {
			return err
		}
		_, err = a.stdout.Write(pemBytes)
		return err
	default:
		return fmt.Errorf("invalid format: %s (must be 'base64' or 'pem')", *format)
	}
	return nil
}

// attest prints a fresh attestation token for the configured agent.
func (a *app) attest(args []string) error {
	fs := a.newFlagSet("attest", "attest [-action name] [-decode]")
	action := fs.String("action", "", "Action to bind into the payload")
	decode := fs.Bool("decode", false, "Also print the decoded payload to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 0, 0); err != nil {
		return err
	}

	cfg, err := a.resolve()
	if err != nil {
		return err
	}
	auth, err := persona.NewAuthenticator(cfg.AgentID, persona.KeySource{Path: cfg.PrivateKeyPath})
	if err != nil {
		return err
	}

	var opts []persona.AttestOption
	if *action != "" {
		opts = append(opts, persona.WithAction(*action))
	}
	token, err := auth.CreateAttestation(opts...)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, token)

	if *decode {
		payload, err := persona.VerifyToken(auth.PublicKey(), token)
		if err != nil {
			return err
		}
		canonical, err := payload.Canonical()
		if err != nil {
			return err
		}
		fmt.Fprintln(a.stderr, string(canonical))
	}
	return nil
}

// verify checks a token against a public key given as base64 or a PEM file.
func (a *app) verify(args []string) error {
	fs := a.newFlagSet("verify", "verify -public-key <base64|file.pem> [-max-age d] <token>")
	pubArg := fs.String("public-key", "", "Raw base64 public key, or path to a PEM public key")
	maxAge := fs.Duration("max-age", 0, "Reject tokens older than this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, 1); err != nil {
		return err
	}
	if *pubArg == "" {
		fs.Usage()
		return errUsage
	}

	pub, err := persona.ParsePublicKeyBase64(*pubArg)
	if err != nil {
		data, readErr := os.ReadFile(*pubArg)
		if readErr != nil {
			return fmt.Errorf("public key is neither base64 nor a readable file: %w", err)
		}
		if pub, err = persona.ParsePublicKeyPEM(data); err != nil {
			return err
		}
	}

	payload, err := persona.VerifyToken(pub, strings.TrimSpace(fs.Arg(0)))
	if err != nil {
		return err
	}
	if *maxAge > 0 {
		age := time.Since(time.Unix(payload.Timestamp, 0))
		if age > *maxAge {
			return fmt.Errorf("token is %s old, limit %s", age.Round(time.Second), *maxAge)
		}
	}

	canonical, err := payload.Canonical()
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, string(canonical))
	return nil
}

// configCmd shows the resolved configuration or saves the given flags to the
// config file.
func (a *app) configCmd(args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(a.stderr, "Usage: bravozero config show|init|path")
		return errUsage
	}

	switch args[0] {
	case "show":
		cfg, err := a.resolve()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return err
		}
		_, err = a.stdout.Write(out)
		return err

	case "init":
		store, err := config.NewFileStore(a.source.File)
		if err != nil {
			return err
		}
		existing, err := store.Load()
		if err != nil {
			return err
		}
		cfg := a.explicit()
		if cfg.PrivateKeyPath != "" {
			if cfg.PrivateKeyPath, err = config.ExpandHome(cfg.PrivateKeyPath); err != nil {
				return err
			}
		}
		merged := mergeInto(cfg, existing)
		if err := store.Save(merged); err != nil {
			return err
		}
		fmt.Fprintf(a.stderr, "Configuration saved to %s\n", store.Path())
		return nil

	case "path":
		store, err := config.NewFileStore(a.source.File)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, store.Path())
		return nil

	default:
		return fmt.Errorf("unknown config command %q", args[0])
	}
}

// mergeInto keeps the non-empty fields of flags over existing.
func mergeInto(flags, existing config.Config) config.Config {
	out := existing
	if flags.APIKey != "" {
		out.APIKey = flags.APIKey
	}
	if flags.AgentID != "" {
		out.AgentID = flags.AgentID
	}
	if flags.PrivateKeyPath != "" {
		out.PrivateKeyPath = flags.PrivateKeyPath
	}
	if flags.BaseURL != "" {
		out.BaseURL = flags.BaseURL
	}
	if flags.Environment != "" {
		out.Environment = flags.Environment
	}
	if flags.Timeout != 0 {
		out.Timeout = flags.Timeout
	}
	if flags.LogLevel != "" {
		out.LogLevel = flags.LogLevel
	}
	return out
}
