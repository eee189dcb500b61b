// Command keyboxctl manages sealed key containers.
//
// It creates containers from fresh or supplied entropy (or a BIP39 recovery
// phrase), inspects them without decrypting, derives account public keys,
// signs transactions and raw payloads, and verifies witnesses. Key material
// only ever touches disk sealed; every signing operation is one
// decrypt-use-wipe cycle.
//
// Usage:
//
//	keyboxctl [options] <command> [command flags]
//
// Examples:
//
//	# Create a new HD container, printing the recovery phrase once
//	keyboxctl init -show-mnemonic
//
//	# Show the container header without decrypting
//	keyboxctl inspect
//
//	# Account public key for m/1852'/1815'/0'
//	keyboxctl pubkey -account 0
//
//	# Sign a transaction with payment and stake keys
//	keyboxctl sign -path "m/1852'/1815'/0'/0/0" -path "m/1852'/1815'/0'/2/0" tx.cbor
//
//	# Verify the witnesses it produced
//	keyboxctl verify -witness tx.witness.json tx.cbor
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"keybox/internal/config"
	"keybox/internal/logging"
	"keybox/internal/passphrase"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

var (
	configPath  = flag.String("config", "", "path to config file")
	versionFlag = flag.Bool("version", false, "print version and exit")
)

// audit is the CLI's audit trail; nil when disabled by configuration.
var audit *logging.AuditLogger

func main() {
	flag.Usage = usage
	flag.Parse()

	if *versionFlag {
		fmt.Printf("keyboxctl %s (commit: %s, built: %s)\n", version, commit, buildTime)
		return
	}

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	if cmd == "help" {
		usage()
		return
	}

	cfg := loadConfig()
	logger := setupLogging(cfg)
	defer logger.Close()
	if audit != nil {
		defer audit.Close()
	}

	ctx := logging.ContextWithOperationID(context.Background(), logger.NewOperationID())

	var err error
	switch cmd {
	case "init":
		err = cmdInit(ctx, cfg, args)
	case "inspect":
		err = cmdInspect(ctx, cfg, args)
	case "pubkey":
		err = cmdPubkey(ctx, cfg, args)
	case "sign":
		err = cmdSign(ctx, cfg, args)
	case "sign-data":
		err = cmdSignData(ctx, cfg, args)
	case "verify":
		err = cmdVerify(ctx, cfg, args)
	case "mnemonic":
		err = cmdMnemonic(ctx, cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		logging.ErrorContext(ctx, "command failed", "command", cmd, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `keyboxctl - Sealed key container utility

Usage: keyboxctl [options] <command> [command flags]

Commands:
  init       Create a sealed key container
  inspect    Show container header and fingerprint (no decrypt)
  pubkey     Print an account public key
  sign       Sign a transaction file, emitting witnesses
  sign-data  Sign an arbitrary payload file
  verify     Verify witnesses against a transaction or payload
  mnemonic   Generate a fresh BIP39 recovery phrase
  help       Show this help message

Options:
  -config <path>  Path to config file (default: platform config dir)
  -version        Print version and exit

Run 'keyboxctl <command> -h' for command flags.`)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error in config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// setupLogging builds the logger and audit trail from the configuration and
// installs them as the package defaults.
func setupLogging(cfg *config.Config) *logging.Logger {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}

	format := logging.FormatText
	if cfg.Logging.Format == "json" {
		format = logging.FormatJSON
	}

	logger, err := logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    int64(cfg.Logging.MaxSizeMB),
		MaxAge:     cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
		Component:  "keyboxctl",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)

	if cfg.Audit.Enabled {
		auditLogger, err := logging.NewAuditLogger(&logging.AuditLoggerConfig{
			FilePath:   cfg.Audit.FilePath,
			MaxSize:    cfg.Audit.MaxSizeMB,
			MaxAge:     cfg.Audit.MaxAgeDays,
			MaxBackups: cfg.Audit.MaxBackups,
			Compress:   cfg.Audit.Compress,
			Component:  "keyboxctl",
		})
		if err != nil {
			logger.Warn("audit trail unavailable", "error", err, "path", cfg.Audit.FilePath)
		} else {
			logging.SetDefaultAuditLogger(auditLogger)
			audit = auditLogger
		}
	}

	return logger
}

// passphraseSource builds the passphrase source the configuration selects.
// confirm requests double entry; it only applies to interactive sources and
// only when the configuration asks for confirmation.
func passphraseSource(cfg *config.Config, confirm bool) (passphrase.Source, error) {
	switch cfg.Passphrase.Source {
	case "terminal":
		src := passphrase.Terminal("Passphrase")
		if confirm && cfg.Passphrase.Confirm {
			src = passphrase.Confirmed(src)
		}
		return src, nil
	case "env":
		val := os.Getenv(cfg.Passphrase.EnvVar)
		if val == "" {
			return nil, fmt.Errorf("passphrase variable %s is not set", cfg.Passphrase.EnvVar)
		}
		return passphrase.Static([]byte(val))
	case "secret-service":
		return passphrase.SecretService(cfg.Passphrase.ServiceAttributes), nil
	default:
		return nil, fmt.Errorf("unknown passphrase source: %s", cfg.Passphrase.Source)
	}
}
