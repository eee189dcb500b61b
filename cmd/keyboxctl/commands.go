package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"keybox/internal/config"
	"keybox/internal/derivation"
	"keybox/internal/keybox"
	"keybox/internal/keyhandler"
	"keybox/internal/logging"
	"keybox/internal/mnemonic"
	"keybox/internal/security"
	"keybox/internal/txid"
)

// maxContainerSize bounds container reads. Containers are under a hundred
// bytes; anything near this limit is not one.
const maxContainerSize int64 = 1 << 20

// witnessEntry is the JSON form of a single witness.
type witnessEntry struct {
	VerificationKey string `json:"verification_key"`
	Signature       string `json:"signature"`
	Path            string `json:"path,omitempty"`
}

// witnessOutput is the JSON document sign emits and verify consumes.
type witnessOutput struct {
	TxID      string         `json:"tx_id,omitempty"`
	Witnesses []witnessEntry `json:"witnesses"`
}

// dataSignatureOutput is the JSON document sign-data emits.
type dataSignatureOutput struct {
	Key       string `json:"key"`
	Signature string `json:"signature"`
	Path      string `json:"path,omitempty"`
}

func cmdInit(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("keyboxctl init", flag.ExitOnError)
	keyType := fs.String("type", "hd", "key type: hd or ed25519")
	entropyHex := fs.String("entropy", "", "hex entropy for an HD key (16-32 bytes)")
	fromMnemonic := fs.Bool("mnemonic", false, "read a BIP39 recovery phrase from stdin (hd only)")
	keyHex := fs.String("key", "", "hex Ed25519 seed or private key (32 or 64 bytes)")
	out := fs.String("out", "", "container output path (default: configured keystore)")
	showMnemonic := fs.Bool("show-mnemonic", false, "print the recovery phrase for freshly generated entropy")
	force := fs.Bool("force", false, "overwrite an existing container")
	fs.Parse(args)
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	outPath := *out
	if outPath == "" {
		outPath = cfg.ContainerPath()
	}

	// Refuse to clobber before prompting for anything.
	_, statErr := os.Stat(outPath)
	exists := statErr == nil
	if exists && !*force {
		return fmt.Errorf("container already exists: %s (use -force to replace it)", outPath)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	src, err := passphraseSource(cfg, false)
	if err != nil {
		return err
	}
	sealSrc, err := passphraseSource(cfg, true)
	if err != nil {
		return err
	}

	var (
		handler  keyhandler.Handler
		phrase   string
		imported bool
	)

	switch *keyType {
	case "hd":
		if *keyHex != "" {
			return fmt.Errorf("-key is for ed25519 containers; use -entropy or -mnemonic for hd")
		}
		switch {
		case *fromMnemonic:
			if *entropyHex != "" {
				return fmt.Errorf("-mnemonic and -entropy are mutually exclusive")
			}
			phraseIn, err := readLine("Recovery phrase: ")
			if err != nil {
				return fmt.Errorf("read recovery phrase: %w", err)
			}
			pass, err := sealSrc(ctx)
			if err != nil {
				return fmt.Errorf("read passphrase: %w", err)
			}
			handler, err = keyhandler.NewHDFromMnemonic(phraseIn, pass, src)
			if err != nil {
				return err
			}
			imported = true
		case *entropyHex != "":
			entropy, err := decodeHex(*entropyHex)
			if err != nil {
				return fmt.Errorf("decode entropy: %w", err)
			}
			if n := len(entropy); n < 16 || n > 32 || n%4 != 0 {
				return fmt.Errorf("entropy must be 16, 20, 24, 28, or 32 bytes, got %d", n)
			}
			pass, err := sealSrc(ctx)
			if err != nil {
				return fmt.Errorf("read passphrase: %w", err)
			}
			handler, err = keyhandler.NewHD(entropy, pass, src)
			if err != nil {
				return err
			}
			imported = true
		default:
			entropy, err := security.GenerateRandom(32)
			if err != nil {
				return fmt.Errorf("generate entropy: %w", err)
			}
			if *showMnemonic {
				// Sealing wipes the entropy, so encode the phrase first.
				phrase, err = mnemonic.FromEntropy(entropy)
				if err != nil {
					return err
				}
			}
			pass, err := sealSrc(ctx)
			if err != nil {
				return fmt.Errorf("read passphrase: %w", err)
			}
			handler, err = keyhandler.NewHD(entropy, pass, src)
			if err != nil {
				return err
			}
		}

	case "ed25519":
		if *entropyHex != "" || *fromMnemonic || *showMnemonic {
			return fmt.Errorf("ed25519 containers have no entropy or recovery phrase")
		}
		var priv []byte
		if *keyHex != "" {
			priv, err = decodeHex(*keyHex)
			if err != nil {
				return fmt.Errorf("decode key: %w", err)
			}
			imported = true
		} else {
			priv, err = security.GenerateRandom(32)
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
		}
		pass, err := sealSrc(ctx)
		if err != nil {
			return fmt.Errorf("read passphrase: %w", err)
		}
		handler, err = keyhandler.NewSingleKey(priv, pass, src)
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown key type: %s (want hd or ed25519)", *keyType)
	}

	wire := handler.Serialize()
	info, err := keybox.Inspect(wire)
	if err != nil {
		return fmt.Errorf("inspect new container: %w", err)
	}

	if exists && cfg.Keystore.BackupOnUpdate {
		backup := outPath + ".bak"
		if err := os.Rename(outPath, backup); err != nil {
			return fmt.Errorf("back up existing container: %w", err)
		}
		fmt.Printf("Existing container moved to %s\n", backup)
	}

	if err := security.WriteSecretFile(outPath, wire); err != nil {
		return fmt.Errorf("write container: %w", err)
	}

	if audit != nil {
		if imported {
			audit.LogKeyImported(ctx, info.KeyType.String(), info.Fingerprint)
		} else {
			audit.LogKeyGenerated(ctx, info.KeyType.String(), info.Fingerprint)
		}
	}
	logging.InfoContext(ctx, "container created",
		"path", outPath, "key_type", info.KeyType.String(), "fingerprint", info.Fingerprint)

	if phrase != "" {
		fmt.Println("Recovery phrase (shown once, store it offline):")
		fmt.Println()
		fmt.Printf("  %s\n", phrase)
		fmt.Println()
	}
	fmt.Println("=== Container Created ===")
	fmt.Printf("Path:        %s\n", outPath)
	fmt.Printf("Type:        %s\n", info.KeyType)
	fmt.Printf("Fingerprint: %s\n", info.Fingerprint)
	return nil
}

func cmdInspect(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("keyboxctl inspect", flag.ExitOnError)
	fs.Parse(args)

	path := fs.Arg(0)
	if path == "" {
		path = cfg.ContainerPath()
	}

	data, err := readContainer(path)
	if err != nil {
		return err
	}
	info, err := keybox.Inspect(data)
	if err != nil {
		return err
	}

	fmt.Println("=== Container ===")
	fmt.Printf("Path:        %s\n", path)
	fmt.Printf("Version:     %d\n", info.Version)
	fmt.Printf("Key type:    %s\n", info.KeyType)
	fmt.Printf("Payload:     %d bytes (encrypted)\n", info.PayloadSize)
	fmt.Printf("Fingerprint: %s\n", info.Fingerprint)
	return nil
}

func cmdPubkey(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("keyboxctl pubkey", flag.ExitOnError)
	container := fs.String("container", "", "container path (default: configured keystore)")
	accountStr := fs.String("account", "", "account index (default: configured account)")
	fs.Parse(args)

	data, err := readContainer(containerPath(cfg, *container))
	if err != nil {
		return err
	}
	info, err := keybox.Inspect(data)
	if err != nil {
		return err
	}
	src, err := passphraseSource(cfg, false)
	if err != nil {
		return err
	}

	var pub []byte
	switch info.KeyType {
	case keybox.KeyTypeHD:
		accountIndex := cfg.Derivation.Account
		if *accountStr != "" {
			n, err := strconv.ParseUint(*accountStr, 10, 32)
			if err != nil {
				return fmt.Errorf("parse account: %w", err)
			}
			accountIndex = uint32(n)
		}
		account, err := derivation.CIP1852Account(accountIndex)
		if err != nil {
			return err
		}
		h, err := keyhandler.DeserializeHD(data, src)
		if err != nil {
			return err
		}
		pub, err = h.AccountPublicKey(ctx, account)
		if audit != nil {
			audit.LogKeyAccess(ctx, info.Fingerprint, "pubkey", err == nil)
		}
		if err != nil {
			return err
		}

	case keybox.KeyTypeEd25519:
		if *accountStr != "" {
			return fmt.Errorf("single-key containers have no accounts")
		}
		h, err := keyhandler.DeserializeSingleKey(data, src)
		if err != nil {
			return err
		}
		pub, err = h.PublicKey(ctx)
		if audit != nil {
			audit.LogKeyAccess(ctx, info.Fingerprint, "pubkey", err == nil)
		}
		if err != nil {
			return err
		}
	}

	fmt.Println(hex.EncodeToString(pub))
	return nil
}

func cmdSign(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("keyboxctl sign", flag.ExitOnError)
	container := fs.String("container", "", "container path (default: configured keystore)")
	out := fs.String("out", "", "write witnesses to file instead of stdout")
	var paths pathList
	fs.Var(&paths, "path", "derivation path, repeatable (default: configured path)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one transaction file, got %d", fs.NArg())
	}

	txBytes, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read transaction: %w", err)
	}

	data, err := readContainer(containerPath(cfg, *container))
	if err != nil {
		return err
	}
	info, err := keybox.Inspect(data)
	if err != nil {
		return err
	}
	if info.KeyType == keybox.KeyTypeHD && len(paths) == 0 {
		p, err := defaultPath(cfg)
		if err != nil {
			return err
		}
		paths = pathList{p}
	}

	src, err := passphraseSource(cfg, false)
	if err != nil {
		return err
	}
	handler, err := keyhandler.Deserialize(data, src)
	if err != nil {
		return err
	}

	id := txid.Hash(txBytes)
	witnesses, err := handler.SignTransaction(ctx, txBytes, paths...)
	if audit != nil {
		audit.LogSign(ctx, info.Fingerprint, id.String(), len(witnesses), err == nil)
	}
	if err != nil {
		return err
	}

	doc := witnessOutput{TxID: id.String()}
	for i, w := range witnesses {
		entry := witnessEntry{
			VerificationKey: hex.EncodeToString(w.VerificationKey),
			Signature:       hex.EncodeToString(w.Signature),
		}
		// One witness per path in input order for HD containers.
		if i < len(paths) {
			entry.Path = paths[i].String()
		}
		doc.Witnesses = append(doc.Witnesses, entry)
	}

	return writeJSON(doc, *out, fmt.Sprintf("Wrote %d witness(es) for %s", len(witnesses), id))
}

func cmdSignData(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("keyboxctl sign-data", flag.ExitOnError)
	container := fs.String("container", "", "container path (default: configured keystore)")
	pathStr := fs.String("path", "", "derivation path (default: configured path, hd only)")
	out := fs.String("out", "", "write signature to file instead of stdout")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one payload file, got %d", fs.NArg())
	}

	payload, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	data, err := readContainer(containerPath(cfg, *container))
	if err != nil {
		return err
	}
	info, err := keybox.Inspect(data)
	if err != nil {
		return err
	}
	src, err := passphraseSource(cfg, false)
	if err != nil {
		return err
	}

	var (
		sig     *keyhandler.DataSignature
		sigPath string
	)
	switch info.KeyType {
	case keybox.KeyTypeHD:
		var p derivation.Path
		if *pathStr != "" {
			p, err = derivation.ParsePath(*pathStr)
		} else {
			p, err = defaultPath(cfg)
		}
		if err != nil {
			return err
		}
		h, err := keyhandler.DeserializeHD(data, src)
		if err != nil {
			return err
		}
		sig, err = h.SignData(ctx, payload, p)
		if audit != nil {
			audit.LogKeyAccess(ctx, info.Fingerprint, "sign_data", err == nil)
		}
		if err != nil {
			return err
		}
		sigPath = p.String()

	case keybox.KeyTypeEd25519:
		if *pathStr != "" {
			return fmt.Errorf("single-key containers take no derivation path")
		}
		h, err := keyhandler.DeserializeSingleKey(data, src)
		if err != nil {
			return err
		}
		sig, err = h.SignData(ctx, payload)
		if audit != nil {
			audit.LogKeyAccess(ctx, info.Fingerprint, "sign_data", err == nil)
		}
		if err != nil {
			return err
		}
	}

	doc := dataSignatureOutput{
		Key:       hex.EncodeToString(sig.Key),
		Signature: hex.EncodeToString(sig.Signature),
		Path:      sigPath,
	}
	return writeJSON(doc, *out, "Wrote signature")
}

func cmdVerify(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("keyboxctl verify", flag.ExitOnError)
	witnessPath := fs.String("witness", "", "witness JSON file produced by sign (required)")
	rawData := fs.Bool("data", false, "verify over the raw payload instead of the transaction id")
	fs.Parse(args)
	if *witnessPath == "" {
		return fmt.Errorf("-witness is required")
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one payload file, got %d", fs.NArg())
	}

	payload, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	witnessData, err := os.ReadFile(*witnessPath)
	if err != nil {
		return fmt.Errorf("read witnesses: %w", err)
	}

	var doc witnessOutput
	if err := json.Unmarshal(witnessData, &doc); err != nil {
		return fmt.Errorf("parse witnesses: %w", err)
	}
	if len(doc.Witnesses) == 0 {
		return fmt.Errorf("no witnesses in %s", *witnessPath)
	}

	message := payload
	if !*rawData {
		id := txid.Hash(payload)
		message = id.Bytes()
		if doc.TxID != "" && doc.TxID != id.String() {
			fmt.Printf("Transaction id mismatch:\n  witnesses: %s\n  payload:   %s\n", doc.TxID, id)
			fmt.Println("✗ Verification FAILED")
			os.Exit(1)
		}
	}

	allOK := true
	for i, entry := range doc.Witnesses {
		w, err := entry.decode()
		if err != nil {
			return fmt.Errorf("witness %d: %w", i+1, err)
		}
		ok := w.Verify(message)
		label := entry.Path
		if label == "" {
			label = "single key"
		}
		status := "OK"
		if !ok {
			status = "BAD SIGNATURE"
			allOK = false
		}
		fmt.Printf("Witness %d (%s): %s\n", i+1, label, status)
	}

	if audit != nil {
		audit.LogVerification(ctx, *witnessPath, allOK, map[string]any{
			"witnesses": len(doc.Witnesses),
			"payload":   fs.Arg(0),
		})
	}

	if !allOK {
		fmt.Println("✗ Verification FAILED")
		os.Exit(1)
	}
	fmt.Println("✓ Verification PASSED")
	return nil
}

func cmdMnemonic(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("keyboxctl mnemonic", flag.ExitOnError)
	words := fs.Int("words", 24, "phrase length: 12, 15, 18, 21, or 24 words")
	fs.Parse(args)

	switch *words {
	case 12, 15, 18, 21, 24:
	default:
		return fmt.Errorf("phrase length must be 12, 15, 18, 21, or 24 words, got %d", *words)
	}

	phrase, err := mnemonic.Generate(*words / 3 * 32)
	if err != nil {
		return err
	}
	fmt.Println(phrase)
	return nil
}

// decode converts the hex fields of a witness entry back to a Witness.
func (e witnessEntry) decode() (keyhandler.Witness, error) {
	key, err := hex.DecodeString(e.VerificationKey)
	if err != nil {
		return keyhandler.Witness{}, fmt.Errorf("decode verification key: %w", err)
	}
	sig, err := hex.DecodeString(e.Signature)
	if err != nil {
		return keyhandler.Witness{}, fmt.Errorf("decode signature: %w", err)
	}
	return keyhandler.Witness{VerificationKey: key, Signature: sig}, nil
}

// pathList collects repeated -path flags.
type pathList []derivation.Path

func (p *pathList) String() string {
	parts := make([]string, len(*p))
	for i, path := range *p {
		parts[i] = path.String()
	}
	return strings.Join(parts, ",")
}

func (p *pathList) Set(s string) error {
	path, err := derivation.ParsePath(s)
	if err != nil {
		return err
	}
	*p = append(*p, path)
	return nil
}

// defaultPath builds the derivation path the configuration selects.
func defaultPath(cfg *config.Config) (derivation.Path, error) {
	account, err := derivation.CIP1852Account(cfg.Derivation.Account)
	if err != nil {
		return derivation.Path{}, err
	}
	role := derivation.External
	if cfg.Derivation.Role != "" {
		role, err = derivation.ParseRole(cfg.Derivation.Role)
		if err != nil {
			return derivation.Path{}, err
		}
	}
	return derivation.Path{Account: account, Role: role, Index: cfg.Derivation.Index}, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimSpace(s))
}

func containerPath(cfg *config.Config, override string) string {
	if override != "" {
		return override
	}
	return cfg.ContainerPath()
}

func readContainer(path string) ([]byte, error) {
	data, err := security.ReadSecretFile(path, maxContainerSize)
	if err != nil {
		return nil, fmt.Errorf("read container: %w", err)
	}
	return data, nil
}

// writeJSON marshals doc to the given path, or to stdout when path is empty.
// Witnesses and signatures are public material, so plain file modes apply.
func writeJSON(doc any, path, note string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := security.WriteSecureFile(path, data, security.PermPublicFile); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Printf("%s to %s\n", note, path)
	return nil
}

// readLine prompts on stderr and reads one line from stdin.
func readLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("unexpected end of input")
	}
	return strings.TrimSpace(scanner.Text()), nil
}
