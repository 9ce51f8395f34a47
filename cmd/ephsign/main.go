package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ephsign/go-backend/internal/bootstrap/signerconfig"
	"ephsign/go-backend/internal/composition/signerservice"
	"ephsign/go-backend/internal/identity"
	"ephsign/go-backend/internal/ledger"
	"ephsign/go-backend/internal/secretstore"
	"ephsign/go-backend/internal/seed"
	"ephsign/go-backend/internal/signer"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/skip2/go-qrcode"
	"golang.org/x/term"
)

const (
	exitOK            = 0
	exitInvalidInput  = 10
	exitBackendFailed = 20
	exitNotFound      = 30
	exitVerifyFailed  = 40
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var code int
	switch os.Args[1] {
	case "version":
		writeStdoutf(exitInvalidInput, "ephsign version=%s commit=%s build_date=%s\n", version, commit, buildDate)
	case "provision":
		code = runProvision(ctx, os.Args[2:])
	case "address":
		code = runAddress(ctx, os.Args[2:])
	case "sign":
		code = runSign(ctx, os.Args[2:])
	case "verify":
		code = runVerify(os.Args[2:])
	case "kms-pubkey":
		code = runKMSPublicKey(ctx, os.Args[2:])
	case "multisig-address":
		code = runMultisig(ctx, os.Args[2:])
	default:
		printUsage()
		code = exitInvalidInput
	}
	stop()
	os.Exit(code)
}

type commonFlags struct {
	configPath *string
	envFile    *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", "", "path to ephsign.yaml (optional)"),
		envFile:    fs.String("env-file", ".env", "dotenv file loaded before EPHSIGN_* overrides"),
	}
}

func (c commonFlags) load() (signerconfig.Config, error) {
	if path := strings.TrimSpace(*c.envFile); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return signerconfig.Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return signerconfig.Load(*c.configPath)
}

func openService(c commonFlags, mutate func(*signerconfig.Config)) (*signerservice.Service, int) {
	cfg, err := c.load()
	if err != nil {
		writeStderrln(err.Error())
		return nil, exitInvalidInput
	}
	if mutate != nil {
		mutate(&cfg)
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		writeStderrln(err.Error())
		return nil, exitInvalidInput
	}
	svc, err := signerservice.Build(cfg, signerservice.Options{
		Logger:     signerservice.NewLogger(os.Stderr, level),
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		writeStderrln(err.Error())
		return nil, exitCodeFor(err)
	}
	return svc, exitOK
}

func runProvision(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("provision", flag.ExitOnError)
	common := addCommonFlags(fs)
	handle := fs.String("handle", "", "secret handle, e.g. mainnet-mnemonic")
	generate := fs.Bool("generate", false, "generate a fresh phrase instead of reading one")
	show := fs.Bool("show", false, "print the generated phrase to the terminal once for backup")
	if err := fs.Parse(args); err != nil {
		return exitInvalidInput
	}
	svc, code := openService(common, nil)
	if svc == nil {
		return code
	}
	defer svc.Close()

	var phrase secretstore.Mnemonic
	if *generate {
		raw, err := seed.Generate(svc.Codec())
		if err != nil {
			writeStderrln(err.Error())
			return exitBackendFailed
		}
		phrase = secretstore.Mnemonic(raw)
		if *show {
			if !term.IsTerminal(int(os.Stderr.Fd())) {
				writeStderrln("refusing to print a phrase to a non-terminal")
				phrase.Wipe()
				return exitInvalidInput
			}
			fmt.Fprintf(os.Stderr, "%s\n", []byte(phrase))
		}
	} else {
		var err error
		phrase, err = readPhrase()
		if err != nil {
			writeStderrln(err.Error())
			return exitInvalidInput
		}
	}
	defer phrase.Wipe()

	pub, err := svc.Provision(ctx, *handle, phrase)
	if err != nil {
		writeStderrln(err.Error())
		return exitCodeFor(err)
	}
	addr, err := svc.Ledger().Address(pub)
	if err != nil {
		writeStderrln(err.Error())
		return exitBackendFailed
	}
	return emit(map[string]any{
		"handle":     *handle,
		"backend":    svc.BackendName(),
		"address":    addr,
		"public_key": base64.StdEncoding.EncodeToString(pub),
	})
}

// readPhrase reads a recovery phrase without echo from a terminal, or one
// line from piped stdin.
func readPhrase() (secretstore.Mnemonic, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "recovery phrase: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, err
		}
		defer clear(raw)
		return secretstore.NewMnemonic(raw), nil
	}
	r := bufio.NewReader(os.Stdin)
	line, err := r.ReadSlice('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("read phrase: %w", err)
	}
	m := secretstore.NewMnemonic(line)
	clear(line)
	return m, nil
}

func runAddress(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	common := addCommonFlags(fs)
	handle := fs.String("handle", "", "secret handle")
	sending := fs.String("sending-address", "", "address this key was rekeyed to authorize")
	qrPath := fs.String("qr", "", "also write the authorizing address as a PNG QR code")
	if err := fs.Parse(args); err != nil {
		return exitInvalidInput
	}
	svc, code := openService(common, nil)
	if svc == nil {
		return code
	}
	defer svc.Close()

	id, err := svc.Identity(ctx, *handle, *sending)
	if err != nil {
		writeStderrln(err.Error())
		return exitCodeFor(err)
	}
	if *qrPath != "" {
		if err := qrcode.WriteFile(id.Authorizes(), qrcode.Medium, 256, *qrPath); err != nil {
			writeStderrln(err.Error())
			return exitBackendFailed
		}
	}
	return emit(identityView(id))
}

func runSign(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	common := addCommonFlags(fs)
	handle := fs.String("handle", "", "secret handle (ignored with the kms backend)")
	sending := fs.String("sending-address", "", "address this key was rekeyed to authorize")
	msgHex := fs.String("msg-hex", "", "message bytes, hex encoded")
	msgText := fs.String("msg", "", "message as text")
	if err := fs.Parse(args); err != nil {
		return exitInvalidInput
	}
	msg, err := messageBytes(*msgHex, *msgText)
	if err != nil {
		writeStderrln(err.Error())
		return exitInvalidInput
	}
	svc, code := openService(common, nil)
	if svc == nil {
		return code
	}
	defer svc.Close()

	id, err := svc.Identity(ctx, *handle, *sending)
	if err != nil {
		writeStderrln(err.Error())
		return exitCodeFor(err)
	}
	sig, err := id.Sign(ctx, msg)
	if err != nil {
		writeStderrln(err.Error())
		return exitCodeFor(err)
	}
	out := identityView(id)
	out["signature"] = base64.StdEncoding.EncodeToString(sig)
	return emit(out)
}

func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	pubB64 := fs.String("pubkey", "", "public key, base64")
	sigB64 := fs.String("sig", "", "signature, base64")
	msgHex := fs.String("msg-hex", "", "message bytes, hex encoded")
	msgText := fs.String("msg", "", "message as text")
	if err := fs.Parse(args); err != nil {
		return exitInvalidInput
	}
	msg, err := messageBytes(*msgHex, *msgText)
	if err != nil {
		writeStderrln(err.Error())
		return exitInvalidInput
	}
	pub, err := base64.StdEncoding.DecodeString(*pubB64)
	if err != nil {
		writeStderrln("pubkey: " + err.Error())
		return exitInvalidInput
	}
	sig, err := base64.StdEncoding.DecodeString(*sigB64)
	if err != nil {
		writeStderrln("sig: " + err.Error())
		return exitInvalidInput
	}
	if err := signer.VerifySignature(pub, msg, sig); err != nil {
		writeStderrln(err.Error())
		return exitVerifyFailed
	}
	return emit(map[string]any{"valid": true})
}

func runKMSPublicKey(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("kms-pubkey", flag.ExitOnError)
	common := addCommonFlags(fs)
	keyID := fs.String("key-id", "", "KMS key id or alias, overrides config")
	region := fs.String("region", "", "AWS region, overrides config")
	if err := fs.Parse(args); err != nil {
		return exitInvalidInput
	}
	svc, code := openService(common, func(cfg *signerconfig.Config) {
		cfg.Backend = signerconfig.BackendKMS
		if *keyID != "" {
			cfg.KMS.KeyID = *keyID
		}
		if *region != "" {
			cfg.KMS.Region = *region
		}
	})
	if svc == nil {
		return code
	}
	defer svc.Close()

	id, err := svc.Identity(ctx, "", "")
	if err != nil {
		writeStderrln(err.Error())
		return exitCodeFor(err)
	}
	return emit(identityView(id))
}

func runMultisig(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("multisig-address", flag.ExitOnError)
	common := addCommonFlags(fs)
	threshold := fs.Uint("threshold", 1, "signatures required")
	msigVersion := fs.Uint("version", 1, "multisig version")
	members := fs.String("members", "", "ordered member addresses, comma separated")
	present := fs.String("sign-with", "", "local handles to sign with, comma separated")
	msgHex := fs.String("msg-hex", "", "message to sign when -sign-with is set, hex encoded")
	msgText := fs.String("msg", "", "message as text")
	if err := fs.Parse(args); err != nil {
		return exitInvalidInput
	}
	if *threshold > 255 || *msigVersion > 255 {
		writeStderrln("threshold and version must fit in a byte")
		return exitInvalidInput
	}
	meta := identity.MultisigMetadata{
		Version:   uint8(*msigVersion),
		Threshold: uint8(*threshold),
		Members:   splitList(*members),
	}

	handles := splitList(*present)
	if len(handles) == 0 {
		cfg, err := common.load()
		if err != nil {
			writeStderrln(err.Error())
			return exitInvalidInput
		}
		codec, err := ledger.ByName(cfg.Ledger)
		if err != nil {
			writeStderrln(err.Error())
			return exitInvalidInput
		}
		c, err := identity.Compose(codec, meta, nil)
		if err != nil {
			writeStderrln(err.Error())
			return exitCodeFor(err)
		}
		return emit(map[string]any{"address": c.Address, "threshold": meta.Threshold, "members": meta.Members})
	}

	msg, err := messageBytes(*msgHex, *msgText)
	if err != nil {
		writeStderrln(err.Error())
		return exitInvalidInput
	}
	svc, code := openService(common, nil)
	if svc == nil {
		return code
	}
	defer svc.Close()
	c, err := svc.Compose(ctx, meta, handles)
	if err != nil {
		writeStderrln(err.Error())
		return exitCodeFor(err)
	}
	packed, err := c.Sign(ctx, msg)
	if err != nil {
		writeStderrln(err.Error())
		return exitCodeFor(err)
	}
	return emit(map[string]any{
		"address":   c.Address,
		"threshold": meta.Threshold,
		"members":   meta.Members,
		"multisig":  base64.StdEncoding.EncodeToString(packed),
	})
}

func identityView(id *identity.Identity) map[string]any {
	out := map[string]any{
		"address":    id.Address,
		"authorizes": id.Authorizes(),
		"rekeyed":    id.Rekeyed(),
	}
	if len(id.PublicKey) > 0 {
		out["public_key"] = base64.StdEncoding.EncodeToString(id.PublicKey)
	}
	return out
}

func messageBytes(msgHex, msgText string) ([]byte, error) {
	switch {
	case msgHex != "" && msgText != "":
		return nil, errors.New("use one of -msg-hex and -msg")
	case msgHex != "":
		return hex.DecodeString(strings.TrimPrefix(msgHex, "0x"))
	case msgText != "":
		return []byte(msgText), nil
	}
	return nil, errors.New("message is required")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, secretstore.ErrSecretNotFound):
		return exitNotFound
	case errors.Is(err, signerconfig.ErrInvalidConfig),
		errors.Is(err, secretstore.ErrInvalidHandle),
		errors.Is(err, secretstore.ErrUnsupportedPlatform),
		errors.Is(err, seed.ErrInvalidMnemonic),
		errors.Is(err, ledger.ErrInvalidAddress),
		errors.Is(err, ledger.ErrInvalidMultisig),
		errors.Is(err, identity.ErrInvalidThreshold),
		errors.Is(err, identity.ErrInvalidSendingAddress),
		errors.Is(err, identity.ErrUnknownMember),
		errors.Is(err, identity.ErrInsufficientSignatures):
		return exitInvalidInput
	}
	return exitBackendFailed
}

func emit(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		writeStderrln(err.Error())
		return exitBackendFailed
	}
	return exitOK
}

func printUsage() {
	writeStdoutln(exitInvalidInput, "ephsign <command> [flags]")
	writeStdoutln(exitInvalidInput, "commands:")
	writeStdoutln(exitInvalidInput, "  provision         -handle h [-generate [-show]]")
	writeStdoutln(exitInvalidInput, "  address           -handle h [-sending-address a] [-qr out.png]")
	writeStdoutln(exitInvalidInput, "  sign              -handle h (-msg-hex hex | -msg text) [-sending-address a]")
	writeStdoutln(exitInvalidInput, "  verify            -pubkey b64 -sig b64 (-msg-hex hex | -msg text)")
	writeStdoutln(exitInvalidInput, "  kms-pubkey        [-key-id id] [-region r]")
	writeStdoutln(exitInvalidInput, "  multisig-address  -threshold t -members a,b,c [-sign-with h1,h2 (-msg-hex hex | -msg text)]")
	writeStdoutln(exitInvalidInput, "  version")
	writeStdoutln(exitInvalidInput, "all but verify and version accept -config path and -env-file path")
}

func writeStdoutln(exitCode int, line string) {
	if _, err := fmt.Fprintln(os.Stdout, line); err != nil {
		os.Exit(exitCode)
	}
}

func writeStdoutf(exitCode int, format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stdout, format, args...); err != nil {
		os.Exit(exitCode)
	}
}

func writeStderrln(line string) {
	_, _ = fmt.Fprintln(os.Stderr, line)
}
