package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"dbrewind/internal/archive"
)

var promptPassphrase bool

// defaultPassphraseEnv is consulted when the config names no variable.
const defaultPassphraseEnv = "DBREWIND_PASSPHRASE"

// buildCodec assembles the archive codec from configuration. Encryption is
// enabled whenever a passphrase is available; without one, encrypted
// archives can still be listed but not decoded.
func buildCodec() (*archive.Codec, error) {
	algorithm := archive.Compression(viper.GetString("backup.compression"))
	if algorithm == "" {
		algorithm = archive.CompressionZstd
	}
	if !algorithm.IsValid() {
		return nil, fmt.Errorf("unsupported compression %q (valid: none, gzip, lz4, zstd)", algorithm)
	}

	passphrase, err := resolvePassphrase()
	if err != nil {
		return nil, err
	}

	return &archive.Codec{
		Compression: algorithm,
		Level:       viper.GetInt("backup.level"),
		Passphrase:  passphrase,
	}, nil
}

// resolvePassphrase reads the archive passphrase from the terminal when
// --prompt-passphrase is set, otherwise from the configured environment
// variable. An empty result disables encryption.
func resolvePassphrase() (string, error) {
	if promptPassphrase {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("--prompt-passphrase requires an interactive terminal")
		}
		fmt.Fprint(os.Stderr, "Archive passphrase: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		passphrase := strings.TrimSpace(string(raw))
		if passphrase == "" {
			return "", fmt.Errorf("empty passphrase")
		}
		return passphrase, nil
	}

	envVar := viper.GetString("backup.passphrase_env")
	if envVar == "" {
		envVar = defaultPassphraseEnv
	}
	return os.Getenv(envVar), nil
}
