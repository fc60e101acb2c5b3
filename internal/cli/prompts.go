package cli

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/mrz1836/coinvault/internal/keys"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// Environment variables carrying key material. They are read directly and
// never copied into the configuration.
const (
	EnvMnemonic   = "COINVAULT_MNEMONIC"   // #nosec G101 -- variable name, not a credential
	EnvPassphrase = "COINVAULT_PASSPHRASE" // #nosec G101 -- variable name, not a credential
)

// MnemonicProvider returns the mnemonic and optional BIP39 passphrase.
type MnemonicProvider func() (mnemonic, passphrase string, err error)

// Prompt hooks, replaced in tests.
//
//nolint:gochecknoglobals // swapped by tests
var (
	isTerminalFn     = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) } //nolint:gosec // fd fits in int
	promptPasswordFn = promptPassword
)

// defaultMnemonicProvider reads the environment first and prompts on a
// terminal otherwise.
func defaultMnemonicProvider() (string, string, error) {
	if m := os.Getenv(EnvMnemonic); m != "" {
		return m, os.Getenv(EnvPassphrase), nil
	}
	if !isTerminalFn() {
		return "", "", vaulterr.WithSuggestion(vaulterr.ErrNotLoggedIn,
			fmt.Sprintf("set %s when stdin is not a terminal", EnvMnemonic))
	}
	return promptMnemonic()
}

// promptMnemonic reads the mnemonic and passphrase with hidden input and
// checks the phrase before returning it, so typos are reported with
// suggestions instead of as a key derivation failure.
func promptMnemonic() (string, string, error) {
	raw, err := promptPasswordFn("Enter mnemonic: ")
	if err != nil {
		return "", "", err
	}
	mnemonic := keys.NormalizeMnemonicInput(string(raw))
	zeroBytes(raw)

	if err := keys.ValidateMnemonic(mnemonic); err != nil {
		return "", "", err
	}

	pass, err := promptPasswordFn("BIP39 passphrase (empty for none): ")
	if err != nil {
		return "", "", err
	}
	passphrase := strings.TrimRight(string(pass), "\r\n")
	zeroBytes(pass)

	return mnemonic, passphrase, nil
}

// promptPassword prompts with hidden input.
// The caller is responsible for zeroing the returned bytes after use.
func promptPassword(prompt string) ([]byte, error) {
	out(os.Stderr, "%s", prompt)

	secret, err := term.ReadPassword(int(os.Stdin.Fd())) //nolint:gosec // fd fits in int
	outln(os.Stderr)

	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return secret, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
