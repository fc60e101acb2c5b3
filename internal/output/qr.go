package output

import (
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"
	"rsc.io/qr"
)

// shortPayload is the longest payload that still gets medium error
// correction; bare addresses fit, full payment URIs usually do not.
const shortPayload = 64

// QRConfig configures terminal QR rendering.
type QRConfig struct {
	Level      qr.Level
	QuietZone  int
	HalfBlocks bool // two modules per character row
}

// QRConfigFor picks rendering settings for a receive payload. Bare addresses
// get medium error correction; longer payment URIs drop to low so the code
// stays small enough for a terminal.
func QRConfigFor(payload string) QRConfig {
	level := qr.M
	if len(payload) > shortPayload {
		level = qr.L
	}
	return QRConfig{Level: level, QuietZone: 1, HalfBlocks: true}
}

// QRModules returns the side length in modules of the code for payload, or
// an error when the payload does not fit a QR code at that level.
func QRModules(payload string, level qr.Level) (int, error) {
	code, err := qr.Encode(payload, level)
	if err != nil {
		return 0, fmt.Errorf("encoding QR code: %w", err)
	}
	return code.Size, nil
}

// RenderQR draws payload as a QR code when w is a terminal and writes
// nothing otherwise. Payloads that cannot be encoded are reported before
// anything is drawn.
func RenderQR(w io.Writer, payload string, cfg QRConfig) error {
	if _, err := QRModules(payload, cfg.Level); err != nil {
		return err
	}
	if !IsTerminal(w) {
		return nil
	}

	qrterminal.GenerateWithConfig(payload, qrterminal.Config{
		Level:          cfg.Level,
		Writer:         w,
		QuietZone:      cfg.QuietZone,
		HalfBlocks:     cfg.HalfBlocks,
		BlackChar:      qrterminal.BLACK_BLACK,
		WhiteChar:      qrterminal.WHITE_WHITE,
		WhiteBlackChar: qrterminal.WHITE_BLACK,
		BlackWhiteChar: qrterminal.BLACK_WHITE,
	})
	return nil
}
