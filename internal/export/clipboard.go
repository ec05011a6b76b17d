package export

import (
	"encoding/base64"
	"fmt"
	"io"

	"github.com/atotto/clipboard"
	"github.com/sirupsen/logrus"
)

// Clipboard accepts text to copy.
type Clipboard interface {
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) WriteAll(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("no system clipboard available")
	}
	return clipboard.WriteAll(text)
}

// SystemClipboard returns the OS clipboard.
func SystemClipboard() Clipboard {
	return systemClipboard{}
}

// OSC52 copies through the terminal by writing an OSC 52 escape sequence.
type OSC52 struct {
	W io.Writer
}

func (o OSC52) WriteAll(text string) error {
	if o.W == nil {
		return fmt.Errorf("osc52: no terminal writer")
	}
	seq := "\x1b]52;c;" + base64.StdEncoding.EncodeToString([]byte(text)) + "\a"
	if _, err := io.WriteString(o.W, seq); err != nil {
		return fmt.Errorf("osc52: %w", err)
	}
	return nil
}

// Copy tries primary, then fallback. When both fail the error is logged and
// returned; nil clipboards are skipped.
func Copy(text string, primary, fallback Clipboard, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if text == "" {
		return ErrNothingToExport
	}

	var errs []error
	for _, cb := range []Clipboard{primary, fallback} {
		if cb == nil {
			continue
		}
		err := cb.WriteAll(text)
		if err == nil {
			return nil
		}
		logger.Warnf("Clipboard write failed: %v", err)
		errs = append(errs, err)
	}

	logger.Error("Failed to copy text to clipboard")
	if len(errs) == 0 {
		return fmt.Errorf("no clipboard configured")
	}
	return fmt.Errorf("failed to copy: %w", errs[len(errs)-1])
}
