// Package wizard provides an interactive first-run setup wizard for the
// relay, prompting for the listen/destination/source-bind addresses and
// producing a config, rendered as YAML ready for Load; writing the file is
// left to the caller.
package wizard

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/postalsys/udprelay/internal/config"
	"gopkg.in/yaml.v3"
)

// Result is the wizard's output: a validated config and the path it
// should be written to.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Wizard drives the interactive prompts over an arbitrary reader/writer
// pair, so tests can feed it a canned transcript instead of a real
// terminal.
type Wizard struct {
	in  *bufio.Reader
	out io.Writer
}

// New creates a Wizard reading prompt answers from in and writing
// prompts to out.
func New(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{in: bufio.NewReader(in), out: out}
}

// Run walks the user through the relay's configuration and returns the
// resulting Result. configPath is the destination file the caller will
// write Config to; it is only carried through, never written here.
func (w *Wizard) Run(configPath string) (*Result, error) {
	cfg := config.Default()

	fmt.Fprintln(w.out, "udprelay setup")
	fmt.Fprintln(w.out, "==============")

	listenAddr, err := w.promptString("Listen address", cfg.Listen.Address)
	if err != nil {
		return nil, err
	}
	cfg.Listen.Address = listenAddr

	listenPort, err := w.promptPort("Listen port", cfg.Listen.Port)
	if err != nil {
		return nil, err
	}
	cfg.Listen.Port = listenPort

	destAddr, err := w.promptString("Destination address", "")
	if err != nil {
		return nil, err
	}
	cfg.Destination.Address = destAddr

	destPort, err := w.promptPort("Destination port", 0)
	if err != nil {
		return nil, err
	}
	cfg.Destination.Port = destPort

	pin, err := w.promptBool("Pin the source port used to reach the destination?", false)
	if err != nil {
		return nil, err
	}
	if pin {
		bindAddr, err := w.promptString("Source-bind address", "0.0.0.0")
		if err != nil {
			return nil, err
		}
		bindPort, err := w.promptPort("Source-bind port", 0)
		if err != nil {
			return nil, err
		}
		cfg.SourceBind = &config.EndpointConfig{Address: bindAddr, Port: bindPort}
	}

	logLevel, err := w.promptString("Log level (debug/info/warn/error)", cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	cfg.Log.Level = logLevel

	metricsAddr, err := w.promptString("Metrics listen address (blank to disable)", "")
	if err != nil {
		return nil, err
	}
	cfg.Metrics.Address = metricsAddr

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}

	return &Result{Config: cfg, ConfigPath: configPath}, nil
}

// MarshalYAML renders the wizard's result as the YAML document config.Load
// expects, for writing to ConfigPath.
func (r *Result) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(r.Config)
}

func (w *Wizard) promptString(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", label)
	}
	line, err := w.readLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		return def, nil
	}
	return line, nil
}

func (w *Wizard) promptPort(label string, def uint16) (uint16, error) {
	defText := ""
	if def != 0 {
		defText = strconv.Itoa(int(def))
	}
	for {
		text, err := w.promptString(label, defText)
		if err != nil {
			return 0, err
		}
		if text == "" {
			return 0, nil
		}
		n, err := strconv.ParseUint(text, 10, 16)
		if err != nil {
			fmt.Fprintf(w.out, "invalid port %q, try again\n", text)
			continue
		}
		return uint16(n), nil
	}
}

func (w *Wizard) promptBool(label string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		text, err := w.promptString(fmt.Sprintf("%s [%s]", label, hint), "")
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(w.out, "please answer y or n")
	}
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
