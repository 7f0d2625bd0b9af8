package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Wizard drives the interactive first-run configuration dialog.
type Wizard struct {
	in  *bufio.Reader
	out io.Writer
}

// NewWizard returns a wizard reading answers from in and prompting on out.
// Nil streams fall back to stdin and stdout.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Wizard{in: bufio.NewReader(in), out: out}
}

// Run walks through the dialog and returns the assembled config. The result
// still goes through Config.Validate before it is saved.
func (w *Wizard) Run() (*Config, error) {
	w.say("=== Kantor Configuration Wizard ===")
	w.say("")

	cfg := DefaultConfig()
	validator := NewValidator()

	w.say("API keys (at least one provider is required):")
	w.say("")

	openaiKey, err := w.askKey("OpenAI API key (press Enter to skip): ", "openai", validator)
	if err != nil {
		return nil, err
	}
	if openaiKey != "" {
		cfg.Profiles = append(cfg.Profiles, ModelProfile{
			ID:       "openai-default",
			Provider: "openai",
			APIKey:   openaiKey,
			Priority: 1,
		})
	}

	anthropicKey, err := w.askKey("Anthropic API key (press Enter to skip): ", "anthropic", validator)
	if err != nil {
		return nil, err
	}
	if anthropicKey != "" {
		cfg.Profiles = append(cfg.Profiles, ModelProfile{
			ID:       "anthropic-default",
			Provider: "anthropic",
			APIKey:   anthropicKey,
			Priority: 2,
		})
	}

	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("at least one API key is required")
	}

	w.say("")
	model, err := w.ask(fmt.Sprintf("Default model [%s]: ", cfg.Models.Default))
	if err != nil {
		return nil, err
	}
	if model != "" {
		cfg.Models.Default = model
	}

	w.say("")
	root, err := w.ask("Workspace root (press Enter for current directory): ")
	if err != nil {
		return nil, err
	}
	if root != "" {
		cfg.Workspace.Root = root
	}

	w.say("")
	sandboxed, err := w.ask("Run shell commands inside a container sandbox? (y/n) [n]: ")
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(sandboxed, "y") {
		cfg.Sandbox.Enabled = true

		image, err := w.ask(fmt.Sprintf("Sandbox image [%s]: ", cfg.Sandbox.Image))
		if err != nil {
			return nil, err
		}
		if image != "" {
			cfg.Sandbox.Image = image
		}
	}

	w.say("")
	level, err := w.ask("Log level (debug/info/warn/error) [info]: ")
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			w.say(fmt.Sprintf("Warning: %v, keeping info", err))
		} else {
			cfg.Logging.Level = level
		}
	}

	w.say("")
	w.say("Configuration complete!")

	return cfg, nil
}

// askKey prompts until it gets a key that passes the provider's format check
// or an empty line, which skips the provider.
func (w *Wizard) askKey(prompt, provider string, v *Validator) (string, error) {
	for {
		key, err := w.ask(prompt)
		if err != nil {
			return "", err
		}
		if key == "" {
			return "", nil
		}
		if err := v.ValidateAPIKey(key, provider); err != nil {
			w.say(fmt.Sprintf("Error: %v", err))
			continue
		}
		return key, nil
	}
}

func (w *Wizard) ask(prompt string) (string, error) {
	fmt.Fprint(w.out, prompt)
	line, err := w.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (w *Wizard) say(line string) {
	fmt.Fprintln(w.out, line)
}
