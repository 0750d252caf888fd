package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# voice used to read: "system" (espeak-ng) or "cloud"
voice:
  type: "system"
  # espeak voice or language for system voices, cloud voice id otherwise
  id: ""
# speech rate multiplier (0.5 to 3.0)
rate: 1.0
# BCP 47 language of the books you read
lang: "en"
# lines requested per page
page_size: 200

# cloud audio and remote books
cloud:
  base_url: ""
  resource: "books"
  # 0 means unlimited
  requests_per_minute: 120

# on-device speech
speech:
  # espeak-ng binary; empty tries espeak-ng then espeak
  binary: ""
  # pause/resume pulse that keeps long utterances alive, 0 disables
  keepalive_interval: "10s"

playback:
  # pause before a resumed line plays
  resume_delay: "1s"
  # quiet looping tone that keeps the audio device awake
  keepalive_cue: true

# reading positions; empty uses the user data directory
progress:
  file: ""

# publish playback events to NATS, empty disables
nats:
  url: ""
  subject: "bookvoice.playback"

# desktop media controls over D-Bus
mpris:
  enabled: true

debug: false
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the bookvoice config file",
	Long:    paragraph(fmt.Sprintf("\n%s the bookvoice config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created. Rate and voice changes apply to a running reader.", keyword("Edit"))),
	Example: paragraph("bookvoice config\nbookvoice config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("bookvoice", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
