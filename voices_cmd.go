package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bookvoice/bookvoice/internal/speech"
	"github.com/bookvoice/bookvoice/internal/ttypes"
	"github.com/bookvoice/bookvoice/internal/voices"
)

var voicesCmd = &cobra.Command{
	Use:   "voices [QUERY]",
	Short: "List the available voices",
	Long: paragraph(fmt.Sprintf("\nList the %s and %s voices bookvoice can read with. An optional query fuzzy-filters the list.",
		keyword("system"), keyword("cloud"))),
	Example: paragraph("bookvoice voices\nbookvoice voices --lang de\nbookvoice voices nova"),
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var lister voices.Lister
		synth, err := speech.NewESpeak(opts.espeakBinary, log.Default())
		switch {
		case errors.Is(err, speech.ErrNotFound):
			log.Warn("espeak-ng not found, listing cloud voices only")
		case err != nil:
			return err
		default:
			lister = synth
		}

		options, err := voices.New(lister).All(cmd.Context(), viper.GetString("lang"))
		if err != nil {
			log.Warn("unable to list system voices", "error", err)
		}

		var query string
		if len(args) > 0 {
			query = args[0]
		}
		printVoices(cmd, voices.Find(options, query))
		return nil
	},
}

func printVoices(cmd *cobra.Command, options []ttypes.VoiceOption) {
	out := cmd.OutOrStdout()
	if len(options) == 0 {
		fmt.Fprintln(out, "No voices found.")
		return
	}
	for _, o := range options {
		name := o.DisplayName
		if !o.Enabled {
			name += " (unavailable)"
		}
		fmt.Fprintf(out, "%s %-28s %s\n", voiceTypeStyle(o.Type.String()), voiceFlagValue(o), name)
	}
}

// voiceFlagValue is the --voice value selecting o.
func voiceFlagValue(o ttypes.VoiceOption) string {
	return strings.Join([]string{o.Type.String(), o.ID}, ":")
}
