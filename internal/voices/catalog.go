// Package voices enumerates the voices playback can use: whatever the
// on-device synthesizer reports for a language, plus a fixed set of cloud
// voices.
package voices

import (
	"context"
	"fmt"
	"strings"

	"github.com/bookvoice/bookvoice/internal/speech"
	"github.com/bookvoice/bookvoice/internal/ttypes"
	"github.com/sahilm/fuzzy"
	"golang.org/x/text/language"
)

// CloudVoiceIDs are the voices the cloud audio service renders.
var CloudVoiceIDs = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// Lister reports on-device voices. speech.Adapter and speech.ESpeak satisfy it.
type Lister interface {
	Voices(ctx context.Context, lang string) ([]speech.Voice, error)
}

// Catalog answers voice queries. It holds no state.
type Catalog struct {
	native Lister
}

// New returns a catalog over native. A nil lister yields no system voices.
func New(native Lister) *Catalog {
	return &Catalog{native: native}
}

// Native returns the system voices whose language shares lang's base
// language. An empty lang returns every voice.
func (c *Catalog) Native(ctx context.Context, lang string) ([]ttypes.VoiceOption, error) {
	if c.native == nil {
		return nil, nil
	}

	list, err := c.native.Voices(ctx, lang)
	if err != nil {
		return nil, fmt.Errorf("failed to list system voices: %w", err)
	}

	want, hasWant := baseOf(lang)
	seen := make(map[string]bool, len(list))
	var out []ttypes.VoiceOption
	for _, v := range list {
		if hasWant {
			if got, ok := baseOf(v.Language); !ok || got != want {
				continue
			}
		}
		// the first voice of a language is addressed by the language,
		// further variants by their voice file
		id := v.Language
		if seen[id] {
			if v.File == "" || seen[v.File] {
				continue
			}
			id = v.File
		}
		seen[id] = true

		name := v.Name
		if name == "" {
			name = v.Language
		}
		out = append(out, ttypes.VoiceOption{
			Type:        ttypes.VoiceSystem,
			ID:          id,
			DisplayName: name,
			Enabled:     true,
		})
	}
	return out, nil
}

// Cloud returns the fixed cloud voice set.
func (c *Catalog) Cloud() []ttypes.VoiceOption {
	out := make([]ttypes.VoiceOption, 0, len(CloudVoiceIDs))
	for _, id := range CloudVoiceIDs {
		out = append(out, ttypes.VoiceOption{
			Type:        ttypes.VoiceCloud,
			ID:          id,
			DisplayName: strings.ToUpper(id[:1]) + id[1:] + " (cloud)",
			Enabled:     true,
		})
	}
	return out
}

// All returns system voices for lang followed by cloud voices. A failing
// synthesizer still yields the cloud voices alongside the error.
func (c *Catalog) All(ctx context.Context, lang string) ([]ttypes.VoiceOption, error) {
	native, err := c.Native(ctx, lang)
	return append(native, c.Cloud()...), err
}

// Lookup returns the option with the given type and id.
func Lookup(options []ttypes.VoiceOption, typ ttypes.VoiceType, id string) (ttypes.VoiceOption, bool) {
	for _, o := range options {
		if o.Type == typ && strings.EqualFold(o.ID, id) {
			return o, true
		}
	}
	return ttypes.VoiceOption{}, false
}

type optionSource []ttypes.VoiceOption

func (s optionSource) String(i int) string { return s[i].DisplayName + " " + s[i].ID }
func (s optionSource) Len() int            { return len(s) }

// Find fuzzy-matches query against display names and ids, best first.
// An empty query returns options unchanged.
func Find(options []ttypes.VoiceOption, query string) []ttypes.VoiceOption {
	if query == "" {
		return options
	}

	matches := fuzzy.FindFrom(query, optionSource(options))
	out := make([]ttypes.VoiceOption, 0, len(matches))
	for _, m := range matches {
		out = append(out, options[m.Index])
	}
	return out
}

func baseOf(tag string) (language.Base, bool) {
	if tag == "" {
		return language.Base{}, false
	}
	t, err := language.Parse(tag)
	if err != nil {
		return language.Base{}, false
	}
	b, _ := t.Base()
	return b, true
}
