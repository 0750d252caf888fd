// Package speech drives on-device speech synthesis one utterance at a time.
//
// The Adapter wraps a Synthesizer (espeak-ng in production) and keeps long
// utterances alive with a periodic pause/resume pulse. Utterances that are
// cancelled or replaced never report back to their callbacks.
package speech
