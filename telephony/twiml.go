package telephony

import (
	"fmt"
	"strconv"

	"github.com/creastat/hotline/calls"
	"github.com/twilio/twilio-go/twiml"
)

// RecordOptions shapes each recorded segment.
type RecordOptions struct {
	// MaxLengthSeconds caps one segment. Default: 30.
	MaxLengthSeconds int
	// SilenceTimeoutSeconds ends a segment after the caller stops talking.
	// Default: 3.
	SilenceTimeoutSeconds int
}

func (o RecordOptions) withDefaults() RecordOptions {
	if o.MaxLengthSeconds <= 0 {
		o.MaxLengthSeconds = 30
	}
	if o.SilenceTimeoutSeconds <= 0 {
		o.SilenceTimeoutSeconds = 3
	}
	return o
}

// Render turns an instruction into a TwiML document. recordAction is the
// absolute URL Twilio posts the next segment to; audioURL is the public URL
// of instr.Audio.
func Render(instr calls.Instruction, recordAction, audioURL string, opts RecordOptions) (string, error) {
	opts = opts.withDefaults()

	var verbs []twiml.Element
	switch instr.Action {
	case calls.ActionPlayRecord, calls.ActionPlayHangup:
		if audioURL != "" {
			verbs = append(verbs, &twiml.VoicePlay{Url: audioURL})
		}
	}

	switch instr.Action {
	case calls.ActionPlayHangup, calls.ActionHangup:
		verbs = append(verbs, &twiml.VoiceHangup{})
	default:
		verbs = append(verbs, &twiml.VoiceRecord{
			Action:    recordAction,
			Method:    "POST",
			MaxLength: strconv.Itoa(opts.MaxLengthSeconds),
			Timeout:   strconv.Itoa(opts.SilenceTimeoutSeconds),
			PlayBeep:  strconv.FormatBool(instr.Beep),
			Trim:      "trim-silence",
		})
	}

	doc, err := twiml.Voice(verbs)
	if err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	return doc, nil
}
