package escalation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lithammer/shortuuid/v4"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

// callCreator is the part of the Twilio REST API used for outbound calls.
type callCreator interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
}

// TwilioDialer places voice alert calls through Twilio.
type TwilioDialer struct {
	api  callCreator
	from string
}

// NewTwilioDialer creates a dialer for the account.
func NewTwilioDialer(accountSID, authToken, from string) (*TwilioDialer, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("twilio account sid, auth token and from number are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioDialer{api: client.Api, from: from}, nil
}

// Dial implements Dialer.
func (d *TwilioDialer) Dial(ctx context.Context, contact Contact, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	doc, err := AlertTwiML(message)
	if err != nil {
		return "", err
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(contact.Phone)
	params.SetFrom(d.from)
	params.SetTwiml(doc)

	resp, err := d.api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("create alert call to %s: %w", contact.Name, err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("create alert call to %s: no call sid returned", contact.Name)
	}
	return *resp.Sid, nil
}

// AlertTwiML renders the voice alert: a preamble, the message and a closing
// line separated by pauses.
func AlertTwiML(message string) (string, error) {
	doc, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{
			Message: "Emergency Alert. Emergency Alert. This is the Suicide Prevention Hotline.",
			Voice:   "alice",
		},
		&twiml.VoicePause{Length: "1"},
		&twiml.VoiceSay{Message: message, Voice: "alice"},
		&twiml.VoicePause{Length: "1"},
		&twiml.VoiceSay{
			Message: "This was an emergency alert from the Suicide Prevention Hotline. Please respond according to your emergency protocols. Thank you.",
			Voice:   "alice",
		},
	})
	if err != nil {
		return "", fmt.Errorf("render alert twiml: %w", err)
	}
	return doc, nil
}

// LogOnlyDialer is used when telephony credentials are missing. Every contact
// counts as reached and the alert is logged at Error level.
type LogOnlyDialer struct {
	Logger *slog.Logger
}

// Dial implements Dialer.
func (d LogOnlyDialer) Dial(_ context.Context, contact Contact, message string) (string, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ref := "LOGGED_ALERT_" + shortuuid.New()
	logger.Error("emergency alert (log only)",
		"contact", contact.Name, "phone", contact.Phone, "ref", ref, "message", message)
	return ref, nil
}
