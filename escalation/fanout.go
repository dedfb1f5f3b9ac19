package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/risk"
	"golang.org/x/sync/errgroup"
)

// Contact types.
const (
	ContactSupervisor = "supervisor"
	ContactEmergency  = "emergency"
	ContactCrisisTeam = "crisis_team"
)

// Contact is an emergency contact reached on escalation.
type Contact struct {
	Name  string `mapstructure:"name" json:"name"`
	Phone string `mapstructure:"phone" json:"phone"`
	Type  string `mapstructure:"type" json:"type"`
}

// Alert describes the caller and the assessment that triggered escalation.
type Alert struct {
	CallID       string
	CallerNumber string
	Geo          hotline.Geo
	CallStarted  time.Time
	Level        risk.Level
	Category     risk.Category
	Confidence   float64
}

// Outcome is the result of alerting one contact.
type Outcome struct {
	Contact Contact
	Reached bool
	Ref     string
	Err     error
	At      time.Time
}

// Dialer places an alert call to one contact and returns a provider
// reference.
type Dialer interface {
	Dial(ctx context.Context, contact Contact, message string) (string, error)
}

// FanOut is the Emergency Alert Fan-out.
type FanOut struct {
	dialer      Dialer
	contacts    []Contact
	concurrency int
	dialTimeout time.Duration
	logger      *slog.Logger
}

// FanOutConfig configures a FanOut.
type FanOutConfig struct {
	Dialer   Dialer
	Contacts []Contact
	// Concurrency bounds simultaneous dials. Default: all contacts at once.
	Concurrency int
	DialTimeout time.Duration // Default: 15 seconds
	Logger      *slog.Logger
}

// NewFanOut creates a FanOut.
func NewFanOut(cfg FanOutConfig) *FanOut {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = max(1, len(cfg.Contacts))
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FanOut{
		dialer:      cfg.Dialer,
		contacts:    cfg.Contacts,
		concurrency: cfg.Concurrency,
		dialTimeout: cfg.DialTimeout,
		logger:      cfg.Logger,
	}
}

// Notify alerts every contact concurrently. A failed contact never stops the
// others; its error is carried in its Outcome. Outcomes follow contact order.
func (f *FanOut) Notify(ctx context.Context, alert Alert) []Outcome {
	message := Message(alert)
	outcomes := make([]Outcome, len(f.contacts))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, contact := range f.contacts {
		g.Go(func() error {
			dialCtx, cancel := context.WithTimeout(ctx, f.dialTimeout)
			defer cancel()

			ref, err := f.dialer.Dial(dialCtx, contact, message)
			outcomes[i] = Outcome{Contact: contact, Reached: err == nil, Ref: ref, Err: err, At: time.Now().UTC()}
			if err != nil {
				f.logger.Error("emergency contact unreachable",
					"call_id", alert.CallID, "contact", contact.Name, "err", hotline.Wrap(err, hotline.KindEscalation))
			}
			return nil
		})
	}
	_ = g.Wait()

	reached := 0
	for _, o := range outcomes {
		if o.Reached {
			reached++
		}
	}
	f.logger.Error("emergency alert sent",
		"call_id", alert.CallID, "level", alert.Level, "category", alert.Category,
		"reached", reached, "failed", len(outcomes)-reached)
	return outcomes
}

// Message is the spoken alert text.
func Message(a Alert) string {
	var b strings.Builder
	b.WriteString("EMERGENCY ALERT: This is an automated message from the Suicide Prevention Hotline. ")
	fmt.Fprintf(&b, "We have identified a %s risk situation that requires immediate attention. ", a.Level)
	fmt.Fprintf(&b, "Caller phone number: %s. ", a.CallerNumber)
	fmt.Fprintf(&b, "Location: %s. ", a.Geo)
	fmt.Fprintf(&b, "Call time: %s. ", a.CallStarted.UTC().Format("2006-01-02 at 15:04 UTC"))
	fmt.Fprintf(&b, "Risk level: %s. ", strings.ToUpper(a.Level.String()))
	b.WriteString("The caller has expressed thoughts of self-harm and may be in immediate danger. ")
	b.WriteString("Please respond according to your emergency protocols.")
	return b.String()
}

// Notes is the audit note stored with each contact attempt.
func Notes(a Alert, o Outcome) string {
	notes := fmt.Sprintf("Risk level: %s, Category: %s, Confidence: %.2f", a.Level, a.Category, a.Confidence)
	if o.Err != nil {
		notes += ", Error: " + o.Err.Error()
	}
	return notes
}
