package escalation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/background"
	"github.com/creastat/hotline/records"
	"github.com/creastat/hotline/risk"
	"github.com/creastat/hotline/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testContacts = []Contact{
	{Name: "Crisis Hotline Supervisor", Phone: "+15550000001", Type: ContactSupervisor},
	{Name: "Emergency Services", Phone: "+15550000002", Type: ContactEmergency},
	{Name: "Mental Health Crisis Team", Phone: "+15550000003", Type: ContactCrisisTeam},
}

type recordingDialer struct {
	mu      sync.Mutex
	dialed  []string
	message string
	failFor string
}

func (d *recordingDialer) Dial(_ context.Context, c Contact, message string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, c.Phone)
	d.message = message
	if c.Phone == d.failFor {
		return "", errors.New("busy")
	}
	return "CA-" + c.Phone, nil
}

type fixture struct {
	sessions session.Store
	ledger   *records.SQLiteStore
	runner   *background.Runner
	dialer   *recordingDialer
	esc      *Escalator
	callID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	sessions, err := session.NewStore(session.StoreTypeMemory)
	require.NoError(t, err)
	ledger, err := records.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	call := &records.Call{
		ProviderCallID: "CA1",
		CallerNumber:   "+919800000000",
		Geo:            hotline.Geo{City: "Chennai", State: "Tamil Nadu", Country: "IN"},
		Status:         hotline.StatusInProgress,
		StartedAt:      time.Date(2026, 10, 16, 21, 5, 0, 0, time.UTC),
	}
	require.NoError(t, ledger.CreateCall(ctx, call))
	require.NoError(t, sessions.Create(ctx, &session.CallState{ID: call.ID, Status: hotline.StatusInProgress}))

	runner := background.New(background.Config{Workers: 2, Logger: quietLogger()})
	dialer := &recordingDialer{}
	fanout := NewFanOut(FanOutConfig{Dialer: dialer, Contacts: testContacts, Logger: quietLogger()})
	return &fixture{
		sessions: sessions,
		ledger:   ledger,
		runner:   runner,
		dialer:   dialer,
		esc:      NewEscalator(sessions, ledger, fanout, runner, quietLogger()),
		callID:   call.ID,
	}
}

func TestObserveBelowHighNeverEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.esc.Observe(ctx, f.callID, risk.NewAssessment(risk.CategoryConsumption, 0.6, risk.SourceKeyword))
	require.NoError(t, err)
	assert.True(t, d.Change.Raised)
	assert.Equal(t, risk.Moderate, d.Change.Current)
	assert.False(t, d.Escalated)

	require.NoError(t, f.runner.Close(ctx))
	attempts, err := f.ledger.ListContactAttempts(ctx, f.callID)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestObserveEscalatesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.esc.Observe(ctx, f.callID, risk.NewAssessment(risk.CategoryPlanning, 0.6, risk.SourceKeyword))
	require.NoError(t, err)
	assert.True(t, first.Escalated)
	assert.Equal(t, risk.Critical, first.Change.Current)

	for _, c := range []risk.Category{risk.CategoryPrevAttempt, risk.CategoryPlanning, risk.CategoryHope} {
		d, err := f.esc.Observe(ctx, f.callID, risk.NewAssessment(c, 0.9, risk.SourceModel))
		require.NoError(t, err)
		assert.False(t, d.Escalated)
		assert.Equal(t, risk.Critical, d.Change.Current)
	}

	require.NoError(t, f.runner.Close(ctx))

	attempts, err := f.ledger.ListContactAttempts(ctx, f.callID)
	require.NoError(t, err)
	require.Len(t, attempts, len(testContacts))
	for _, a := range attempts {
		assert.True(t, a.Reached)
		assert.Equal(t, records.TriggerRiskAssessment, a.Trigger)
		assert.Equal(t, "Risk level: critical, Category: Suicidal planning, Confidence: 0.60", a.Notes)
	}
	assert.Len(t, f.dialer.dialed, len(testContacts))

	state, err := f.sessions.Get(ctx, f.callID)
	require.NoError(t, err)
	assert.Equal(t, risk.Critical, state.HighestRisk)
	assert.Equal(t, hotline.StatusInProgress, state.Status)
}

func TestConcurrentHighAssessmentsClaimOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	escalated := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.esc.Observe(ctx, f.callID, risk.NewAssessment(risk.CategoryPrevAttempt, 0.7, risk.SourceModel))
			assert.NoError(t, err)
			if d.Escalated {
				mu.Lock()
				escalated++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.NoError(t, f.runner.Close(ctx))

	assert.Equal(t, 1, escalated)
	attempts, err := f.ledger.ListContactAttempts(ctx, f.callID)
	require.NoError(t, err)
	assert.Len(t, attempts, len(testContacts))
}

func TestUnreachableContactIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.dialer.failFor = testContacts[1].Phone
	ctx := context.Background()

	_, err := f.esc.Observe(ctx, f.callID, risk.NewAssessment(risk.CategoryPrevAttempt, 0.8, risk.SourceModel))
	require.NoError(t, err)
	require.NoError(t, f.runner.Close(ctx))

	attempts, err := f.ledger.ListContactAttempts(ctx, f.callID)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	reached := 0
	for _, a := range attempts {
		if a.Reached {
			reached++
			continue
		}
		assert.Equal(t, testContacts[1].Phone, a.ContactPhone)
		assert.Contains(t, a.Notes, "busy")
	}
	assert.Equal(t, 2, reached)
}

// flakySubmitter drops the first task and hands the rest to a runner.
type flakySubmitter struct {
	runner  *background.Runner
	mu      sync.Mutex
	dropped bool
}

func (s *flakySubmitter) Go(name string, fn func(ctx context.Context) error) bool {
	s.mu.Lock()
	first := !s.dropped
	s.dropped = true
	s.mu.Unlock()
	if first {
		return false
	}
	return s.runner.Go(name, fn)
}

func TestDroppedFanOutIsRetriedByNextAssessment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fanout := NewFanOut(FanOutConfig{Dialer: f.dialer, Contacts: testContacts, Logger: quietLogger()})
	esc := NewEscalator(f.sessions, f.ledger, fanout, &flakySubmitter{runner: f.runner}, quietLogger())

	first, err := esc.Observe(ctx, f.callID, risk.NewAssessment(risk.CategoryPlanning, 0.6, risk.SourceKeyword))
	require.Error(t, err)
	assert.Equal(t, hotline.KindEscalation, hotline.KindOf(err))
	assert.False(t, first.Escalated)
	assert.Equal(t, risk.Critical, first.Change.Current)

	second, err := esc.Observe(ctx, f.callID, risk.NewAssessment(risk.CategoryPlanning, 0.7, risk.SourceKeyword))
	require.NoError(t, err)
	assert.True(t, second.Escalated)

	third, err := esc.Observe(ctx, f.callID, risk.NewAssessment(risk.CategoryPrevAttempt, 0.8, risk.SourceModel))
	require.NoError(t, err)
	assert.False(t, third.Escalated)

	require.NoError(t, f.runner.Close(ctx))
	attempts, err := f.ledger.ListContactAttempts(ctx, f.callID)
	require.NoError(t, err)
	assert.Len(t, attempts, len(testContacts))
	assert.Len(t, f.dialer.dialed, len(testContacts))
}

func TestObserveUnknownCall(t *testing.T) {
	f := newFixture(t)
	_, err := f.esc.Observe(context.Background(), "missing", risk.NewAssessment(risk.CategoryPlanning, 0.6, risk.SourceKeyword))
	assert.ErrorIs(t, err, hotline.ErrNotFound)
}

func TestMessage(t *testing.T) {
	msg := Message(Alert{
		CallerNumber: "+919800000000",
		Geo:          hotline.Geo{City: "Chennai", State: "Tamil Nadu", Country: "IN"},
		CallStarted:  time.Date(2026, 10, 16, 21, 5, 0, 0, time.UTC),
		Level:        risk.High,
	})
	assert.Contains(t, msg, "+919800000000")
	assert.Contains(t, msg, "Location: Chennai, Tamil Nadu, IN.")
	assert.Contains(t, msg, "2026-10-16 at 21:05 UTC")
	assert.Contains(t, msg, "Risk level: HIGH.")

	msg = Message(Alert{Level: risk.Critical})
	assert.Contains(t, msg, "Location unknown")
}

func TestLogOnlyDialer(t *testing.T) {
	ref, err := LogOnlyDialer{Logger: quietLogger()}.Dial(context.Background(), testContacts[0], "alert")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "LOGGED_ALERT_"))
	assert.Greater(t, len(ref), len("LOGGED_ALERT_"))
}

type fakeCalls struct {
	params *twilioApi.CreateCallParams
	err    error
}

func (f *fakeCalls) CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	sid := "CA42"
	return &twilioApi.ApiV2010Call{Sid: &sid}, nil
}

func TestTwilioDialer(t *testing.T) {
	api := &fakeCalls{}
	d := &TwilioDialer{api: api, from: "+15551230000"}

	ref, err := d.Dial(context.Background(), testContacts[0], "caller at risk")
	require.NoError(t, err)
	assert.Equal(t, "CA42", ref)
	require.NotNil(t, api.params.To)
	assert.Equal(t, testContacts[0].Phone, *api.params.To)
	assert.Equal(t, "+15551230000", *api.params.From)
	assert.Contains(t, *api.params.Twiml, "caller at risk")
	assert.Contains(t, *api.params.Twiml, `voice="alice"`)
	assert.Contains(t, *api.params.Twiml, "<Pause")

	api.err = errors.New("invalid number")
	_, err = d.Dial(context.Background(), testContacts[1], "x")
	assert.ErrorContains(t, err, "invalid number")
}

func TestNewTwilioDialerRequiresCredentials(t *testing.T) {
	_, err := NewTwilioDialer("", "", "")
	assert.Error(t, err)
}
