package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvail/frontdesk/internal/alert"
	"github.com/mvail/frontdesk/internal/availability"
	"github.com/mvail/frontdesk/internal/calendar"
	"github.com/mvail/frontdesk/internal/config"
	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/executor"
	"github.com/mvail/frontdesk/internal/knowledge"
	"github.com/mvail/frontdesk/internal/logging"
	"github.com/mvail/frontdesk/internal/nlu"
	"github.com/mvail/frontdesk/internal/patients"
	"github.com/mvail/frontdesk/internal/session"
	"github.com/mvail/frontdesk/internal/store"
)

func silentLog() *logging.Logger {
	return logging.New(io.Discard, "silent", "json")
}

type fixture struct {
	srv     *httptest.Server
	hub     *Hub
	classer *nlu.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := silentLog()

	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	kb := knowledge.NewFromInfo(knowledge.ClinicInfo{
		ClinicName: "Riverside Clinic",
		Doctors: []knowledge.Doctor{
			{ID: "dr-shah", Name: "Dr. Anita Shah", CalendarID: "cal-shah"},
		},
	}, log)

	appts := store.NewAppointmentStore(db)
	patientStore := store.NewPatientStore(db)
	require.NoError(t, patientStore.Create(&domain.Patient{
		ID: "pat-1", PhoneNumber: "+15550001111", FullName: "Maria Lopez",
		Status: domain.PatientActive,
	}))

	cal := calendar.NewMemory()
	dialog := config.DialogConfig{
		MaxUnknownTurns: 2, MaxDisambigAttempts: 2,
		DefaultDurationMinutes: 30, MaxCandidateSlots: 3, SlotGranularityMinutes: 30,
	}
	exec := executor.New(cal, kb, appts, store.NewReminderStore(db),
		store.NewLedgerStore(db), nil, "whatsapp", log)

	f := &fixture{classer: nlu.NewMock(), hub: NewHub(log)}
	orch := session.New(session.Deps{
		Classifier:   f.classer,
		Resolver:     availability.New(cal, dialog, log),
		Executor:     exec,
		Patients:     patients.NewService(patientStore, appts, log),
		Appointments: appts,
		Archive:      store.NewSessionArchive(db),
		Knowledge:    kb,
		Notifier:     alert.Noop{},
		Events:       f.hub,
		Dialog:       dialog,
		Retry:        config.RetryConfig{Availability: 1, Commit: 1, CollaboratorTimeoutSeconds: 5},
		Session:      config.SessionConfig{IdleMinutes: 5},
		Log:          log,
	})

	gw := New(config.GatewayConfig{}, orch, f.hub, log)
	f.srv = httptest.NewServer(gw.Router())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestCallLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/telephony/call", callRequest{CallID: "call-1", CallerNumber: "+15550001111"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["reply"], "Riverside Clinic")

	f.classer.Enqueue(&nlu.Result{Intent: domain.IntentFAQ, Question: "hours"})
	resp, body = f.post(t, "/telephony/utterance", utteranceRequest{CallID: "call-1", Text: "when are you open?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["reply"])

	resp, _ = f.post(t, "/telephony/hangup", callRequest{CallID: "call-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A terminated call is gone.
	resp, _ = f.post(t, "/telephony/utterance", utteranceRequest{CallID: "call-1", Text: "hello?"})
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestRepeatedCallWebhookRegreets(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post(t, "/telephony/call", callRequest{CallID: "call-1", CallerNumber: "+15550001111"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Telephony platforms may redeliver the call webhook; the session
	// keeps its state and the caller is simply greeted again.
	resp, body := f.post(t, "/telephony/call", callRequest{CallID: "call-1", CallerNumber: "+15550001111"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["reply"], "Riverside Clinic")
}

func TestMissingCallIDIsBadRequest(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post(t, "/telephony/call", callRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.post(t, "/telephony/utterance", utteranceRequest{Text: "hi"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionsAndHealth(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post(t, "/telephony/call", callRequest{CallID: "call-1", CallerNumber: "+15550001111"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	httpResp, err := http.Get(f.srv.URL + "/sessions")
	require.NoError(t, err)
	defer httpResp.Body.Close()
	var listing struct {
		Sessions []sessionSummary `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&listing))
	require.Len(t, listing.Sessions, 1)
	assert.Equal(t, "call-1", listing.Sessions[0].SessionID)
	assert.Equal(t, domain.StateGreeting, listing.Sessions[0].State)

	healthResp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer healthResp.Body.Close()
	var health map[string]any
	require.NoError(t, json.NewDecoder(healthResp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["liveSessions"])
}

func TestWebSocketReceivesSessionEvents(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// The hub registers the consumer asynchronously with the upgrade.
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	callResp, _ := f.post(t, "/telephony/call", callRequest{CallID: "call-1", CallerNumber: "+15550001111"})
	require.Equal(t, http.StatusOK, callResp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev session.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "call-1", ev.SessionID)
	assert.Equal(t, domain.StateGreeting, ev.State)
	assert.Contains(t, ev.Utterance, "Riverside Clinic")
}
