package evaluate

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/guardbook/guardbook/internal/schema"
	"github.com/guardbook/guardbook/internal/store"
)

var caracas = schema.TenantScope{ID: "acme", Timezone: "America/Caracas"}

// recordingNotifier captures every escalation for assertions.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []sentMessage
}

type sentMessage struct {
	Subject string
	Body    string
	To      []schema.Recipient
}

func (n *recordingNotifier) Send(_ context.Context, subject, body string, to []schema.Recipient) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, sentMessage{Subject: subject, Body: body, To: to})
	return nil
}

func (n *recordingNotifier) sent() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.calls...)
}

func newFixture(t *testing.T) (*Evaluator, *store.Memory, *recordingNotifier) {
	t.Helper()
	st := store.NewMemory()
	n := &recordingNotifier{}
	e := New(st, st, st, st, n)

	st.PutEventType(caracas.ID, schema.EventType{ID: "guard-report", Description: "Guard Report"})
	st.PutLocation(caracas.ID, schema.Location{ID: "L1", Name: "North Gate", IsActive: true})
	st.PutLocation(caracas.ID, schema.Location{ID: "L2", Name: "South Gate", IsActive: true})
	st.PutLocation(caracas.ID, schema.Location{ID: "L3", Name: "Old Depot", IsActive: false})
	st.PutRecipient(caracas.ID, schema.Recipient{
		ID: "sup-north", Name: "North Supervisor", Email: "north@acme.test", LocationIDs: []string{"L1"},
	}, "supervisors")
	st.PutRecipient(caracas.ID, schema.Recipient{
		ID: "sup-south", Name: "South Supervisor", Email: "south@acme.test", LocationIDs: []string{"L2"},
	}, "supervisors")
	st.PutRecipient(caracas.ID, schema.Recipient{
		ID: "chief", Name: "Chief", Email: "chief@acme.test", IsSuperuser: true,
	}, "supervisors")
	return e, st, n
}

func guardRule(active bool) schema.NotificationRule {
	return schema.NotificationRule{
		ID:              "r1",
		TenantID:        caracas.ID,
		Description:     "Morning guard report",
		IsActive:        active,
		Kind:            schema.KindObligatory,
		FrequencyPolicy: schema.EveryDay,
		EventTypeID:     "guard-report",
		AudienceGroups:  []string{"supervisors"},
	}
}

func mustWindow(t *testing.T, start, end string) schema.TimeWindow {
	t.Helper()
	s, err := schema.ParseClockTime(start)
	if err != nil {
		t.Fatalf("parse %q: %v", start, err)
	}
	e, err := schema.ParseClockTime(end)
	if err != nil {
		t.Fatalf("parse %q: %v", end, err)
	}
	return schema.TimeWindow{Start: s, End: e}
}

func TestEvaluate_EscalatesOnlyUnfulfilledLocations(t *testing.T) {
	e, st, n := newFixture(t)
	ctx := context.Background()
	st.PutRule(caracas.ID, guardRule(true))

	loc, _ := time.LoadLocation("America/Caracas")
	at := time.Date(2024, 1, 10, 9, 0, 0, 0, loc)

	// North Gate filed its report inside the window; South Gate did not.
	st.AppendEvent(caracas.ID, schema.EventRecord{
		ID: "ev1", EventTypeID: "guard-report", LocationID: "L1",
		CreatedAt: time.Date(2024, 1, 10, 8, 45, 0, 0, loc),
	})

	if err := e.Evaluate(ctx, caracas, "r1", mustWindow(t, "08:00", "09:00"), at); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	sent := n.sent()
	if len(sent) != 1 {
		t.Fatalf("expected exactly 1 escalation, got %d", len(sent))
	}
	msg := sent[0]
	if msg.Subject != "Guard Report" {
		t.Errorf("subject: expected event type description, got %q", msg.Subject)
	}
	if msg.Body != "Morning guard report - NOT FULFILLED AT South Gate" {
		t.Errorf("unexpected body: %q", msg.Body)
	}

	// South supervisor plus the superuser, never the north supervisor.
	ids := make([]string, 0, len(msg.To))
	for _, r := range msg.To {
		ids = append(ids, r.ID)
	}
	got := strings.Join(ids, ",")
	if got != "chief,sup-south" && got != "sup-south,chief" {
		t.Errorf("unexpected recipients: %v", ids)
	}
}

func TestEvaluate_AllFulfilledSendsNothing(t *testing.T) {
	e, st, n := newFixture(t)
	ctx := context.Background()
	st.PutRule(caracas.ID, guardRule(true))

	loc, _ := time.LoadLocation("America/Caracas")
	at := time.Date(2024, 1, 10, 9, 0, 0, 0, loc)
	for _, site := range []string{"L1", "L2"} {
		st.AppendEvent(caracas.ID, schema.EventRecord{
			ID: "ev-" + site, EventTypeID: "guard-report", LocationID: site,
			CreatedAt: time.Date(2024, 1, 10, 8, 30, 0, 0, loc),
		})
	}

	if err := e.Evaluate(ctx, caracas, "r1", mustWindow(t, "08:00", "09:00"), at); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(n.sent()) != 0 {
		t.Fatalf("expected no escalation, got %d", len(n.sent()))
	}
}

func TestEvaluate_EventOutsideWindowDoesNotCount(t *testing.T) {
	e, st, n := newFixture(t)
	ctx := context.Background()
	st.PutRule(caracas.ID, guardRule(true))

	loc, _ := time.LoadLocation("America/Caracas")
	at := time.Date(2024, 1, 10, 9, 0, 0, 0, loc)
	// Filed the day before, and one filed after the window closed.
	st.AppendEvent(caracas.ID, schema.EventRecord{
		ID: "old", EventTypeID: "guard-report", LocationID: "L1",
		CreatedAt: time.Date(2024, 1, 9, 8, 30, 0, 0, loc),
	})
	st.AppendEvent(caracas.ID, schema.EventRecord{
		ID: "late", EventTypeID: "guard-report", LocationID: "L2",
		CreatedAt: time.Date(2024, 1, 10, 9, 5, 0, 0, loc),
	})

	if err := e.Evaluate(ctx, caracas, "r1", mustWindow(t, "08:00", "09:00"), at); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(n.sent()) != 2 {
		t.Fatalf("expected escalations for both locations, got %d", len(n.sent()))
	}
}

func TestEvaluate_InactiveLocationsSkipped(t *testing.T) {
	e, st, n := newFixture(t)
	ctx := context.Background()
	st.PutRule(caracas.ID, guardRule(true))

	loc, _ := time.LoadLocation("America/Caracas")
	at := time.Date(2024, 1, 10, 9, 0, 0, 0, loc)

	if err := e.Evaluate(ctx, caracas, "r1", mustWindow(t, "08:00", "09:00"), at); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	for _, msg := range n.sent() {
		if strings.Contains(msg.Body, "Old Depot") {
			t.Errorf("inactive location must never be checked: %q", msg.Body)
		}
	}
}

func TestEvaluate_VanishedRuleIsNoOp(t *testing.T) {
	e, _, n := newFixture(t)
	if err := e.Evaluate(context.Background(), caracas, "ghost", mustWindow(t, "08:00", "09:00"), time.Now()); err != nil {
		t.Fatalf("vanished rule must not error: %v", err)
	}
	if len(n.sent()) != 0 {
		t.Fatal("vanished rule must not escalate")
	}
}

func TestEvaluate_InactiveRuleIsNoOp(t *testing.T) {
	e, st, n := newFixture(t)
	st.PutRule(caracas.ID, guardRule(false))
	if err := e.Evaluate(context.Background(), caracas, "r1", mustWindow(t, "08:00", "09:00"), time.Now()); err != nil {
		t.Fatalf("inactive rule must not error: %v", err)
	}
	if len(n.sent()) != 0 {
		t.Fatal("inactive rule must not escalate")
	}
}

func TestEvaluate_MidnightSpanningWindow(t *testing.T) {
	e, st, n := newFixture(t)
	ctx := context.Background()
	st.PutRule(caracas.ID, guardRule(true))

	loc, _ := time.LoadLocation("America/Caracas")
	// Fires at 06:00 the day the window ends.
	at := time.Date(2024, 1, 11, 6, 0, 0, 0, loc)

	// 22:00-06:00 spans midnight: an event at 01:30 on the fire day falls in
	// the window that started the evening before.
	st.AppendEvent(caracas.ID, schema.EventRecord{
		ID: "night", EventTypeID: "guard-report", LocationID: "L1",
		CreatedAt: time.Date(2024, 1, 11, 1, 30, 0, 0, loc),
	})

	if err := e.Evaluate(ctx, caracas, "r1", mustWindow(t, "22:00", "06:00"), at); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	bodies := make([]string, 0)
	for _, msg := range n.sent() {
		bodies = append(bodies, msg.Body)
	}
	if len(bodies) != 1 || !strings.Contains(bodies[0], "South Gate") {
		t.Errorf("expected only South Gate escalated, got %v", bodies)
	}
}

func TestEvaluateReactive(t *testing.T) {
	e, st, n := newFixture(t)
	ctx := context.Background()

	reactive := guardRule(true)
	reactive.Kind = schema.KindRecurrent
	st.PutRule(caracas.ID, reactive)

	dormant := guardRule(true)
	dormant.ID = "r2"
	dormant.Kind = schema.KindRecurrent
	dormant.EventTypeID = "incident"
	st.PutRule(caracas.ID, dormant)

	event := schema.EventRecord{
		ID: "ev1", EventTypeID: "guard-report", LocationID: "L1", CreatedAt: time.Now(),
	}
	if err := e.EvaluateReactive(ctx, caracas, event); err != nil {
		t.Fatalf("reactive: %v", err)
	}

	sent := n.sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 reactive notice, got %d", len(sent))
	}
	if sent[0].Subject != "Guard Report" || sent[0].Body != "Morning guard report" {
		t.Errorf("unexpected notice: %+v", sent[0])
	}
	if len(sent[0].To) != 3 {
		t.Errorf("reactive notice goes to the whole audience, got %d recipients", len(sent[0].To))
	}
}
