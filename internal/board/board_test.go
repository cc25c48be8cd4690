package board

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"veriline/internal/domain"
	"veriline/internal/machine"
)

const boardProcess = `{"initial":"incoming_data","states":{` +
	`"incoming_data":{"on":{"TO_GEOLOCATION":"geolocation","TO_DISCARDED_DATA":"discarded_data"}},` +
	`"geolocation":{"on":{"TO_VERIFIED_DATA":"verified_data","TO_DISCARDED_DATA":"discarded_data"},` +
	`"meta":{"annotations":[` +
	`{"key":"lat","name":"Latitude","kind":"string","required":true},` +
	`{"key":"confidence","name":"Confidence","kind":"selection","selections":["low","high"]}]}},` +
	`"discarded_data":{"on":{}},` +
	`"verified_data":{"on":{}}}}`

// fakeStore is an in-memory store.Store for engine tests.
type fakeStore struct {
	mu          sync.Mutex
	units       map[string][]domain.VerificationUnit
	failColumns map[string]bool
	putErr      error
	putErrLeft  int
	puts        []putCall
	annotations map[int][]domain.Annotation
	annErr      error
}

type putCall struct {
	unitID   int
	snapshot string
}

func (f *fakeStore) Methodology(ctx context.Context, workspace, slug string) (domain.Methodology, error) {
	return domain.Methodology{Slug: slug, Process: boardProcess}, nil
}

func (f *fakeStore) SegmentUnits(ctx context.Context, workspace, investigation, segment, state string) ([]domain.VerificationUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failColumns[state] {
		return nil, errors.New("store unavailable")
	}
	return f.units[state], nil
}

func (f *fakeStore) PutUnitState(ctx context.Context, workspace, investigation, segment string, unitID int, snapshot string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, putCall{unitID: unitID, snapshot: snapshot})
	if f.putErrLeft > 0 {
		f.putErrLeft--
		return f.putErr
	}
	if f.putErrLeft < 0 {
		return f.putErr
	}
	return nil
}

func (f *fakeStore) Annotations(ctx context.Context, workspace, investigation string, verificationID int) ([]domain.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.annErr != nil {
		return nil, f.annErr
	}
	return f.annotations[verificationID], nil
}

func (f *fakeStore) PutAnnotation(ctx context.Context, workspace, investigation string, verificationID int, a domain.Annotation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.annotations == nil {
		f.annotations = map[int][]domain.Annotation{}
	}
	for i, existing := range f.annotations[verificationID] {
		if existing.Key == a.Key {
			f.annotations[verificationID][i] = a
			return nil
		}
	}
	f.annotations[verificationID] = append(f.annotations[verificationID], a)
	return nil
}

func (f *fakeStore) UnitsByIDs(ctx context.Context, workspace string, ids []int) ([]domain.FullUnit, error) {
	return nil, nil
}

func (f *fakeStore) putCalls() []putCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]putCall(nil), f.puts...)
}

func testDef(t *testing.T) *machine.Definition {
	t.Helper()
	def, err := machine.Parse(boardProcess)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return def
}

func unitIDs(units []domain.VerificationUnit) []int {
	ids := make([]int, 0, len(units))
	for _, u := range units {
		ids = append(ids, u.ID)
	}
	return ids
}

func TestSeedIsolatesColumnFailure(t *testing.T) {
	def := testDef(t)
	st := &fakeStore{
		units: map[string][]domain.VerificationUnit{
			"incoming_data": {{ID: 1}, {ID: 2}},
			"geolocation":   {{ID: 3, State: `{"value":"geolocation"}`}},
		},
		failColumns: map[string]bool{"verified_data": true},
	}
	b := NewBoard(def.Columns())
	b.Seed(context.Background(), st, "ws", "inv", "seg", zerolog.Nop())

	if got := unitIDs(b.Units("incoming_data")); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("incoming_data = %v", got)
	}
	if got := unitIDs(b.Units("geolocation")); !reflect.DeepEqual(got, []int{3}) {
		t.Fatalf("geolocation = %v", got)
	}
	// The failed column renders empty instead of poisoning the seed.
	if got := b.Units("verified_data"); len(got) != 0 {
		t.Fatalf("verified_data = %v, want empty", got)
	}
}

func TestMoveKeepsPartition(t *testing.T) {
	b := NewBoard([]string{"a", "b"})
	b.columns["a"] = []domain.VerificationUnit{{ID: 1}, {ID: 2}, {ID: 3}}
	b.columns["b"] = []domain.VerificationUnit{{ID: 4}}

	moved := domain.VerificationUnit{ID: 2, State: `{"value":"b"}`}
	b.Move(moved, "a", "b", 0)

	if got := unitIDs(b.Units("a")); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Fatalf("source after move = %v", got)
	}
	if got := unitIDs(b.Units("b")); !reflect.DeepEqual(got, []int{2, 4}) {
		t.Fatalf("destination after move = %v", got)
	}
	if u, col, ok := b.Find(2); !ok || col != "b" || u.State != moved.State {
		t.Fatalf("Find(2) = %+v %q %v", u, col, ok)
	}
}

func TestMoveClampsIndex(t *testing.T) {
	b := NewBoard([]string{"a", "b"})
	b.columns["a"] = []domain.VerificationUnit{{ID: 1}}
	b.Move(domain.VerificationUnit{ID: 1}, "a", "b", 99)
	if got := unitIDs(b.Units("b")); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("b = %v", got)
	}
	b.Move(domain.VerificationUnit{ID: 1}, "b", "a", -5)
	if got := unitIDs(b.Units("a")); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("a = %v", got)
	}
}

func newTestController(t *testing.T, st *fakeStore) (*Controller, *Board) {
	t.Helper()
	def := testDef(t)
	b := NewBoard(def.Columns())
	b.Seed(context.Background(), st, "ws", "inv", "seg", zerolog.Nop())
	q := NewWriteQueue(st, "ws", "inv", "seg", zerolog.Nop())
	t.Cleanup(q.Close)
	return &Controller{Board: b, Def: def, Writes: q, Log: zerolog.Nop()}, b
}

func TestDragStartComputesAllowed(t *testing.T) {
	st := &fakeStore{units: map[string][]domain.VerificationUnit{
		"incoming_data": {{ID: 1}},
	}}
	c, _ := newTestController(t, st)

	allowed := c.DragStart(1, "incoming_data")
	want := []string{"geolocation", "discarded_data"}
	if !reflect.DeepEqual(allowed, want) {
		t.Fatalf("allowed = %v, want %v", allowed, want)
	}
	if !reflect.DeepEqual(c.Allowed(), want) {
		t.Fatalf("Allowed() = %v, want %v", c.Allowed(), want)
	}
}

func TestDragEndAppliesLegalMove(t *testing.T) {
	st := &fakeStore{units: map[string][]domain.VerificationUnit{
		"incoming_data": {{ID: 1}},
	}}
	c, b := newTestController(t, st)

	c.DragStart(1, "incoming_data")
	if !c.DragEnd("geolocation", 0) {
		t.Fatalf("legal drop not applied")
	}
	u, col, ok := b.Find(1)
	if !ok || col != "geolocation" {
		t.Fatalf("unit after drop in %q", col)
	}
	if u.State != `{"value":"geolocation"}` {
		t.Fatalf("state after drop = %s", u.State)
	}
	if c.Allowed() != nil {
		t.Fatalf("allowed not cleared after drop")
	}

	c.Writes.Flush()
	puts := st.putCalls()
	if len(puts) != 1 || puts[0].unitID != 1 || puts[0].snapshot != u.State {
		t.Fatalf("writes = %+v", puts)
	}
}

func TestDragEndIllegalDropIsNoOp(t *testing.T) {
	st := &fakeStore{units: map[string][]domain.VerificationUnit{
		"incoming_data": {{ID: 1}},
	}}
	c, b := newTestController(t, st)

	c.DragStart(1, "incoming_data")
	// incoming_data has no TO_VERIFIED_DATA edge.
	if c.DragEnd("verified_data", 0) {
		t.Fatalf("illegal drop applied")
	}
	if _, col, _ := b.Find(1); col != "incoming_data" {
		t.Fatalf("unit moved to %q on illegal drop", col)
	}
	if c.Allowed() != nil {
		t.Fatalf("allowed not cleared after illegal drop")
	}
	c.Writes.Flush()
	if puts := st.putCalls(); len(puts) != 0 {
		t.Fatalf("illegal drop dispatched writes: %+v", puts)
	}
}

func TestDragEndUnknownColumn(t *testing.T) {
	st := &fakeStore{units: map[string][]domain.VerificationUnit{
		"incoming_data": {{ID: 1}},
	}}
	c, _ := newTestController(t, st)
	c.DragStart(1, "incoming_data")
	if c.DragEnd("nowhere", 0) {
		t.Fatalf("drop onto unknown column applied")
	}
	if c.DragEnd("geolocation", 0) {
		t.Fatalf("drop applied with no drag in progress")
	}
}

func TestWriteQueueCoalesces(t *testing.T) {
	st := &fakeStore{}
	q := &WriteQueue{
		st: st, workspace: "ws", investigation: "inv", segment: "seg",
		log: zerolog.Nop(), attempts: 1, backoff: time.Millisecond,
		pending: make(map[int]string),
	}
	q.cond = sync.NewCond(&q.mu)

	// Enqueue before the worker starts so both snapshots land in the same
	// pending slot; only the newest survives.
	q.Enqueue(7, `{"value":"geolocation"}`)
	q.Enqueue(7, `{"value":"verified_data"}`)
	go q.run()
	q.Close()

	puts := st.putCalls()
	if len(puts) != 1 || puts[0].snapshot != `{"value":"verified_data"}` {
		t.Fatalf("writes = %+v, want single coalesced write", puts)
	}
}

func TestWriteQueueRetriesThenSucceeds(t *testing.T) {
	st := &fakeStore{putErr: errors.New("flaky"), putErrLeft: 2}
	q := &WriteQueue{
		st: st, workspace: "ws", investigation: "inv", segment: "seg",
		log: zerolog.Nop(), attempts: 3, backoff: time.Millisecond,
		pending: make(map[int]string),
	}
	q.cond = sync.NewCond(&q.mu)
	failed := make(chan int, 1)
	q.OnError = func(unitID int, err error) { failed <- unitID }
	go q.run()

	q.Enqueue(7, `{"value":"geolocation"}`)
	q.Close()

	if puts := st.putCalls(); len(puts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(puts))
	}
	select {
	case id := <-failed:
		t.Fatalf("OnError fired on eventual success: unit %d", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWriteQueueSurfacesTerminalFailure(t *testing.T) {
	st := &fakeStore{putErr: errors.New("down"), putErrLeft: -1}
	q := &WriteQueue{
		st: st, workspace: "ws", investigation: "inv", segment: "seg",
		log: zerolog.Nop(), attempts: 2, backoff: time.Millisecond,
		pending: make(map[int]string),
	}
	q.cond = sync.NewCond(&q.mu)
	failed := make(chan int, 1)
	q.OnError = func(unitID int, err error) { failed <- unitID }
	go q.run()

	q.Enqueue(9, `{"value":"geolocation"}`)
	q.Close()

	select {
	case id := <-failed:
		if id != 9 {
			t.Fatalf("failed unit = %d, want 9", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("OnError never fired")
	}
}

func TestAnnotatorOpen(t *testing.T) {
	st := &fakeStore{annotations: map[int][]domain.Annotation{
		5: {{Key: "lat", Name: "Latitude", Value: "48.85"}},
	}}
	a := &Annotator{Store: st, Def: testDef(t), Workspace: "ws", Investigation: "inv"}

	view, err := a.Open(context.Background(), 5, `{"value":"geolocation"}`)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(view.Schema) != 2 || view.Schema[0].Key != "lat" || view.Schema[1].Key != "confidence" {
		t.Fatalf("schema = %+v", view.Schema)
	}
	if len(view.Values) != 1 || view.Values[0].Value != "48.85" {
		t.Fatalf("values = %+v", view.Values)
	}

	// Initial state has no annotation metadata.
	view, err = a.Open(context.Background(), 5, "")
	if err != nil {
		t.Fatalf("open initial: %v", err)
	}
	if len(view.Schema) != 0 {
		t.Fatalf("initial schema = %+v, want empty", view.Schema)
	}
}

func TestAnnotatorSubmit(t *testing.T) {
	st := &fakeStore{}
	a := &Annotator{Store: st, Def: testDef(t), Workspace: "ws", Investigation: "inv"}
	snap := `{"value":"geolocation"}`

	values, err := a.Submit(context.Background(), 5, snap, domain.Annotation{Key: "lat", Value: "48.85"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(values) != 1 || values[0].Name != "Latitude" {
		t.Fatalf("values = %+v, want name filled from schema", values)
	}

	// Key outside the active schema.
	if _, err := a.Submit(context.Background(), 5, snap, domain.Annotation{Key: "ghost", Value: "x"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	// Selection constraint.
	if _, err := a.Submit(context.Background(), 5, snap, domain.Annotation{Key: "confidence", Value: "medium"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if _, err := a.Submit(context.Background(), 5, snap, domain.Annotation{Key: "confidence", Value: "high"}); err != nil {
		t.Fatalf("valid selection rejected: %v", err)
	}
}

func TestValidateValue(t *testing.T) {
	cases := []struct {
		name   string
		schema domain.AnnotationSchema
		value  any
		ok     bool
	}{
		{"required nil", domain.AnnotationSchema{Key: "k", Kind: "string", Required: true}, nil, false},
		{"optional nil", domain.AnnotationSchema{Key: "k", Kind: "string"}, nil, true},
		{"required empty string", domain.AnnotationSchema{Key: "k", Kind: "string", Required: true}, "", false},
		{"string ok", domain.AnnotationSchema{Key: "k", Kind: "string"}, "v", true},
		{"string wrong type", domain.AnnotationSchema{Key: "k", Kind: "string"}, 7, false},
		{"boolean ok", domain.AnnotationSchema{Key: "k", Kind: "boolean"}, true, true},
		{"boolean wrong type", domain.AnnotationSchema{Key: "k", Kind: "boolean"}, "yes", false},
		{"datetime ok", domain.AnnotationSchema{Key: "k", Kind: "datetime"}, "2024-05-01T12:00:00Z", true},
		{"datetime bad", domain.AnnotationSchema{Key: "k", Kind: "datetime"}, "yesterday", false},
		{"unknown kind", domain.AnnotationSchema{Key: "k", Kind: "number"}, 1, false},
	}
	for _, tc := range cases {
		err := ValidateValue(tc.schema, tc.value)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", tc.name, err)
		}
	}
}
