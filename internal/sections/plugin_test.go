package sections

import (
	"encoding/json"
	"reflect"
	"sync"
	"testing"

	"github.com/deskbridge/deskbridge-gateway/pkg/sdk"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type sent struct {
	method string
	params *sdk.Object
}

type recordingConn struct {
	mu   sync.Mutex
	sent []sent
}

func (c *recordingConn) Send(method string, params *sdk.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{method: method, params: params})
}

func (c *recordingConn) messages() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sent(nil), c.sent...)
}

type fakeSource struct {
	listener Listener
	sets     int
}

func (s *fakeSource) SetListener(l Listener) {
	s.listener = l
	s.sets++
}

func sampleEvent() ChangesetEvent {
	return ChangesetEvent{
		Name:          "layout",
		IsAsync:       true,
		SurfaceID:     "s1",
		ID:            "42",
		Tree:          sdk.Array{},
		ChangesetData: sdk.NewObject(),
	}
}

func mustGet(t *testing.T, o *sdk.Object, key string) any {
	t.Helper()
	v, ok := o.Get(key)
	if !ok {
		t.Fatalf("missing key %q in %v", key, o.Keys())
	}
	return v
}

func TestDisconnectedDropsEvents(t *testing.T) {
	src := &fakeSource{}
	p := New(src)

	// never connected
	p.OnChangesetApplied(sampleEvent())
	if p.Connected() {
		t.Fatalf("plugin should start disconnected")
	}
	if src.listener != nil {
		t.Fatalf("listener registered before connect")
	}
}

func TestConnectRegistersListener(t *testing.T) {
	src := &fakeSource{}
	p := New(src)
	if err := p.OnConnect(&recordingConn{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if src.listener != p {
		t.Fatalf("plugin is not the source listener")
	}
	if !p.Connected() {
		t.Fatalf("expected connected")
	}
}

func TestChangesetProducesFourMessagesInOrder(t *testing.T) {
	src := &fakeSource{}
	p := New(src)
	conn := &recordingConn{}
	if err := p.OnConnect(conn); err != nil {
		t.Fatalf("connect: %v", err)
	}

	src.listener.OnChangesetApplied(sampleEvent())

	msgs := conn.messages()
	wantMethods := []string{
		MethodAddEvent,
		MethodHierarchyGeneration,
		MethodChangesetGeneration,
		MethodChangesetApplication,
	}
	if len(msgs) != len(wantMethods) {
		t.Fatalf("sent %d messages, want %d", len(msgs), len(wantMethods))
	}
	for i, m := range msgs {
		if m.method != wantMethods[i] {
			t.Fatalf("message %d method = %q, want %q", i, m.method, wantMethods[i])
		}
	}

	add := msgs[0].params
	if got := mustGet(t, add, "update_mode"); got != 0 {
		t.Fatalf("update_mode = %v, want 0 for async", got)
	}
	if got := mustGet(t, add, "reason"); got != "layout" {
		t.Fatalf("reason = %v", got)
	}
	if got := mustGet(t, add, "surface_key"); got != "s1" {
		t.Fatalf("surface_key = %v", got)
	}

	for i, key := range []string{"id", "id", "identifier", "identifier"} {
		if got := mustGet(t, msgs[i].params, key); got != GenerationID("42") {
			t.Fatalf("message %d %s = %#v", i, key, got)
		}
	}
}

func TestAddEventWireShape(t *testing.T) {
	src := &fakeSource{}
	p := New(src)
	conn := &recordingConn{}
	_ = p.OnConnect(conn)

	ev := sampleEvent()
	ev.IsAsync = false
	p.OnChangesetApplied(ev)

	b, err := json.Marshal(conn.messages()[0].params)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":"42","update_mode":1,"reason":"layout","surface_key":"s1",` +
		`"tree_generation_timestamp":10000,"stack_trace":[],"payload":{}}`
	if string(b) != want {
		t.Fatalf("addEvent = %s\nwant      %s", b, want)
	}
}

func TestUpdateModeFollowsAsyncFlag(t *testing.T) {
	for _, tc := range []struct {
		async bool
		want  int
	}{
		{async: false, want: 1},
		{async: true, want: 0},
	} {
		src := &fakeSource{}
		p := New(src)
		conn := &recordingConn{}
		_ = p.OnConnect(conn)

		ev := sampleEvent()
		ev.IsAsync = tc.async
		p.OnChangesetApplied(ev)

		if got := mustGet(t, conn.messages()[0].params, "update_mode"); got != tc.want {
			t.Fatalf("async=%v: update_mode = %v, want %d", tc.async, got, tc.want)
		}
	}
}

func TestTreeGenerationIDTypes(t *testing.T) {
	src := &fakeSource{}
	p := New(src)
	conn := &recordingConn{}
	_ = p.OnConnect(conn)
	p.OnChangesetApplied(sampleEvent())

	msgs := conn.messages()
	gen := mustGet(t, msgs[2].params, "tree_generation_id")
	if s, ok := gen.(string); !ok || s != "42" {
		t.Fatalf("generation tree_generation_id = %#v, want plain string", gen)
	}
	app := mustGet(t, msgs[3].params, "tree_generation_id")
	if id, ok := app.(GenerationID); !ok || id != "42" {
		t.Fatalf("application tree_generation_id = %#v, want GenerationID", app)
	}
}

func TestTreeAndChangesetPassThrough(t *testing.T) {
	src := &fakeSource{}
	p := New(src)
	conn := &recordingConn{}
	_ = p.OnConnect(conn)

	tree := sdk.Array{sdk.NewObject().Put("name", "root"), sdk.NewObject().Put("name", "child")}
	data := sdk.NewObject().Put("inserted", 2)
	ev := sampleEvent()
	ev.Tree = tree
	ev.ChangesetData = data
	p.OnChangesetApplied(ev)

	msgs := conn.messages()
	if got := mustGet(t, msgs[1].params, "tree"); !reflect.DeepEqual(got, tree) {
		t.Fatalf("tree = %#v", got)
	}
	for _, i := range []int{2, 3} {
		if got := mustGet(t, msgs[i].params, "changeset"); got != data {
			t.Fatalf("message %d changeset not passed through", i)
		}
	}
	if got := mustGet(t, msgs[2].params, "type"); got != "CHANGESET_GENERATED" {
		t.Fatalf("type = %v", got)
	}
	if got := mustGet(t, msgs[3].params, "type"); got != "CHANGESET_APPLIED" {
		t.Fatalf("type = %v", got)
	}
}

func TestDisconnectStopsSends(t *testing.T) {
	src := &fakeSource{}
	p := New(src)
	conn := &recordingConn{}
	_ = p.OnConnect(conn)

	ev := sampleEvent()
	p.OnChangesetApplied(ev)
	if err := p.OnDisconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	p.OnChangesetApplied(ev)

	if n := len(conn.messages()); n != 4 {
		t.Fatalf("sent %d messages, want 4 (none after disconnect)", n)
	}
}

func TestReconnectUsesNewConnection(t *testing.T) {
	src := &fakeSource{}
	p := New(src)
	first, second := &recordingConn{}, &recordingConn{}
	_ = p.OnConnect(first)
	_ = p.OnDisconnect()
	_ = p.OnConnect(second)

	p.OnChangesetApplied(sampleEvent())

	if len(first.messages()) != 0 {
		t.Fatalf("stale connection received messages")
	}
	if len(second.messages()) != 4 {
		t.Fatalf("new connection got %d messages", len(second.messages()))
	}
	if src.sets != 2 {
		t.Fatalf("SetListener called %d times, want 2", src.sets)
	}
}

func TestPluginIdentity(t *testing.T) {
	p := New(&fakeSource{})
	if p.ID() != "Sections" {
		t.Fatalf("id = %q", p.ID())
	}
	if p.RunInBackground() {
		t.Fatalf("sections should not run in background")
	}
}

func wireJSON(t *testing.T, msgs []sent) []string {
	t.Helper()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		b, err := json.Marshal(m.params)
		if err != nil {
			t.Fatalf("marshal message %d: %v", i, err)
		}
		out[i] = string(b)
	}
	return out
}

func TestGenerationMessagesWireShape(t *testing.T) {
	src := &fakeSource{}
	p := New(src)
	conn := &recordingConn{}
	_ = p.OnConnect(conn)

	ev := sampleEvent()
	ev.Tree = sdk.Array{sdk.NewObject().Put("name", "root")}
	ev.ChangesetData = sdk.NewObject().Put("inserted", 1)
	p.OnChangesetApplied(ev)

	got := wireJSON(t, conn.messages())
	want := []string{
		1: `{"id":"42","hierarchy_generation_timestamp":10000,"hierarchy_generation_duration":0,` +
			`"tree":[{"name":"root"}],"reason":"layout"}`,
		2: `{"type":"CHANGESET_GENERATED","identifier":"42","tree_generation_id":"42",` +
			`"timestamp":10000,"duration":0,"changeset":{"inserted":1}}`,
		3: `{"type":"CHANGESET_APPLIED","identifier":"42","tree_generation_id":"42",` +
			`"timestamp":10000,"duration":0,"changeset":{"inserted":1}}`,
	}
	for i := 1; i < len(want); i++ {
		if got[i] != want[i] {
			t.Fatalf("message %d = %s\nwant        %s", i, got[i], want[i])
		}
	}
}

func TestZeroValueEventSendsEmptyRecords(t *testing.T) {
	src := &fakeSource{}
	p := New(src)
	conn := &recordingConn{}
	_ = p.OnConnect(conn)

	p.OnChangesetApplied(ChangesetEvent{})

	got := wireJSON(t, conn.messages())
	if len(got) != 4 {
		t.Fatalf("sent %d messages, want 4", len(got))
	}
	want := []string{
		`{"id":"","update_mode":1,"reason":"","surface_key":"","tree_generation_timestamp":10000,"stack_trace":[],"payload":{}}`,
		`{"id":"","hierarchy_generation_timestamp":10000,"hierarchy_generation_duration":0,"tree":[],"reason":""}`,
		`{"type":"CHANGESET_GENERATED","identifier":"","tree_generation_id":"","timestamp":10000,"duration":0,"changeset":{}}`,
		`{"type":"CHANGESET_APPLIED","identifier":"","tree_generation_id":"","timestamp":10000,"duration":0,"changeset":{}}`,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d = %s\nwant        %s", i, got[i], want[i])
		}
	}
}

type stubContext struct{ log *zap.Logger }

func (c stubContext) Log() *zap.Logger       { return c.log }
func (c stubContext) Bus() sdk.Bus           { return nil }
func (c stubContext) Config() map[string]any { return nil }

func TestLoggerPrecedence(t *testing.T) {
	hostCore, hostLogs := observer.New(zapcore.DebugLevel)
	ownCore, ownLogs := observer.New(zapcore.DebugLevel)

	explicit := New(&fakeSource{}, WithLogger(zap.New(ownCore)))
	_ = explicit.Init(stubContext{log: zap.New(hostCore)})
	_ = explicit.OnConnect(&recordingConn{})
	if ownLogs.Len() != 1 || hostLogs.Len() != 0 {
		t.Fatalf("explicit logger: own=%d host=%d", ownLogs.Len(), hostLogs.Len())
	}

	hosted := New(&fakeSource{})
	_ = hosted.Init(stubContext{log: zap.New(hostCore)})
	_ = hosted.OnConnect(&recordingConn{})
	if hostLogs.Len() != 1 {
		t.Fatalf("host logger not used, host=%d", hostLogs.Len())
	}
}
