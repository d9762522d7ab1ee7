package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Chat/internal/app"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/core/mocks"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/dkeye/Chat/internal/protocol"
	"go.uber.org/mock/gomock"
)

// recordConn captures outbound frames. With capacity > 0 it behaves like a
// bounded queue and reports backpressure once full.
type recordConn struct {
	mu       sync.Mutex
	frames   []core.Frame
	capacity int
	closed   bool
}

func (c *recordConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.capacity > 0 && len(c.frames) >= c.capacity {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *recordConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *recordConn) received(t *testing.T) []frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]frame, 0, len(c.frames))
	for _, raw := range c.frames {
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("bad outbound frame %s: %v", raw, err)
		}
		out = append(out, f)
	}
	return out
}

type fixture struct {
	orch    *Orchestrator
	store   *mocks.MockMessageStore
	catalog *mocks.MockCatalog
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		store:   mocks.NewMockMessageStore(ctrl),
		catalog: mocks.NewMockCatalog(ctrl),
	}
	f.orch = &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Store:    f.store,
		Catalog:  f.catalog,
		Policy:   app.SimplePolicy{},
	}
	return f
}

func (f *fixture) connect(id domain.UserID, name string) (core.ClientSession, *recordConn) {
	conn := &recordConn{}
	sess := core.NewClientSession(core.SessionID(name+"-sid"), domain.User{ID: id, Username: name}, conn)
	f.orch.Connect(sess, func() {})
	return sess, conn
}

func onlyFrame(t *testing.T, c *recordConn, typ string) frame {
	t.Helper()
	got := c.received(t)
	if len(got) != 1 {
		t.Fatalf("expected exactly one frame, got %d: %+v", len(got), got)
	}
	if got[0].Type != typ {
		t.Fatalf("frame type = %q, want %q (data %s)", got[0].Type, typ, got[0].Data)
	}
	return got[0]
}

func roomPtr(r domain.RoomName) *domain.RoomName { return &r }
func userPtr(u domain.UserID) *domain.UserID     { return &u }

func TestJoinIsIdempotentAndAcked(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.connect(1, "alice")

	f.orch.Join(alice, "general")
	f.orch.Join(alice, "general")

	room, ok := f.orch.Rooms.Get("general")
	if !ok {
		t.Fatal("room not created on join")
	}
	if got := room.Members(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("members = %v, want [1]", got)
	}
	frames := conn.received(t)
	if len(frames) != 2 {
		t.Fatalf("want two join_ack frames, got %d", len(frames))
	}
	var ack protocol.JoinAck
	_ = json.Unmarshal(frames[1].Data, &ack)
	if frames[1].Type != protocol.TypeJoinAck || ack.Room != "general" || ack.Status != "ok" {
		t.Fatalf("unexpected ack %+v", frames[1])
	}
}

func TestJoinRejectsEmptyRoomName(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.connect(1, "alice")

	f.orch.Join(alice, "")

	onlyFrame(t, conn, protocol.TypeError)
	if len(f.orch.Rooms.List()) != 0 {
		t.Fatal("no room should be created")
	}
}

func TestRoomMessageFanOut(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.connect(1, "alice")
	bob, bobConn := f.connect(2, "bob")
	_, carolConn := f.connect(3, "carol")

	f.orch.Join(alice, "general")
	f.orch.Join(bob, "general")
	aliceConn.frames, bobConn.frames = nil, nil

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	stored := domain.Message{ID: 77, FromUser: 1, Room: roomPtr("general"), Content: "hi", Timestamp: ts}
	gomock.InOrder(
		f.catalog.EXPECT().RoomExists(gomock.Any(), domain.RoomName("general")).Return(true, nil),
		f.store.EXPECT().InsertRoomMessage(gomock.Any(), domain.UserID(1), domain.RoomName("general"), "hi").Return(stored, nil),
	)

	f.orch.SendRoomMessage(context.Background(), alice, "general", "hi")

	got := bobConn.received(t)
	if len(got) != 1 || got[0].Type != protocol.TypeMessage {
		t.Fatalf("bob frames = %+v", got)
	}
	var rb protocol.RoomBroadcast
	if err := json.Unmarshal(got[0].Data, &rb); err != nil {
		t.Fatal(err)
	}
	if rb.ID != 77 || !rb.Timestamp.Equal(ts) || rb.FromUser != 1 || rb.Username != "alice" || rb.Content != "hi" || rb.Room != "general" {
		t.Fatalf("broadcast payload = %+v", rb)
	}

	aliceFrames := aliceConn.received(t)
	if len(aliceFrames) != 2 || aliceFrames[0].Type != protocol.TypeMessage || aliceFrames[1].Type != protocol.TypeMessageSent {
		t.Fatalf("alice frames = %+v", aliceFrames)
	}
	var sent protocol.MessageSent
	_ = json.Unmarshal(aliceFrames[1].Data, &sent)
	if sent.Room != "general" || sent.Status != "ok" {
		t.Fatalf("message_sent = %+v", sent)
	}

	if n := len(carolConn.received(t)); n != 0 {
		t.Fatalf("non-member received %d frames", n)
	}
}

func TestRoomMessageToUnknownRoomIsNotPersisted(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.connect(1, "alice")
	f.catalog.EXPECT().RoomExists(gomock.Any(), domain.RoomName("nowhere")).Return(false, nil)
	// No InsertRoomMessage expectation: any call fails the test.

	f.orch.SendRoomMessage(context.Background(), alice, "nowhere", "hello?")

	onlyFrame(t, conn, protocol.TypeError)
}

func TestRoomExistenceUsesCatalogNotMembership(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.connect(1, "alice")
	f.orch.Join(alice, "ghost")
	conn.frames = nil

	f.catalog.EXPECT().RoomExists(gomock.Any(), domain.RoomName("ghost")).Return(false, nil)

	f.orch.SendRoomMessage(context.Background(), alice, "ghost", "boo")

	onlyFrame(t, conn, protocol.TypeError)
}

func TestRoomMessageToEmptyButExistingRoom(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.connect(1, "alice")
	f.catalog.EXPECT().RoomExists(gomock.Any(), domain.RoomName("quiet")).Return(true, nil)
	f.store.EXPECT().InsertRoomMessage(gomock.Any(), domain.UserID(1), domain.RoomName("quiet"), "anyone?").
		Return(domain.Message{ID: 1, FromUser: 1, Room: roomPtr("quiet"), Content: "anyone?"}, nil)

	f.orch.SendRoomMessage(context.Background(), alice, "quiet", "anyone?")

	onlyFrame(t, conn, protocol.TypeMessageSent)
}

func TestPersistenceFailureReportsErrorWithoutFanOut(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.connect(1, "alice")
	bob, bobConn := f.connect(2, "bob")
	f.orch.Join(alice, "general")
	f.orch.Join(bob, "general")
	aliceConn.frames, bobConn.frames = nil, nil

	f.catalog.EXPECT().RoomExists(gomock.Any(), gomock.Any()).Return(true, nil)
	f.store.EXPECT().InsertRoomMessage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(domain.Message{}, errors.New("connection refused"))

	f.orch.SendRoomMessage(context.Background(), alice, "general", "hi")

	onlyFrame(t, aliceConn, protocol.TypeError)
	if n := len(bobConn.received(t)); n != 0 {
		t.Fatalf("bob received %d frames after failed insert", n)
	}
}

func TestCatalogFailureReportsError(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.connect(1, "alice")
	f.catalog.EXPECT().UserExists(gomock.Any(), domain.UserID(2)).Return(false, errors.New("timeout"))

	f.orch.SendDirectMessage(context.Background(), alice, 2, "hi")

	onlyFrame(t, conn, protocol.TypeError)
}

func TestBlankContentIsRejectedBeforeLookup(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.connect(1, "alice")
	f.orch.Limits = Limits{MaxContentLen: 5}

	f.orch.SendRoomMessage(context.Background(), alice, "general", "   ")
	f.orch.SendDirectMessage(context.Background(), alice, 2, "way too long")

	frames := conn.received(t)
	if len(frames) != 2 || frames[0].Type != protocol.TypeError || frames[1].Type != protocol.TypeError {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestDirectMessageDeliveredOnlyToRecipient(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.connect(1, "alice")
	bob, bobConn := f.connect(2, "bob")
	_, carolConn := f.connect(3, "carol")
	f.orch.Join(bob, "general")
	f.orch.Join(alice, "general")
	aliceConn.frames, bobConn.frames = nil, nil

	ts := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	f.catalog.EXPECT().UserExists(gomock.Any(), domain.UserID(2)).Return(true, nil)
	f.store.EXPECT().InsertDirectMessage(gomock.Any(), domain.UserID(1), domain.UserID(2), "psst").
		Return(domain.Message{ID: 9, FromUser: 1, ToUser: userPtr(2), Content: "psst", Timestamp: ts}, nil)

	f.orch.SendDirectMessage(context.Background(), alice, 2, "psst")

	dm := onlyFrame(t, bobConn, protocol.TypeDM)
	var dd protocol.DirectDelivery
	_ = json.Unmarshal(dm.Data, &dd)
	if dd.ID != 9 || !dd.Timestamp.Equal(ts) || dd.FromUser != 1 || dd.Username != "alice" || dd.Content != "psst" {
		t.Fatalf("dm payload = %+v", dd)
	}

	ack := onlyFrame(t, aliceConn, protocol.TypeDMSent)
	var sent protocol.DMSent
	_ = json.Unmarshal(ack.Data, &sent)
	if sent.To != 2 || sent.Status != "ok" {
		t.Fatalf("dm_sent = %+v", sent)
	}
	if n := len(carolConn.received(t)); n != 0 {
		t.Fatalf("carol received %d frames", n)
	}
}

func TestDirectMessageToOfflineUserIsStillAcked(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.connect(1, "alice")
	f.catalog.EXPECT().UserExists(gomock.Any(), domain.UserID(5)).Return(true, nil)
	f.store.EXPECT().InsertDirectMessage(gomock.Any(), domain.UserID(1), domain.UserID(5), "later").
		Return(domain.Message{ID: 3, FromUser: 1, ToUser: userPtr(5), Content: "later"}, nil)

	f.orch.SendDirectMessage(context.Background(), alice, 5, "later")

	onlyFrame(t, conn, protocol.TypeDMSent)
}

func TestDirectMessageToUnknownUser(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.connect(1, "alice")
	f.catalog.EXPECT().UserExists(gomock.Any(), domain.UserID(999)).Return(false, nil)

	f.orch.SendDirectMessage(context.Background(), alice, 999, "hello")

	e := onlyFrame(t, conn, protocol.TypeError)
	var msg protocol.Error
	_ = json.Unmarshal(e.Data, &msg)
	if msg.Message == "" {
		t.Fatal("error frame without message")
	}
}

func TestDisconnectedMemberIsSkipped(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.connect(1, "alice")
	bob, bobConn := f.connect(2, "bob")
	f.orch.Join(alice, "general")
	f.orch.Join(bob, "general")
	aliceConn.frames, bobConn.frames = nil, nil

	f.orch.Disconnect(bob)

	f.catalog.EXPECT().RoomExists(gomock.Any(), gomock.Any()).Return(true, nil)
	f.store.EXPECT().InsertRoomMessage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(domain.Message{ID: 1, FromUser: 1, Room: roomPtr("general"), Content: "bye"}, nil)

	f.orch.SendRoomMessage(context.Background(), alice, "general", "bye")

	if n := len(bobConn.received(t)); n != 0 {
		t.Fatalf("disconnected bob received %d frames", n)
	}
	frames := aliceConn.received(t)
	if len(frames) != 2 || frames[1].Type != protocol.TypeMessageSent {
		t.Fatalf("alice frames = %+v", frames)
	}
}

func TestSlowConsumerIsKickedWithoutBlocking(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.connect(1, "alice")

	slow := &recordConn{capacity: 1}
	slowSess := core.NewClientSession("slow-sid", domain.User{ID: 2, Username: "slow"}, slow)
	canceled := make(chan struct{})
	f.orch.Connect(slowSess, func() { close(canceled) })

	f.orch.Join(alice, "general")
	f.orch.Join(slowSess, "general") // fills the slow queue with join_ack

	f.catalog.EXPECT().RoomExists(gomock.Any(), gomock.Any()).Return(true, nil)
	f.store.EXPECT().InsertRoomMessage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(domain.Message{ID: 1, FromUser: 1, Room: roomPtr("general"), Content: "hi"}, nil)

	f.orch.SendRoomMessage(context.Background(), alice, "general", "hi")

	select {
	case <-canceled:
	default:
		t.Fatal("slow consumer session was not canceled")
	}
	if !slow.closed {
		t.Fatal("slow consumer connection was not closed")
	}
}

func TestKickOfDisplacedSessionSparesReplacement(t *testing.T) {
	f := newFixture(t)
	old := &recordConn{capacity: 1}
	oldSess := core.NewClientSession("old-sid", domain.User{ID: 2, Username: "bob"}, old)
	f.orch.Connect(oldSess, func() {})
	f.orch.Join(oldSess, "a") // fills the old queue

	fresh := &recordConn{}
	f.orch.Connect(core.NewClientSession("new-sid", domain.User{ID: 2, Username: "bob"}, fresh),
		func() { t.Error("replacement session canceled by a kick aimed at the old one") })

	f.orch.Join(oldSess, "b")

	if !old.closed {
		t.Fatal("overflowing session was not closed")
	}
	if fresh.closed {
		t.Fatal("replacement connection closed")
	}
	if cur, ok := f.orch.Registry.Get(2); !ok || cur.ID() != "new-sid" {
		t.Fatalf("registry entry = %v, %v", cur, ok)
	}
}

func TestDropPolicyKeepsSlowConsumer(t *testing.T) {
	f := newFixture(t)
	f.orch.Policy = app.DropPolicy{}
	slow := &recordConn{capacity: 1}
	sess := core.NewClientSession("s", domain.User{ID: 2, Username: "slow"}, slow)
	f.orch.Connect(sess, func() { t.Error("drop policy must not cancel") })

	f.orch.Join(sess, "a")
	f.orch.Join(sess, "b")

	if slow.closed {
		t.Fatal("drop policy closed the connection")
	}
}

func TestHistoryLimits(t *testing.T) {
	zero, small, huge := 0, 3, 10_000
	cases := []struct {
		name  string
		limit *int
		want  int
	}{
		{"absent", nil, 50},
		{"zero", &zero, 50},
		{"explicit", &small, 3},
		{"capped", &huge, 200},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			alice, conn := f.connect(1, "alice")
			f.catalog.EXPECT().RoomExists(gomock.Any(), domain.RoomName("general")).Return(true, nil)
			f.store.EXPECT().RoomHistory(gomock.Any(), domain.RoomName("general"), tc.want).Return(nil, nil)

			f.orch.RoomHistory(context.Background(), alice, "general", tc.limit)

			onlyFrame(t, conn, protocol.TypeRoomHistory)
		})
	}
}

func TestRoomHistoryIsSentOnlyToCaller(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.connect(1, "alice")
	bob, bobConn := f.connect(2, "bob")
	f.orch.Join(alice, "general")
	f.orch.Join(bob, "general")
	aliceConn.frames, bobConn.frames = nil, nil

	entries := []domain.HistoryEntry{
		{ID: 1, FromUser: 2, Username: "bob", Content: "first", Room: roomPtr("general")},
		{ID: 2, FromUser: 1, Username: "alice", Content: "second", Room: roomPtr("general")},
	}
	f.catalog.EXPECT().RoomExists(gomock.Any(), gomock.Any()).Return(true, nil)
	f.store.EXPECT().RoomHistory(gomock.Any(), domain.RoomName("general"), 50).Return(entries, nil)

	f.orch.RoomHistory(context.Background(), alice, "general", nil)

	h := onlyFrame(t, aliceConn, protocol.TypeRoomHistory)
	var items []protocol.HistoryItem
	if err := json.Unmarshal(h.Data, &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].ID != 1 || items[1].Content != "second" {
		t.Fatalf("history = %+v", items)
	}
	if n := len(bobConn.received(t)); n != 0 {
		t.Fatalf("history leaked to bob: %d frames", n)
	}
}

func TestRoomHistoryUnknownRoom(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.connect(1, "alice")
	f.catalog.EXPECT().RoomExists(gomock.Any(), gomock.Any()).Return(false, nil)

	f.orch.RoomHistory(context.Background(), alice, "nope", nil)

	onlyFrame(t, conn, protocol.TypeError)
}

func TestDmHistory(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.connect(1, "alice")
	five := 5
	f.catalog.EXPECT().UserExists(gomock.Any(), domain.UserID(2)).Return(true, nil)
	f.store.EXPECT().DirectHistory(gomock.Any(), domain.UserID(1), domain.UserID(2), 5).
		Return([]domain.HistoryEntry{{ID: 4, FromUser: 2, Username: "bob", Content: "yo"}}, nil)

	f.orch.DmHistory(context.Background(), alice, 2, &five)

	h := onlyFrame(t, conn, protocol.TypeDMHistory)
	var items []protocol.HistoryItem
	_ = json.Unmarshal(h.Data, &items)
	if len(items) != 1 || items[0].FromUser != 2 || items[0].Username != "bob" {
		t.Fatalf("dm history = %+v", items)
	}
}

func TestDmHistoryStoreFailure(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.connect(1, "alice")
	f.catalog.EXPECT().UserExists(gomock.Any(), gomock.Any()).Return(true, nil)
	f.store.EXPECT().DirectHistory(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("db down"))

	f.orch.DmHistory(context.Background(), alice, 2, nil)

	onlyFrame(t, conn, protocol.TypeError)
}

func TestPublishesPersistedMessage(t *testing.T) {
	f := newFixture(t)
	events := mocks.NewMockEventPublisher(gomock.NewController(t))
	f.orch.Events = events
	alice, _ := f.connect(1, "alice")

	stored := domain.Message{ID: 5, FromUser: 1, ToUser: userPtr(2), Content: "x"}
	f.catalog.EXPECT().UserExists(gomock.Any(), gomock.Any()).Return(true, nil)
	f.store.EXPECT().InsertDirectMessage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(stored, nil)
	events.EXPECT().PublishMessage(gomock.Any(), stored, "alice").Return(errors.New("bus down"))

	f.orch.SendDirectMessage(context.Background(), alice, 2, "x")
}

func TestHandleDispatch(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.connect(1, "alice")

	in, err := protocol.Decode([]byte(`{"type":"join","room":"general"}`))
	if err != nil {
		t.Fatal(err)
	}
	f.orch.Handle(context.Background(), alice, in)

	onlyFrame(t, conn, protocol.TypeJoinAck)
}

func TestStoreTimeoutIsApplied(t *testing.T) {
	f := newFixture(t)
	f.orch.Limits.StoreTimeout = time.Second
	alice, _ := f.connect(1, "alice")
	f.catalog.EXPECT().UserExists(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ domain.UserID) (bool, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("store context has no deadline")
		}
		return false, nil
	})

	f.orch.SendDirectMessage(context.Background(), alice, 2, "x")
}
