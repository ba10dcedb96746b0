package mailbox

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/eth2030/interchain/access"
	"github.com/eth2030/interchain/core/rawdb"
	"github.com/eth2030/interchain/core/types"
	"github.com/eth2030/interchain/crypto"
	"github.com/eth2030/interchain/ism"
	"github.com/eth2030/interchain/merkle"
	"github.com/eth2030/interchain/message"
	"github.com/eth2030/interchain/metrics"
)

const (
	testLocalDomain  uint32 = 0x6675656c
	testRemoteDomain uint32 = 0x112233c
)

var (
	testOwner     = types.RepeatHash(0x01)
	testAddress   = types.RepeatHash(0x0a)
	testSender    = types.RepeatHash(0xaa)
	testRecipient = types.RepeatHash(0xbb)
	testBody      = bytes.Repeat([]byte{10}, 100)
)

// testISM accepts or rejects every message.
type testISM struct {
	accept bool
	err    error
	calls  int
}

func (m *testISM) ModuleType() ism.ModuleType { return ism.Unused }

func (m *testISM) Verify(metadata []byte, msg *message.Message) (bool, error) {
	m.calls++
	return m.accept, m.err
}

type handled struct {
	origin uint32
	sender types.Hash
	body   []byte
}

type testRecipientImpl struct {
	got    []handled
	err    error
	module ism.InterchainSecurityModule
}

func (r *testRecipientImpl) Handle(origin uint32, sender types.Hash, body []byte) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, handled{origin, sender, bytes.Clone(body)})
	return nil
}

// customRecipient picks its own security module.
type customRecipient struct {
	testRecipientImpl
}

func (r *customRecipient) InterchainSecurityModule() ism.InterchainSecurityModule {
	return r.module
}

func testConfig() Config {
	c := DefaultConfig()
	c.LocalDomain = testLocalDomain
	c.Address = testAddress
	c.Owner = testOwner
	return c
}

func newTestMailbox(t *testing.T) (*Mailbox, *testISM, *testRecipientImpl) {
	t.Helper()
	mb, err := New(testConfig(), rawdb.NewMemoryDB(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	module := &testISM{accept: true}
	if err := mb.SetDefaultISM(testOwner, module); err != nil {
		t.Fatalf("SetDefaultISM: %v", err)
	}
	r := &testRecipientImpl{}
	mb.RegisterRecipient(testRecipient, r)
	return mb, module, r
}

// inbound encodes a message from the remote domain to the test recipient.
func inbound(nonce uint32) *message.Message {
	return &message.Message{
		Version:     message.Version,
		Nonce:       nonce,
		Origin:      testRemoteDomain,
		Sender:      testSender,
		Destination: testLocalDomain,
		Recipient:   testRecipient,
		Body:        testBody,
	}
}

func TestConfigValidate(t *testing.T) {
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}
	c := testConfig()
	c.Address = types.Hash{}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for zero address")
	}
	c = testConfig()
	c.MaxBodySize = message.MaxBodySize + 1
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for oversized body limit")
	}
	if _, err := New(c, rawdb.NewMemoryDB(), nil); err == nil {
		t.Fatal("New accepted invalid config")
	}
}

func TestDispatch(t *testing.T) {
	mb, _, _ := newTestMailbox(t)
	dispatchCh := make(chan DispatchEvent, 1)
	idCh := make(chan DispatchIDEvent, 1)
	defer mb.SubscribeDispatch(dispatchCh).Unsubscribe()
	defer mb.SubscribeDispatchID(idCh).Unsubscribe()

	id, err := mb.Dispatch(testSender, testRemoteDomain, testRecipient, testBody)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	want := &message.Message{
		Version:     message.Version,
		Nonce:       0,
		Origin:      testLocalDomain,
		Sender:      testSender,
		Destination: testRemoteDomain,
		Recipient:   testRecipient,
		Body:        testBody,
	}
	if id != want.ID() {
		t.Fatalf("id = %s, want %s", id, want.ID())
	}
	ev := <-dispatchCh
	if !bytes.Equal(ev.Message.Encode(), want.Encode()) {
		t.Fatalf("dispatch event message mismatch: %s", ev.Message)
	}
	if !bytes.Equal(ev.Encoded, want.Encode()) {
		t.Fatalf("dispatch event encoding = %x", ev.Encoded)
	}
	if crypto.Keccak256Hash(ev.Encoded) != id {
		t.Fatal("dispatch event encoding does not hash to the id")
	}
	if got := <-idCh; got.ID != id {
		t.Fatalf("dispatch id event = %s", got.ID)
	}

	var ref merkle.IncrementalTree
	ref.Insert(id)
	if mb.Root() != ref.Root() || mb.Count() != 1 {
		t.Fatalf("tree = (%s, %d), want (%s, 1)", mb.Root(), mb.Count(), ref.Root())
	}

	stored, err := mb.Message(id)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if !bytes.Equal(stored.Encode(), want.Encode()) {
		t.Fatal("stored message mismatch")
	}
	if got, err := mb.MessageID(0); err != nil || got != id {
		t.Fatalf("MessageID(0) = %s, %v", got, err)
	}
}

func TestDispatchNonces(t *testing.T) {
	mb, _, _ := newTestMailbox(t)
	var ref merkle.IncrementalTree
	for i := uint32(0); i < 10; i++ {
		id, err := mb.Dispatch(testSender, testRemoteDomain, testRecipient, []byte{byte(i)})
		if err != nil {
			t.Fatal(err)
		}
		msg, err := mb.Message(id)
		if err != nil {
			t.Fatal(err)
		}
		if msg.Nonce != i {
			t.Fatalf("nonce = %d, want %d", msg.Nonce, i)
		}
		ref.Insert(id)
	}
	if mb.Root() != ref.Root() {
		t.Fatal("root diverged from reference tree")
	}
}

func TestDispatchTooLarge(t *testing.T) {
	mb, _, _ := newTestMailbox(t)
	_, err := mb.Dispatch(testSender, testRemoteDomain, testRecipient, make([]byte, 3000))
	if !errors.Is(err, message.ErrMessageTooLarge) {
		t.Fatalf("got %v, want ErrMessageTooLarge", err)
	}
	if mb.Count() != 0 {
		t.Fatal("oversized dispatch was inserted")
	}
	if _, err := mb.Dispatch(testSender, testRemoteDomain, testRecipient, make([]byte, message.MaxBodySize)); err != nil {
		t.Fatalf("max size body: %v", err)
	}
}

func TestLatestCheckpoint(t *testing.T) {
	mb, _, _ := newTestMailbox(t)
	if _, _, err := mb.LatestCheckpoint(); !errors.Is(err, ErrNoMessages) {
		t.Fatalf("empty mailbox: got %v, want ErrNoMessages", err)
	}
	if _, err := mb.Checkpoint(); !errors.Is(err, ErrNoMessages) {
		t.Fatalf("empty checkpoint: got %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := mb.Dispatch(testSender, testRemoteDomain, testRecipient, testBody); err != nil {
			t.Fatal(err)
		}
	}
	root, index, err := mb.LatestCheckpoint()
	if err != nil {
		t.Fatal(err)
	}
	if root != mb.Root() || index != 2 {
		t.Fatalf("checkpoint = (%s, %d)", root, index)
	}
	cp, err := mb.Checkpoint()
	if err != nil {
		t.Fatal(err)
	}
	if cp.Mailbox != testAddress || cp.Domain != testLocalDomain || cp.Root != root || cp.Index != 2 {
		t.Fatalf("checkpoint = %s", cp)
	}
}

func TestProcess(t *testing.T) {
	mb, module, r := newTestMailbox(t)
	ch := make(chan ProcessEvent, 1)
	defer mb.SubscribeProcess(ch).Unsubscribe()

	msg := inbound(0)
	if err := mb.Process(nil, msg.Encode()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if module.calls != 1 {
		t.Fatalf("ism called %d times", module.calls)
	}
	if len(r.got) != 1 || r.got[0].origin != testRemoteDomain || r.got[0].sender != testSender || !bytes.Equal(r.got[0].body, testBody) {
		t.Fatalf("recipient got %+v", r.got)
	}
	ev := <-ch
	if ev.ID != msg.ID() || ev.Origin != testRemoteDomain || ev.Sender != testSender || ev.Recipient != testRecipient {
		t.Fatalf("process event = %+v", ev)
	}
	if ok, err := mb.Delivered(msg.ID()); err != nil || !ok {
		t.Fatalf("Delivered = %v, %v", ok, err)
	}

	if err := mb.Process(nil, msg.Encode()); !errors.Is(err, ErrAlreadyDelivered) {
		t.Fatalf("second delivery: got %v, want ErrAlreadyDelivered", err)
	}
	if len(r.got) != 1 {
		t.Fatal("message handled twice")
	}
}

func TestProcessChecks(t *testing.T) {
	badVersion := inbound(1)
	badVersion.Version = 1
	wrongDest := inbound(2)
	wrongDest.Destination = testRemoteDomain
	unknown := inbound(3)
	unknown.Recipient = types.RepeatHash(0xcc)

	tests := []struct {
		name    string
		raw     []byte
		wantErr error
	}{
		{"short", make([]byte, message.HeaderLength-1), message.ErrDecode},
		{"version", badVersion.Encode(), ErrBadVersion},
		{"destination", wrongDest.Encode(), ErrWrongDestination},
		{"recipient", unknown.Encode(), ErrUnknownRecipient},
	}
	for _, tt := range tests {
		mb, module, r := newTestMailbox(t)
		if err := mb.Process(nil, tt.raw); !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.wantErr)
		}
		if module.calls != 0 || len(r.got) != 0 {
			t.Errorf("%s: message reached ism or recipient", tt.name)
		}
	}
}

func TestProcessModuleRejects(t *testing.T) {
	mb, module, r := newTestMailbox(t)
	module.accept = false
	msg := inbound(0)
	if err := mb.Process(nil, msg.Encode()); !errors.Is(err, ErrModuleRejected) {
		t.Fatalf("got %v, want ErrModuleRejected", err)
	}

	module.err = ism.ErrMerkleMismatch
	err := mb.Process(nil, msg.Encode())
	if !errors.Is(err, ErrModuleRejected) || !errors.Is(err, ism.ErrMerkleMismatch) {
		t.Fatalf("got %v, want ErrModuleRejected wrapping ErrMerkleMismatch", err)
	}
	if len(r.got) != 0 {
		t.Fatal("rejected message was handled")
	}
	if ok, _ := mb.Delivered(msg.ID()); ok {
		t.Fatal("rejected message marked delivered")
	}

	// A rejected message can still be delivered later.
	module.accept, module.err = true, nil
	if err := mb.Process(nil, msg.Encode()); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestProcessHandlerFailure(t *testing.T) {
	mb, _, r := newTestMailbox(t)
	r.err = errors.New("boom")
	msg := inbound(0)
	if err := mb.Process(nil, msg.Encode()); !errors.Is(err, r.err) {
		t.Fatalf("got %v, want handler error", err)
	}
	if ok, _ := mb.Delivered(msg.ID()); ok {
		t.Fatal("failed delivery marked delivered")
	}

	r.err = nil
	if err := mb.Process(nil, msg.Encode()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := mb.Process(nil, msg.Encode()); !errors.Is(err, ErrAlreadyDelivered) {
		t.Fatalf("replay: got %v, want ErrAlreadyDelivered", err)
	}
}

// putFailDB fails every Put once armed.
type putFailDB struct {
	rawdb.Database
	err error
}

func (db *putFailDB) Put(key, value []byte) error {
	if db.err != nil {
		return db.err
	}
	return db.Database.Put(key, value)
}

// markCheckingRecipient records whether its message was already marked
// delivered when Handle ran.
type markCheckingRecipient struct {
	mb     *Mailbox
	id     types.Hash
	calls  int
	marked bool
}

func (r *markCheckingRecipient) Handle(origin uint32, sender types.Hash, body []byte) error {
	r.calls++
	r.marked, _ = r.mb.Delivered(r.id)
	return nil
}

func TestProcessMarksBeforeHandle(t *testing.T) {
	db := &putFailDB{Database: rawdb.NewMemoryDB()}
	mb, err := New(testConfig(), db, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mb.SetDefaultISM(testOwner, &testISM{accept: true}); err != nil {
		t.Fatal(err)
	}
	msg := inbound(0)
	r := &markCheckingRecipient{mb: mb, id: msg.ID()}
	mb.RegisterRecipient(testRecipient, r)

	// Without a durable mark the recipient is never called.
	db.err = errors.New("disk full")
	if err := mb.Process(nil, msg.Encode()); !errors.Is(err, db.err) {
		t.Fatalf("got %v, want write error", err)
	}
	if r.calls != 0 {
		t.Fatal("recipient handled a message that was not marked")
	}

	db.err = nil
	if err := mb.Process(nil, msg.Encode()); err != nil {
		t.Fatal(err)
	}
	if r.calls != 1 || !r.marked {
		t.Fatalf("calls = %d marked = %v, want marked before Handle", r.calls, r.marked)
	}
}

func TestProcessRecipientISM(t *testing.T) {
	mb, defaultISM, _ := newTestMailbox(t)
	custom := &customRecipient{}
	own := &testISM{accept: false}
	custom.module = own
	target := types.RepeatHash(0xdd)
	mb.RegisterRecipient(target, custom)

	msg := inbound(0)
	msg.Recipient = target
	if err := mb.Process(nil, msg.Encode()); !errors.Is(err, ErrModuleRejected) {
		t.Fatalf("got %v, want ErrModuleRejected from recipient ism", err)
	}
	if own.calls != 1 || defaultISM.calls != 0 {
		t.Fatalf("calls: recipient ism %d, default %d", own.calls, defaultISM.calls)
	}

	// A nil module falls back to the default.
	custom.module = nil
	if err := mb.Process(nil, msg.Encode()); err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if defaultISM.calls != 1 {
		t.Fatalf("default ism calls = %d", defaultISM.calls)
	}
}

func TestProcessWithoutISM(t *testing.T) {
	mb, err := New(testConfig(), rawdb.NewMemoryDB(), nil)
	if err != nil {
		t.Fatal(err)
	}
	mb.RegisterRecipient(testRecipient, &testRecipientImpl{})
	if err := mb.Process(nil, inbound(0).Encode()); !errors.Is(err, ErrNoISM) {
		t.Fatalf("got %v, want ErrNoISM", err)
	}
}

func TestPause(t *testing.T) {
	mb, _, _ := newTestMailbox(t)
	stranger := types.RepeatHash(0x02)
	if err := mb.Pause(stranger); !errors.Is(err, access.ErrNotOwner) {
		t.Fatalf("pause by stranger: got %v", err)
	}
	if err := mb.Pause(testOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := mb.Dispatch(testSender, testRemoteDomain, testRecipient, testBody); !errors.Is(err, access.ErrPaused) {
		t.Fatalf("dispatch while paused: got %v", err)
	}
	if err := mb.Process(nil, inbound(0).Encode()); !errors.Is(err, access.ErrPaused) {
		t.Fatalf("process while paused: got %v", err)
	}
	if err := mb.Unpause(stranger); !errors.Is(err, access.ErrNotOwner) {
		t.Fatalf("unpause by stranger: got %v", err)
	}
	if err := mb.Unpause(testOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := mb.Dispatch(testSender, testRemoteDomain, testRecipient, testBody); err != nil {
		t.Fatalf("dispatch after unpause: %v", err)
	}
}

func TestSetDefaultISM(t *testing.T) {
	mb, first, _ := newTestMailbox(t)
	ch := make(chan DefaultISMSetEvent, 1)
	defer mb.SubscribeDefaultISM(ch).Unsubscribe()

	next := &testISM{accept: true}
	if err := mb.SetDefaultISM(types.RepeatHash(0x02), next); !errors.Is(err, access.ErrNotOwner) {
		t.Fatalf("got %v, want ErrNotOwner", err)
	}
	if mb.DefaultISM() != first {
		t.Fatal("default ism changed by stranger")
	}
	if err := mb.SetDefaultISM(testOwner, nil); !errors.Is(err, ErrNoISM) {
		t.Fatalf("nil module: got %v", err)
	}
	if err := mb.SetDefaultISM(testOwner, next); err != nil {
		t.Fatal(err)
	}
	if ev := <-ch; ev.Module != next {
		t.Fatal("event carries wrong module")
	}
	if mb.DefaultISM() != next {
		t.Fatal("default ism not replaced")
	}
}

func TestTransferOwnership(t *testing.T) {
	mb, _, _ := newTestMailbox(t)
	next := types.RepeatHash(0x03)
	if err := mb.TransferOwnership(testOwner, next); err != nil {
		t.Fatal(err)
	}
	if err := mb.Pause(testOwner); !errors.Is(err, access.ErrNotOwner) {
		t.Fatalf("old owner kept control: %v", err)
	}
	if err := mb.Pause(next); err != nil {
		t.Fatal(err)
	}
}

// echoRecipient dispatches a reply for every message it handles.
type echoRecipient struct {
	mb *Mailbox
}

func (r *echoRecipient) Handle(origin uint32, sender types.Hash, body []byte) error {
	_, err := r.mb.Dispatch(testRecipient, origin, sender, body)
	return err
}

func TestProcessDispatchesReply(t *testing.T) {
	mb, _, _ := newTestMailbox(t)
	mb.RegisterRecipient(testRecipient, &echoRecipient{mb: mb})
	if err := mb.Process(nil, inbound(0).Encode()); err != nil {
		t.Fatal(err)
	}
	if mb.Count() != 1 {
		t.Fatalf("count = %d, want 1", mb.Count())
	}
	id, _ := mb.MessageID(0)
	reply, err := mb.Message(id)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Destination != testRemoteDomain || reply.Recipient != testSender || !bytes.Equal(reply.Body, testBody) {
		t.Fatalf("reply = %s", reply)
	}
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := rawdb.NewPebbleDB(dir)
	if err != nil {
		t.Fatal(err)
	}
	mb, err := New(testConfig(), db, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := mb.Dispatch(testSender, testRemoteDomain, testRecipient, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	mb.SetDefaultISM(testOwner, &testISM{accept: true})
	mb.RegisterRecipient(testRecipient, &testRecipientImpl{})
	delivered := inbound(0)
	if err := mb.Process(nil, delivered.Encode()); err != nil {
		t.Fatal(err)
	}
	root, count := mb.Root(), mb.Count()
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = rawdb.NewPebbleDB(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	m := metrics.NewNoop()
	reopened, err := New(testConfig(), db, m)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Root() != root || reopened.Count() != count {
		t.Fatalf("reopened tree = (%s, %d), want (%s, %d)", reopened.Root(), reopened.Count(), root, count)
	}
	if got := testutil.ToFloat64(m.TreeCount); got != 5 {
		t.Fatalf("tree count gauge = %v", got)
	}
	if ok, _ := reopened.Delivered(delivered.ID()); !ok {
		t.Fatal("delivered flag lost")
	}
	id, err := reopened.Dispatch(testSender, testRemoteDomain, testRecipient, nil)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := reopened.Message(id)
	if err != nil || msg.Nonce != 5 {
		t.Fatalf("nonce after reopen = %v, %v", msg, err)
	}
}

func TestMetrics(t *testing.T) {
	m := metrics.NewNoop()
	mb, err := New(testConfig(), rawdb.NewMemoryDB(), m)
	if err != nil {
		t.Fatal(err)
	}
	mb.SetDefaultISM(testOwner, &testISM{accept: true})
	mb.RegisterRecipient(testRecipient, &testRecipientImpl{})
	for i := 0; i < 3; i++ {
		mb.Dispatch(testSender, testRemoteDomain, testRecipient, testBody)
	}
	mb.Process(nil, inbound(0).Encode())

	if got := testutil.ToFloat64(m.Dispatched); got != 3 {
		t.Fatalf("dispatched = %v", got)
	}
	if got := testutil.ToFloat64(m.Processed); got != 1 {
		t.Fatalf("processed = %v", got)
	}
	if got := testutil.ToFloat64(m.TreeCount); got != 3 {
		t.Fatalf("tree count = %v", got)
	}
}
