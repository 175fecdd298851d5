package chat

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Seigneur-Machiavel/twitch-conn/history"
)

type fakeSink struct{ said []string }

func (f *fakeSink) Say(text string) { f.said = append(f.said, text) }

type published struct {
	channel, event string
	payload        any
}

type fakeHub struct{ events []published }

func (f *fakeHub) Publish(channel, event string, payload any) {
	f.events = append(f.events, published{channel: channel, event: event, payload: payload})
}

type fakeMembers struct {
	members map[string]bool
	count   int
}

func (f *fakeMembers) IsFollower(login string) bool { return f.members[login] }
func (f *fakeMembers) Count() int                   { return f.count }

func newTestDispatcher(t *testing.T, members *fakeMembers) (*Dispatcher, *fakeSink, *fakeHub, *history.Store, *history.CommandStore, *clockwork.FakeClock) {
	t.Helper()
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()
	store := history.NewStore(filepath.Join(dir, "chat.json"), 100, clock)
	cmdStore := history.NewCommandStore(filepath.Join(dir, "commands.json"), 100, ExternalCommands(), clock)
	t.Cleanup(func() {
		store.Close()
		cmdStore.Close()
	})
	sink := &fakeSink{}
	hub := &fakeHub{}
	return NewDispatcher(sink, hub, store, cmdStore, members, clock), sink, hub, store, cmdStore, clock
}

func TestHandlePlainMessage(t *testing.T) {
	d, sink, hub, store, _, _ := newTestDispatcher(t, &fakeMembers{})

	d.Handle("alice", "hello world")

	if store.Len() != 1 {
		t.Errorf("history len = %d, want 1", store.Len())
	}
	if len(hub.events) != 1 {
		t.Fatalf("published = %d, want 1", len(hub.events))
	}
	ev := hub.events[0]
	if ev.channel != "chat" || ev.event != "chat-message" {
		t.Errorf("published %s/%s, want chat/chat-message", ev.channel, ev.event)
	}
	if p := ev.payload.(chatPayload); p.User != "alice" || p.Message != "hello world" {
		t.Errorf("payload = %+v", p)
	}
	if len(sink.said) != 0 {
		t.Errorf("sink received %v, want nothing", sink.said)
	}
}

func TestHandleDropsLinks(t *testing.T) {
	d, sink, hub, store, _, _ := newTestDispatcher(t, &fakeMembers{})

	d.Handle("alice", "look at https://spam.example")

	if store.Len() != 0 || len(hub.events) != 0 || len(sink.said) != 0 {
		t.Errorf("dropped line leaked: history=%d hub=%d sink=%d", store.Len(), len(hub.events), len(sink.said))
	}
}

func TestHandleUnknownCommandIsSilent(t *testing.T) {
	d, sink, hub, store, cmdStore, _ := newTestDispatcher(t, &fakeMembers{members: map[string]bool{"alice": true}})

	d.Handle("alice", "!frobnicate:now")

	if store.Len() != 0 || len(hub.events) != 0 || len(sink.said) != 0 {
		t.Errorf("unknown command produced output: history=%d hub=%d sink=%d", store.Len(), len(hub.events), len(sink.said))
	}
	if got := cmdStore.Records("frobnicate"); len(got) != 0 {
		t.Errorf("bucket created for unknown command: %v", got)
	}
}

func TestHandleRejectsNonFollower(t *testing.T) {
	d, sink, hub, _, cmdStore, _ := newTestDispatcher(t, &fakeMembers{})

	d.Handle("mallory", "!createnode:evil")

	if len(sink.said) != 1 || !strings.Contains(sink.said[0], "@mallory") {
		t.Fatalf("said = %v, want one rejection mentioning @mallory", sink.said)
	}
	if len(hub.events) != 0 {
		t.Errorf("rejection was broadcast: %+v", hub.events)
	}
	if got := cmdStore.Records("createnode"); len(got) != 0 {
		t.Errorf("rejected command was stored: %v", got)
	}
}

func TestHandleExternalCommand(t *testing.T) {
	d, sink, hub, store, cmdStore, _ := newTestDispatcher(t, &fakeMembers{members: map[string]bool{"alice": true}})

	d.Handle("alice", "!createnode:my node")

	recs := cmdStore.Records("createnode")
	if len(recs) != 1 || recs[0].User != "alice" || recs[0].Text != "!createnode:my node" {
		t.Fatalf("bucket = %+v, want one raw record from alice", recs)
	}
	if len(hub.events) != 1 {
		t.Fatalf("published = %d, want 1", len(hub.events))
	}
	ev := hub.events[0]
	if ev.channel != "cmd" || ev.event != "cmd-message" {
		t.Errorf("published %s/%s, want cmd/cmd-message", ev.channel, ev.event)
	}
	// Observers get the raw line and re-parse the argument themselves.
	if p := ev.payload.(chatPayload); p.Message != "!createnode:my node" {
		t.Errorf("payload = %+v, want the raw line", p)
	}
	if store.Len() != 0 {
		t.Errorf("command leaked into chat history")
	}
	if len(sink.said) != 0 {
		t.Errorf("external command answered on sink: %v", sink.said)
	}
}

func TestBuiltinFollowers(t *testing.T) {
	d, sink, hub, store, _, _ := newTestDispatcher(t, &fakeMembers{count: 42})

	d.Handle("alice", "!followers")

	if len(sink.said) != 1 || !strings.Contains(sink.said[0], "42") {
		t.Fatalf("said = %v, want count 42", sink.said)
	}
	if len(hub.events) != 0 || store.Len() != 0 {
		t.Errorf("builtin leaked: hub=%d history=%d", len(hub.events), store.Len())
	}
}

func TestBuiltinUptime(t *testing.T) {
	d, sink, _, _, _, clock := newTestDispatcher(t, &fakeMembers{})

	clock.Advance(90 * time.Minute)
	d.Handle("alice", "!uptime")

	if len(sink.said) != 1 || !strings.Contains(sink.said[0], "1h 30m") {
		t.Errorf("said = %v, want uptime 1h 30m", sink.said)
	}
}
