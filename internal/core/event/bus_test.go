package event

import "testing"

func TestEventsAreDeliveredOnNextFlush(t *testing.T) {
	b := NewBus()
	var got []LongFrame
	Subscribe(b, func(ev LongFrame) { got = append(got, ev) })

	Emit(b, LongFrame{Tick: 1})
	if Pending[LongFrame](b) != 1 {
		t.Fatalf("Pending = %d", Pending[LongFrame](b))
	}
	if len(got) != 0 {
		t.Fatal("event delivered before flush")
	}

	b.Flush()
	if len(got) != 1 || got[0].Tick != 1 {
		t.Fatalf("after first flush: %+v", got)
	}

	b.Flush()
	if len(got) != 1 {
		t.Fatalf("event delivered twice: %+v", got)
	}
}

func TestHandlersOnlySeeTheirType(t *testing.T) {
	b := NewBus()
	joined, left := 0, 0
	Subscribe(b, func(ClientJoined) { joined++ })
	Subscribe(b, func(ClientLeft) { left++ })

	Emit(b, ClientJoined{UserID: "a"})
	Emit(b, ClientJoined{UserID: "b"})
	Emit(b, ClientLeft{UserID: "a"})
	b.Flush()

	if joined != 2 || left != 1 {
		t.Fatalf("joined=%d left=%d", joined, left)
	}
}
