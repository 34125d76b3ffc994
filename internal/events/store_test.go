package events

import (
	"fmt"
	"testing"
	"time"
)

type memSink struct {
	entries [][]byte
	trims   int
}

func (m *memSink) AppendConsole(_ time.Time, entry []byte) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memSink) Console(limit int) ([][]byte, error) {
	if len(m.entries) > limit {
		return m.entries[len(m.entries)-limit:], nil
	}
	return m.entries, nil
}

func (m *memSink) TrimConsole(max int) error {
	m.trims++
	if len(m.entries) > max {
		m.entries = m.entries[len(m.entries)-max:]
	}
	return nil
}

func TestStoreRingBuffer(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Add(EventCommand, "admin", "10.0.0.2", true, fmt.Sprintf("cmd %d", i))
	}

	if s.Count() != 3 {
		t.Fatalf("Count = %d", s.Count())
	}
	all := s.GetAll()
	if all[0].Details != "cmd 4" || all[2].Details != "cmd 2" {
		t.Errorf("GetAll order = %v", all)
	}
	if last := s.GetLast(10); len(last) != 3 {
		t.Errorf("GetLast(10) = %d events", len(last))
	}
	since := s.GetSince(3)
	if len(since) != 2 || since[0].ID != 5 {
		t.Errorf("GetSince(3) = %v", since)
	}
	if s.LastID() != 5 {
		t.Errorf("LastID = %d", s.LastID())
	}
}

func TestPersistentStoreRestores(t *testing.T) {
	sink := &memSink{}
	s, err := NewPersistentStore(4, sink)
	if err != nil {
		t.Fatal(err)
	}
	s.System(EventSystemBoot, true, "")
	s.System(EventMqttConnected, true, "broker.lan")
	s.Add(EventLogin, "admin", "10.0.0.2", true, "")

	if len(sink.entries) != 3 {
		t.Fatalf("sink has %d entries", len(sink.entries))
	}

	sink.entries = append(sink.entries, []byte("not json"))
	restored, err := NewPersistentStore(4, sink)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Count() != 3 {
		t.Errorf("restored %d events", restored.Count())
	}
	if restored.LastID() != 3 {
		t.Errorf("LastID = %d", restored.LastID())
	}
	restored.System(EventSystemReboot, true, "")
	if got := restored.GetLast(1)[0]; got.ID != 4 || got.Type != EventSystemReboot {
		t.Errorf("next event = %+v", got)
	}
	if sink.trims != 1 {
		t.Errorf("expected a trim every capacity events, got %d", sink.trims)
	}
}
