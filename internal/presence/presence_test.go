package presence

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestConnectAndSnapshot(t *testing.T) {
	t.Parallel()

	r := NewRegistry("gateway-host", "1.0")
	now := time.Now()

	_, v1 := r.Connect("client-1", Entry{Host: "laptop", Mode: "daemon"}, now)
	if v1 == 0 {
		t.Error("Connect() version = 0, want non-zero")
	}

	entries, v2 := r.Snapshot(now)
	if v2 != v1 {
		t.Errorf("Snapshot() version = %d, want %d", v2, v1)
	}

	var found bool
	for _, e := range entries {
		if e.Host == "laptop" {
			found = true
			if e.Reason != "connect" {
				t.Errorf("entry reason = %q, want %q", e.Reason, "connect")
			}
		}
	}
	if !found {
		t.Error("Snapshot() missing the connected entry")
	}
}

func TestSnapshotAlwaysIncludesSelf(t *testing.T) {
	t.Parallel()

	r := NewRegistry("gateway-host", "1.0")
	r.Touch(time.Now())

	entries, _ := r.Snapshot(time.Now())
	var found bool
	for _, e := range entries {
		if e.Host == "gateway-host" {
			found = true
		}
	}
	if !found {
		t.Error("Snapshot() missing self entry")
	}
}

func TestEntriesExpireAfterTTL(t *testing.T) {
	t.Parallel()

	r := NewRegistry("gateway-host", "1.0")
	now := time.Now()
	r.Connect("client-1", Entry{Host: "laptop"}, now)

	later := now.Add(TTL + time.Second)
	entries, _ := r.Snapshot(later)
	for _, e := range entries {
		if e.Host == "laptop" {
			t.Error("Snapshot() still includes expired entry")
		}
	}
}

func TestDisconnectMarksReasonWithoutRemoving(t *testing.T) {
	t.Parallel()

	r := NewRegistry("gateway-host", "1.0")
	now := time.Now()
	r.Connect("client-1", Entry{Host: "laptop"}, now)

	vBefore := r.Version()
	vAfter := r.Disconnect("client-1", now)
	if vAfter <= vBefore {
		t.Errorf("Disconnect() version = %d, want > %d", vAfter, vBefore)
	}

	entries, _ := r.Snapshot(now)
	var found bool
	for _, e := range entries {
		if e.Host == "laptop" {
			found = true
			if e.Reason != "disconnect" {
				t.Errorf("entry reason = %q, want %q", e.Reason, "disconnect")
			}
		}
	}
	if !found {
		t.Error("Disconnect() removed the entry; it should persist until TTL")
	}
}

func TestDisconnectOfUnknownKeyIsNoOp(t *testing.T) {
	t.Parallel()

	r := NewRegistry("gateway-host", "1.0")
	vBefore := r.Version()
	vAfter := r.Disconnect("never-connected", time.Now())
	if vAfter != vBefore {
		t.Errorf("Disconnect(unknown) changed version: before=%d after=%d", vBefore, vAfter)
	}
}

func TestSweepRemovesExpiredAndBumpsVersion(t *testing.T) {
	t.Parallel()

	r := NewRegistry("gateway-host", "1.0")
	now := time.Now()
	_, vBefore := r.Connect("client-1", Entry{Host: "laptop"}, now)

	removed, vAfter := r.Sweep(now.Add(TTL + time.Second))
	if removed != 1 {
		t.Errorf("Sweep() removed = %d, want 1", removed)
	}
	if vAfter <= vBefore {
		t.Errorf("Sweep() version = %d, want > %d", vAfter, vBefore)
	}
}

func TestSweepNeverRemovesSelf(t *testing.T) {
	t.Parallel()

	r := NewRegistry("gateway-host", "1.0")
	removed, _ := r.Sweep(time.Now().Add(10 * TTL))
	if removed != 0 {
		t.Errorf("Sweep() removed self entry, removed = %d", removed)
	}
}

func TestConnectEvictsOldestWhenFull(t *testing.T) {
	t.Parallel()

	r := NewRegistry("gateway-host", "1.0")
	base := time.Now()
	for i := 0; i < MaxEntries; i++ {
		key := strconv.Itoa(i)
		r.Connect(key, Entry{Host: key}, base.Add(time.Duration(i)*time.Millisecond))
	}

	// The self entry counts toward MaxEntries but is never evicted, so the
	// last Connect of the loop already evicted "0", the oldest client entry.
	// The newcomer then evicts the next oldest and must itself be kept.
	r.Connect("newcomer", Entry{Host: "newcomer"}, base.Add(time.Hour))

	entries, _ := r.Snapshot(base.Add(time.Hour))
	for _, e := range entries {
		if e.Host == "0" {
			t.Error("Snapshot() still includes the oldest entry after eviction")
		}
	}

	var foundNewcomer bool
	for _, e := range entries {
		if e.Host == "newcomer" {
			foundNewcomer = true
		}
	}
	if !foundNewcomer {
		t.Error("Snapshot() missing newcomer entry after eviction")
	}
}

func TestApplySystemEventParsesStructuredText(t *testing.T) {
	t.Parallel()

	r := NewRegistry("gateway-host", "1.0")
	text := "Node: laptop (10.0.0.5) · app 2.3.1 · last input 42s ago · mode daemon · reason connect"
	entry, _ := r.ApplySystemEvent("conn-1", text, time.Now())

	if entry.Host != "laptop" {
		t.Errorf("entry.Host = %q, want %q", entry.Host, "laptop")
	}
	if entry.IP != "10.0.0.5" {
		t.Errorf("entry.IP = %q, want %q", entry.IP, "10.0.0.5")
	}
	if entry.Version != "2.3.1" {
		t.Errorf("entry.Version = %q, want %q", entry.Version, "2.3.1")
	}
	if entry.LastInputSeconds == nil || *entry.LastInputSeconds != 42 {
		t.Errorf("entry.LastInputSeconds = %v, want 42", entry.LastInputSeconds)
	}
	if entry.Mode != "daemon" {
		t.Errorf("entry.Mode = %q, want %q", entry.Mode, "daemon")
	}
	if entry.Reason != "connect" {
		t.Errorf("entry.Reason = %q, want %q", entry.Reason, "connect")
	}
	if entry.Text != "" {
		t.Errorf("entry.Text = %q, want empty on a structured match", entry.Text)
	}
}

func TestApplySystemEventFallsBackToWholeText(t *testing.T) {
	t.Parallel()

	r := NewRegistry("gateway-host", "1.0")
	entry, _ := r.ApplySystemEvent("conn-1", "<script>alert(1)</script>just a note", time.Now())

	if entry.Host != "" || entry.IP != "" {
		t.Errorf("entry = %+v, want no structured fields parsed", entry)
	}
	if entry.Text == "" {
		t.Fatal("entry.Text is empty, want the fallback text preserved")
	}
	if contains(entry.Text, "<script>") {
		t.Errorf("entry.Text = %q, want script tag stripped", entry.Text)
	}
}

func TestSnapshotSortsByTsDescending(t *testing.T) {
	t.Parallel()

	r := NewRegistry("gateway-host", "1.0")
	base := time.Now()
	r.Connect("older", Entry{Host: "older"}, base)
	r.Connect("newer", Entry{Host: "newer"}, base.Add(time.Minute))

	entries, _ := r.Snapshot(base.Add(time.Minute))
	var sawNewerFirst bool
	for _, e := range entries {
		if e.Host == "newer" {
			sawNewerFirst = true
		}
		if e.Host == "older" {
			if !sawNewerFirst {
				t.Error("Snapshot() order = older before newer, want ts descending")
			}
			break
		}
	}
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}
