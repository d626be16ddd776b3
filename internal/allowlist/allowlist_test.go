package allowlist

import "testing"

func TestContains_ExactID(t *testing.T) {
	l, err := New([]string{"monitor-bot-7", "192.0.2.10"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !l.Contains("monitor-bot-7") {
		t.Error("exact client id should match")
	}
	if !l.Contains("192.0.2.10") {
		t.Error("exact IP should match")
	}
	if l.Contains("monitor-bot-8") {
		t.Error("unlisted id must not match")
	}
}

func TestContains_CIDR(t *testing.T) {
	l, err := New([]string{"10.8.0.0/16"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !l.Contains("10.8.42.1") {
		t.Error("address inside block should match")
	}
	if l.Contains("10.9.0.1") {
		t.Error("address outside block must not match")
	}
	if l.Contains("not-an-ip") {
		t.Error("non-IP id cannot match a CIDR entry")
	}
}

func TestContains_CanonicalizesIPs(t *testing.T) {
	l, err := New([]string{"::ffff:192.0.2.10"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !l.Contains("192.0.2.10") {
		t.Error("IPv4-mapped entry should match plain IPv4 lookup")
	}
}

func TestNew_RejectsBadCIDR(t *testing.T) {
	if _, err := New([]string{"10.0.0.0/99"}); err == nil {
		t.Error("expected error for invalid CIDR")
	}
}

func TestAdd_IgnoresBlank(t *testing.T) {
	l, _ := New(nil)
	if err := l.Add("  "); err != nil {
		t.Fatalf("Add blank: %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("blank entry should be dropped, len = %d", l.Len())
	}
}

func TestEntries_Sorted(t *testing.T) {
	l, _ := New([]string{"zeta-client", "10.0.0.0/8", "alpha-client"})
	entries := l.Entries()
	if len(entries) != 3 || entries[0] != "10.0.0.0/8" || entries[1] != "alpha-client" {
		t.Errorf("unexpected entries: %v", entries)
	}
}
