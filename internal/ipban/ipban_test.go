package ipban

import (
	"fmt"
	"net"
	"testing"
)

type fakeLoader struct {
	cidrs []string
	err   error
}

func (f *fakeLoader) LoadBannedCIDRs() ([]string, error) {
	return f.cidrs, f.err
}

func TestIsBannedMatchesCIDR(t *testing.T) {
	c, err := New(&fakeLoader{cidrs: []string{"10.0.0.0/8", "192.168.1.0/24"}}, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !c.IsBanned(net.ParseIP("10.1.2.3")) {
		t.Fatalf("expected 10.1.2.3 to be banned")
	}
	if !c.IsBanned(net.ParseIP("192.168.1.42")) {
		t.Fatalf("expected 192.168.1.42 to be banned")
	}
	if c.IsBanned(net.ParseIP("8.8.8.8")) {
		t.Fatalf("expected 8.8.8.8 not to be banned")
	}
}

func TestIsBannedRepeatedLookupUsesVerdictCache(t *testing.T) {
	c, err := New(&fakeLoader{cidrs: []string{"10.0.0.0/8"}}, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ip := net.ParseIP("10.5.5.5")
	if !c.IsBanned(ip) {
		t.Fatalf("expected first lookup to report banned")
	}
	// Second lookup should hit the memoized verdict and agree.
	if !c.IsBanned(ip) {
		t.Fatalf("expected second lookup to still report banned")
	}
}

func TestMalformedCIDRIsSkipped(t *testing.T) {
	c, err := New(&fakeLoader{cidrs: []string{"not-a-cidr", "10.0.0.0/8"}}, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Count() != 1 {
		t.Fatalf("expected malformed entry to be skipped, got count %d", c.Count())
	}
}

func TestReloadSwapsSnapshotAndDropsVerdicts(t *testing.T) {
	loader := &fakeLoader{cidrs: []string{"10.0.0.0/8"}}
	c, err := New(loader, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ip := net.ParseIP("10.1.1.1")
	if !c.IsBanned(ip) {
		t.Fatalf("expected 10.1.1.1 to be banned before reload")
	}

	loader.cidrs = []string{"192.168.0.0/16"}
	if err := c.Reload(); err != nil {
		t.Fatalf("unexpected reload error: %v", err)
	}

	if c.IsBanned(ip) {
		t.Fatalf("expected 10.1.1.1 to be cleared after reload")
	}
	if !c.IsBanned(net.ParseIP("192.168.5.5")) {
		t.Fatalf("expected 192.168.5.5 to be banned after reload")
	}
}

func TestNewPropagatesLoaderError(t *testing.T) {
	_, err := New(&fakeLoader{err: fmt.Errorf("boom")}, 16)
	if err == nil {
		t.Fatalf("expected loader error to propagate")
	}
}
