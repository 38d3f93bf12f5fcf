package mapping

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/plexsphere/pcpd/internal/store"
	"github.com/plexsphere/pcpd/internal/wire"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	st, err := store.Open("", nil)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	return NewAdapter(st, 0, nil)
}

func testMapping(lifetime uint32) Mapping {
	return Mapping{
		Nonce:        wire.Nonce{1, 2, 3},
		InternalIP:   net.ParseIP("::1"),
		InternalPort: 80,
		ExternalIP:   net.ParseIP("::2"),
		ExternalPort: 8080,
		Lifetime:     lifetime,
		Opcode:       wire.OpcodeMap,
		Protocol:     6,
	}
}

func TestCreate_AutoIndexAllocatesMultiplesOfTen(t *testing.T) {
	a := newTestAdapter(t)

	for i, want := range []int{10, 20, 30} {
		m, err := a.Create(AutoIndex, testMapping(120))
		if err != nil {
			t.Fatalf("Create() #%d error = %v", i, err)
		}
		if m.Index != want {
			t.Errorf("Create() #%d index = %d, want %d", i, m.Index, want)
		}
	}
}

func TestCreate_AutoIndexSkipsManualIndices(t *testing.T) {
	a := newTestAdapter(t)

	// Manual index 20: the table's current max. The next auto allocation
	// must land on 30, the next multiple of ten strictly above it.
	if _, err := a.Create(20, testMapping(120)); err != nil {
		t.Fatalf("Create(20) error = %v", err)
	}
	m, err := a.Create(AutoIndex, testMapping(120))
	if err != nil {
		t.Fatalf("Create(auto) error = %v", err)
	}
	if m.Index != 30 {
		t.Errorf("auto index = %d, want 30", m.Index)
	}

	found, ok := a.Find(30)
	if !ok {
		t.Fatal("Find(30) did not return the created mapping")
	}
	if found.EndOfLife != found.StartOfLife+120 {
		t.Errorf("end_of_life = %d, want start_of_life+120 = %d", found.EndOfLife, found.StartOfLife+120)
	}
}

func TestCreate_ExplicitIndexCollision(t *testing.T) {
	a := newTestAdapter(t)

	if _, err := a.Create(10, testMapping(120)); err != nil {
		t.Fatalf("Create(10) error = %v", err)
	}
	_, err := a.Create(10, testMapping(120))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Create() error = %v, want ErrAlreadyExists", err)
	}
}

func TestCreate_IndexExhaustion(t *testing.T) {
	st, err := store.Open("", nil)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	a := NewAdapter(st, 25, nil)

	if _, err := a.Create(AutoIndex, testMapping(120)); err != nil {
		t.Fatalf("Create() #1 error = %v", err)
	}
	if _, err := a.Create(AutoIndex, testMapping(120)); err != nil {
		t.Fatalf("Create() #2 error = %v", err)
	}
	// Next allocation would be 30 > 25.
	_, err = a.Create(AutoIndex, testMapping(120))
	if !errors.Is(err, ErrNoResources) {
		t.Fatalf("Create() error = %v, want ErrNoResources", err)
	}
}

func TestFind_RoundTripsAllFields(t *testing.T) {
	a := newTestAdapter(t)

	want := testMapping(300)
	created, err := a.Create(AutoIndex, want)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, ok := a.Find(created.Index)
	if !ok {
		t.Fatal("Find() did not return the created mapping")
	}
	if got.Nonce != want.Nonce {
		t.Errorf("nonce = %v, want %v", got.Nonce, want.Nonce)
	}
	if !got.InternalIP.Equal(want.InternalIP) || got.InternalPort != want.InternalPort {
		t.Errorf("internal = [%v]:%d, want [%v]:%d", got.InternalIP, got.InternalPort, want.InternalIP, want.InternalPort)
	}
	if !got.ExternalIP.Equal(want.ExternalIP) || got.ExternalPort != want.ExternalPort {
		t.Errorf("external = [%v]:%d, want [%v]:%d", got.ExternalIP, got.ExternalPort, want.ExternalIP, want.ExternalPort)
	}
	if got.Lifetime != 300 || got.Opcode != wire.OpcodeMap || got.Protocol != 6 {
		t.Errorf("lifetime/opcode/protocol = %d/%v/%d, want 300/MAP/6", got.Lifetime, got.Opcode, got.Protocol)
	}
}

func TestFind_Absent(t *testing.T) {
	a := newTestAdapter(t)
	if _, ok := a.Find(99); ok {
		t.Error("Find() of absent index reported ok")
	}
}

func TestFindByInternal(t *testing.T) {
	a := newTestAdapter(t)

	m := testMapping(120)
	created, err := a.Create(AutoIndex, m)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, ok := a.FindByInternal(net.ParseIP("::1"), 80, 6)
	if !ok {
		t.Fatal("FindByInternal() did not find the mapping")
	}
	if got.Index != created.Index {
		t.Errorf("index = %d, want %d", got.Index, created.Index)
	}

	// Different protocol must not match.
	if _, ok := a.FindByInternal(net.ParseIP("::1"), 80, 17); ok {
		t.Error("FindByInternal() matched a different protocol")
	}
}

func TestRefresh_WithinSkewWindow(t *testing.T) {
	a := newTestAdapter(t)
	fixed := time.Unix(1_000_000, 0)
	a.now = func() time.Time { return fixed }

	created, err := a.Create(AutoIndex, testMapping(120))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Inclusive bounds of the window: now + lifetime ± 3.
	for _, eol := range []int64{fixed.Unix() + 600 - 3, fixed.Unix() + 600, fixed.Unix() + 600 + 3} {
		if err := a.Refresh(created.Index, 600, eol); err != nil {
			t.Errorf("Refresh(eol=%d) error = %v, want nil", eol, err)
		}
	}

	got, ok := a.Find(created.Index)
	if !ok {
		t.Fatal("Find() after refresh failed")
	}
	if got.Lifetime != 600 {
		t.Errorf("lifetime = %d, want 600", got.Lifetime)
	}
	if got.EndOfLife != fixed.Unix()+600+3 {
		t.Errorf("end_of_life = %d, want %d", got.EndOfLife, fixed.Unix()+600+3)
	}
	// Refresh must not touch the nonce or endpoints.
	if got.Nonce != created.Nonce || got.ExternalPort != created.ExternalPort {
		t.Error("refresh modified fields other than lifetime/end_of_life")
	}
}

func TestRefresh_OutsideSkewWindow(t *testing.T) {
	a := newTestAdapter(t)
	fixed := time.Unix(1_000_000, 0)
	a.now = func() time.Time { return fixed }

	created, err := a.Create(AutoIndex, testMapping(120))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	before, _ := a.Find(created.Index)

	for _, eol := range []int64{fixed.Unix() + 600 - 4, fixed.Unix() + 600 + 4} {
		if err := a.Refresh(created.Index, 600, eol); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Refresh(eol=%d) error = %v, want ErrOutOfRange", eol, err)
		}
	}

	// A rejected refresh leaves lifetime and end_of_life unchanged.
	after, _ := a.Find(created.Index)
	if after.Lifetime != before.Lifetime || after.EndOfLife != before.EndOfLife {
		t.Error("rejected refresh modified the mapping")
	}
}

func TestRefresh_NotFound(t *testing.T) {
	a := newTestAdapter(t)
	err := a.Refresh(42, 120, time.Now().Unix()+120)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Refresh() error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	a := newTestAdapter(t)

	created, err := a.Create(AutoIndex, testMapping(120))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := a.Delete(created.Index); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := a.Find(created.Index); ok {
		t.Error("Find() after delete reported ok")
	}
	if err := a.Delete(created.Index); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteAll_ThenListEmpty(t *testing.T) {
	a := newTestAdapter(t)

	for i := 0; i < 3; i++ {
		if _, err := a.Create(AutoIndex, testMapping(120)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if err := a.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	if got := a.List(); len(got) != 0 {
		t.Errorf("List() after DeleteAll = %d mappings, want 0", len(got))
	}
}

func TestList_SortedAscendingByIndex(t *testing.T) {
	a := newTestAdapter(t)

	// Interleave manual and auto indices, including ones whose string
	// order differs from numeric order.
	for _, idx := range []int{100, 7, 25} {
		if _, err := a.Create(idx, testMapping(120)); err != nil {
			t.Fatalf("Create(%d) error = %v", idx, err)
		}
	}

	got := a.List()
	if len(got) != 3 {
		t.Fatalf("List() = %d mappings, want 3", len(got))
	}
	want := []int{7, 25, 100}
	for i, m := range got {
		if m.Index != want[i] {
			t.Errorf("List()[%d].Index = %d, want %d", i, m.Index, want[i])
		}
	}
}

func TestRemainingLifetime(t *testing.T) {
	m := &Mapping{EndOfLife: 1000}

	if got := m.RemainingLifetime(time.Unix(900, 0)); got != 100 {
		t.Errorf("RemainingLifetime(t=900) = %d, want 100", got)
	}
	if got := m.RemainingLifetime(time.Unix(1000, 0)); got != 0 {
		t.Errorf("RemainingLifetime(t=1000) = %d, want 0", got)
	}
	if got := m.RemainingLifetime(time.Unix(2000, 0)); got != 0 {
		t.Errorf("RemainingLifetime(t=2000) = %d, want 0", got)
	}
}

func TestDeleteExpired(t *testing.T) {
	a := newTestAdapter(t)
	fixed := time.Unix(1_000_000, 0)
	a.now = func() time.Time { return fixed }

	live, err := a.Create(AutoIndex, testMapping(600))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	expired, err := a.Create(AutoIndex, testMapping(60))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	deleted := a.DeleteExpired(fixed.Add(120 * time.Second))
	if deleted != 1 {
		t.Fatalf("DeleteExpired() = %d, want 1", deleted)
	}
	if _, ok := a.Find(expired.Index); ok {
		t.Error("expired mapping still present")
	}
	if _, ok := a.Find(live.Index); !ok {
		t.Error("live mapping was reaped")
	}
}
