package spoof

import (
	"context"
	"errors"
	"testing"

	"github.com/kabili207/whisper-go/core/addr"
	"github.com/kabili207/whisper-go/core/codec"
	"github.com/kabili207/whisper-go/core/sniffer"
)

func testIdentity() addr.Identity {
	return addr.Identity{
		Prefix: [8]byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA},
		EUI:    [8]byte{0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0x00, 0x01},
	}
}

type recordingInjector struct {
	calls []Advertisement
	err   error
}

func (r *recordingInjector) InjectDIO(_ context.Context, adv Advertisement) error {
	r.calls = append(r.calls, adv)
	return r.err
}

func newSpoofer(inj Injector) (*Spoofer, *sniffer.Sniffer) {
	sn := sniffer.New(nil)
	return New(Config{Identity: testIdentity(), Injector: inj, Sniffer: sn}), sn
}

func TestBuild_Scenario(t *testing.T) {
	id := addr.Identity{
		Prefix: [8]byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA},
		EUI:    [8]byte{0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB},
	}
	adv := Build(id, codec.SpoofDio{
		TargetSuffix: [2]byte{0x00, 0x05},
		ParentSuffix: [2]byte{0x00, 0x09},
		Rank:         42,
	})

	wantTarget := "aa:aa:aa:aa:aa:aa:aa:aa:bb:bb:bb:bb:bb:bb:00:05"
	wantParent := "aa:aa:aa:aa:aa:aa:aa:aa:bb:bb:bb:bb:bb:bb:00:09"
	if adv.Target.String() != wantTarget {
		t.Errorf("Target = %s, want %s", adv.Target, wantTarget)
	}
	if adv.Parent.String() != wantParent {
		t.Errorf("Parent = %s, want %s", adv.Parent, wantParent)
	}
	if !adv.NextHop.Equal(adv.Target) {
		t.Errorf("NextHop = %s, want target %s", adv.NextHop, adv.Target)
	}
	if adv.Rank != 42 {
		t.Errorf("Rank = %d, want 42", adv.Rank)
	}
}

func TestBuild_NextHopAlwaysTarget(t *testing.T) {
	id := testIdentity()
	for _, tgt := range [][2]byte{{0, 0}, {0, 5}, {0xFF, 0xFF}} {
		for _, par := range [][2]byte{{0, 0}, {0, 1}, {0x12, 0x34}} {
			adv := Build(id, codec.SpoofDio{TargetSuffix: tgt, ParentSuffix: par})
			if !adv.NextHop.Equal(adv.Target) {
				t.Errorf("target %x parent %x: NextHop %s != Target %s", tgt, par, adv.NextHop, adv.Target)
			}
		}
	}
}

func TestSpoof_ArmsSnifferForTarget(t *testing.T) {
	inj := &recordingInjector{}
	s, sn := newSpoofer(inj)

	adv, err := s.Spoof(context.Background(), codec.SpoofDio{
		TargetSuffix: [2]byte{0x00, 0x05},
		ParentSuffix: [2]byte{0x00, 0x09},
		Rank:         256,
	})
	if err != nil {
		t.Fatalf("Spoof() error = %v", err)
	}
	if len(inj.calls) != 1 || inj.calls[0] != adv {
		t.Fatalf("injector calls = %+v, want one call with %+v", inj.calls, adv)
	}

	st, watch := sn.State()
	if st != sniffer.StateArmed {
		t.Fatalf("sniffer state = %v, want armed", st)
	}
	if !watch.Equal(adv.Target.LinkLayer()) {
		t.Errorf("watch = %s, want %s", watch, adv.Target.LinkLayer())
	}

	if !sn.Observe(adv.Target.LinkLayer()) {
		t.Error("first ACK from target should match")
	}
	if sn.Observe(adv.Target.LinkLayer()) {
		t.Error("second ACK from target should not match")
	}
}

func TestSpoof_SelfParentLeavesDisarmed(t *testing.T) {
	inj := &recordingInjector{}
	s, sn := newSpoofer(inj)

	// Parent suffix 00:01 equals the root's own EUI tail.
	adv, err := s.Spoof(context.Background(), codec.SpoofDio{
		TargetSuffix: [2]byte{0x00, 0x05},
		ParentSuffix: [2]byte{0x00, 0x01},
		Rank:         512,
	})
	if err != nil {
		t.Fatalf("Spoof() error = %v", err)
	}
	if len(inj.calls) != 1 {
		t.Fatalf("injector calls = %d, want 1", len(inj.calls))
	}
	if sn.Armed() {
		t.Error("sniffer should stay disarmed when the parent is self")
	}
	if sn.Observe(adv.Target.LinkLayer()) {
		t.Error("ACK should not match when parent is self")
	}
}

func TestSpoof_InjectionFailureDisarms(t *testing.T) {
	injErr := errors.New("queue full")
	inj := &recordingInjector{err: injErr}
	s, sn := newSpoofer(inj)

	sn.Arm(addr.EUI64([8]byte{1}))

	_, err := s.Spoof(context.Background(), codec.SpoofDio{
		TargetSuffix: [2]byte{0x00, 0x05},
		ParentSuffix: [2]byte{0x00, 0x09},
	})
	if !errors.Is(err, injErr) {
		t.Fatalf("Spoof() error = %v, want %v", err, injErr)
	}
	if sn.Armed() {
		t.Error("sniffer should be disarmed after a failed injection")
	}
}

func TestSpoof_NoInjector(t *testing.T) {
	s, sn := newSpoofer(nil)

	_, err := s.Spoof(context.Background(), codec.SpoofDio{TargetSuffix: [2]byte{0, 5}})
	if !errors.Is(err, ErrNoInjector) {
		t.Errorf("Spoof() error = %v, want ErrNoInjector", err)
	}
	if sn.Armed() {
		t.Error("sniffer should be disarmed without an injector")
	}
}

func TestInjectorFunc(t *testing.T) {
	var got Advertisement
	f := InjectorFunc(func(_ context.Context, adv Advertisement) error {
		got = adv
		return nil
	})
	want := Advertisement{Rank: 7}
	if err := f.InjectDIO(context.Background(), want); err != nil {
		t.Fatalf("InjectDIO() error = %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
