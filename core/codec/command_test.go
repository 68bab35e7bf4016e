package codec

import (
	"errors"
	"testing"
)

func TestDecodeCommand_SpoofScenario(t *testing.T) {
	payload := []byte{0x00, 0x01, 0x00, 0x05, 0x00, 0x09, 0x00, 0x00, 0x00, 0x2A}

	cmd, err := DecodeCommand(payload)
	if err != nil {
		t.Fatalf("DecodeCommand() error = %v", err)
	}
	spoof, ok := cmd.(SpoofDio)
	if !ok {
		t.Fatalf("DecodeCommand() = %T, want SpoofDio", cmd)
	}
	if spoof.TargetSuffix != [2]byte{0x00, 0x05} {
		t.Errorf("TargetSuffix = %x, want 0005", spoof.TargetSuffix)
	}
	if spoof.ParentSuffix != [2]byte{0x00, 0x09} {
		t.Errorf("ParentSuffix = %x, want 0009", spoof.ParentSuffix)
	}
	if spoof.Rank != 42 {
		t.Errorf("Rank = %d, want 42", spoof.Rank)
	}
}

func TestDecodeCommand_RankBigEndian(t *testing.T) {
	payload := []byte{0x00, 0x01, 0x00, 0x05, 0x00, 0x09, 0xEE, 0xEE, 0x01, 0x02}

	cmd, err := DecodeCommand(payload)
	if err != nil {
		t.Fatalf("DecodeCommand() error = %v", err)
	}
	if got := cmd.(SpoofDio).Rank; got != 0x0102 {
		t.Errorf("Rank = %#04x, want 0x0102", got)
	}
}

func TestDecodeCommand_ReserveCell(t *testing.T) {
	cmd, err := DecodeCommand([]byte{0xFF, 0x02, 0x00, 0x07})
	if err != nil {
		t.Fatalf("DecodeCommand() error = %v", err)
	}
	rc, ok := cmd.(ReserveCell)
	if !ok {
		t.Fatalf("DecodeCommand() = %T, want ReserveCell", cmd)
	}
	if rc.TargetSuffix != [2]byte{0x00, 0x07} {
		t.Errorf("TargetSuffix = %x, want 0007", rc.TargetSuffix)
	}
}

func TestDecodeCommand_UnknownIsNoOp(t *testing.T) {
	for _, d := range []byte{0x00, 0x03, 0x7F, 0xFF} {
		cmd, err := DecodeCommand([]byte{0x00, d})
		if err != nil {
			t.Errorf("DecodeCommand(disc=%#02x) error = %v, want nil", d, err)
			continue
		}
		noop, ok := cmd.(NoOp)
		if !ok {
			t.Errorf("DecodeCommand(disc=%#02x) = %T, want NoOp", d, cmd)
			continue
		}
		if noop.Discriminant() != d {
			t.Errorf("NoOp.Discriminant() = %#02x, want %#02x", noop.Discriminant(), d)
		}
	}
}

func TestDecodeCommand_TooShort(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"marker only", []byte{0xFF}},
		{"spoof missing rank", []byte{0xFF, 0x01, 0x00, 0x05, 0x00, 0x09, 0x00, 0x00, 0x00}},
		{"spoof header only", []byte{0xFF, 0x01}},
		{"reserve missing suffix byte", []byte{0xFF, 0x02, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCommand(tt.data)
			if !errors.Is(err, ErrCommandTooShort) {
				t.Errorf("DecodeCommand() error = %v, want ErrCommandTooShort", err)
			}
		})
	}
}

func TestEncodeCommands(t *testing.T) {
	spoof := SpoofDio{TargetSuffix: [2]byte{0x00, 0x05}, ParentSuffix: [2]byte{0x00, 0x09}, Rank: 42}
	cmd, err := DecodeCommand(EncodeSpoofDio(spoof))
	if err != nil {
		t.Fatalf("DecodeCommand(EncodeSpoofDio) error = %v", err)
	}
	if cmd != spoof {
		t.Errorf("decoded %+v, want %+v", cmd, spoof)
	}

	rc := ReserveCell{TargetSuffix: [2]byte{0x00, 0x07}}
	cmd, err = DecodeCommand(EncodeReserveCell(rc))
	if err != nil {
		t.Fatalf("DecodeCommand(EncodeReserveCell) error = %v", err)
	}
	if cmd != rc {
		t.Errorf("decoded %+v, want %+v", cmd, rc)
	}
}
