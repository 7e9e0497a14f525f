package domain

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestUniqueIDsKeepsFirstOccurrenceOrder(t *testing.T) {
	got := UniqueIDs([]uint64{5, 3, 5, 7, 3, 3, 9})
	want := []uint64{5, 3, 7, 9}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if out := UniqueIDs(nil); out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", out)
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "0x0"},
		{"0x0", "0x0"},
		{"0x000", "0x0"},
		{"0", "0x0"},
		{"0x00ABCdef", "0xabcdef"},
		{"  0x1F ", "0x1f"},
		{"31", "0x1f"},
		{"not-an-address", "not-an-address"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			if got := NormalizeAddress(tc.in); got != tc.want {
				t.Fatalf("NormalizeAddress(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}

	if !SameAddress("0x0001", "0x1") {
		t.Fatalf("expected padded and unpadded address to match")
	}
	if !IsZeroAddress("0x") {
		t.Fatalf("expected bare prefix to be treated as zero")
	}
}

func TestFeltUint64(t *testing.T) {
	if v, err := FeltUint64("0x2a"); err != nil || v != 42 {
		t.Fatalf("expected 42, got %d err=%v", v, err)
	}
	if v, err := FeltUint64("42"); err != nil || v != 42 {
		t.Fatalf("expected 42, got %d err=%v", v, err)
	}
	if _, err := FeltUint64("0x10000000000000000"); err == nil {
		t.Fatalf("expected overflow error")
	}
	if _, err := FeltUint64("zz"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFlexIDAndFlexIntDecode(t *testing.T) {
	var payload struct {
		A FlexID  `json:"a"`
		B FlexID  `json:"b"`
		C FlexInt `json:"c"`
		D FlexInt `json:"d"`
		E FlexInt `json:"e"`
	}
	if err := json.Unmarshal([]byte(`{"a":12,"b":"0x0c","c":"450000","d":450000,"e":"n/a"}`), &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id, ok := payload.A.Uint64(); !ok || id != 12 {
		t.Fatalf("expected numeric id 12, got %d ok=%v", id, ok)
	}
	if id, ok := payload.B.Uint64(); !ok || id != 12 {
		t.Fatalf("expected hex id 12, got %d ok=%v", id, ok)
	}
	if payload.C != 450000 || payload.D != 450000 {
		t.Fatalf("expected both weights to decode, got %d and %d", payload.C, payload.D)
	}
	if payload.E != 0 {
		t.Fatalf("expected invalid weight to decode as zero, got %d", payload.E)
	}
}

func TestPreconditionErrorUnwraps(t *testing.T) {
	err := Precondition("transfer_animal", "animal %d is not owned by caller", 7)
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected precondition error to match sentinel")
	}
	if err.Error() != "transfer_animal: animal 7 is not owned by caller" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestStateMarkers(t *testing.T) {
	if AnimalProcessed.CacheMarker() != "procesado" || BatchTransferred.CacheMarker() != "transferido" {
		t.Fatalf("unexpected cache markers")
	}
	if s, ok := AnimalStateFromMarker("certificado"); !ok || s != AnimalCertified {
		t.Fatalf("expected certificado to map to certified, got %v ok=%v", s, ok)
	}
	if AnimalState(9).Valid() {
		t.Fatalf("expected out of range state to be invalid")
	}
	if ct, ok := CutTypeByName("Lomo"); !ok || ct != 2 {
		t.Fatalf("expected Lomo to be cut type 2, got %d", ct)
	}
}
