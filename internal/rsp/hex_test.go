package rsp

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data := []byte{0x00, 0x01, 0xff, 0xa5, 0x7d, 0x24}

	encoded := EncodeBytes(data)

	decoded, err := DecodeBytes(encoded)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}

	if string(decoded) != string(data) {
		t.Fatalf("round trip mismatch: got %x want %x", decoded, data)
	}
}

func TestParseHexInt(t *testing.T) {
	cases := []struct {
		in        string
		maxDigits int
		value     int
		consumed  int
		ok        bool
	}{
		{"1a2b,rest", 0, 0x1a2b, 4, true},
		{"ff", 2, 0xff, 2, true},
		{"fff", 2, 0xff, 2, true},
		{"", 0, 0, 0, false},
		{"zz", 0, 0, 0, false},
		{"08FF", 0, 0x08ff, 4, true},
	}

	for _, c := range cases {
		v, n, ok := ParseHexInt(c.in, c.maxDigits)
		if v != c.value || n != c.consumed || ok != c.ok {
			t.Errorf("ParseHexInt(%q, %d) = (%d, %d, %v), want (%d, %d, %v)",
				c.in, c.maxDigits, v, n, ok, c.value, c.consumed, c.ok)
		}
	}
}
