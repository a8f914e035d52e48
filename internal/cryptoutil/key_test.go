package cryptoutil

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestParseKeyForms(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, 32)
	cases := []string{
		base64.StdEncoding.EncodeToString(raw),
		"base64:" + base64.StdEncoding.EncodeToString(raw),
		hex.EncodeToString(raw),
		"hex:" + hex.EncodeToString(raw),
	}
	for _, in := range cases {
		got, err := ParseKey(in)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", in, err)
		}
		if !bytes.Equal(got, raw) {
			t.Fatalf("ParseKey(%q) returned wrong bytes", in)
		}
	}
}

func TestParseKeyRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "hex:zz", "base64:!!!", hex.EncodeToString([]byte("short"))} {
		if _, err := ParseKey(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}
