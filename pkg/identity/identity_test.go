package identity

import "testing"

func TestNewIdentityDeterministicShortID(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	short1 := id.ShortID()
	short2 := ShortIDFromPublicKey(id.StaticPublic[:])
	if short1 != short2 {
		t.Fatalf("ShortID mismatch: %s vs %s", short1, short2)
	}
	if len(short1) != 16 {
		t.Fatalf("expected 16-hex short id, got %q", short1)
	}
}

func TestFingerprintAndFormattedFingerprintShareBytes(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	full := id.Fingerprint()
	if len(full) != 64 {
		t.Fatalf("expected 64-hex fingerprint, got len %d", len(full))
	}
	formatted := id.FormattedFingerprint()
	stripped := ""
	for _, r := range formatted {
		if r != ' ' {
			stripped += string(r)
		}
	}
	if full[:16] != toLowerASCII(stripped) {
		t.Fatalf("formatted fingerprint %q does not match full fingerprint prefix %q", stripped, full[:16])
	}
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func TestToShortCollapsesAllForms(t *testing.T) {
	id, _ := New()
	full := hexEncode(id.StaticPublic[:])
	short := id.ShortID()

	forms := []string{
		full,
		short,
		"mesh:" + full,
		"noise:" + full,
		"name:alice",
		"nostr:npub1somekey",
		"nostr_somekey",
	}

	if ToShort(full) != short {
		t.Fatalf("full form did not collapse to short id")
	}
	if ToShort(short) != short {
		t.Fatalf("short form was not stable under ToShort")
	}
	if ToShort("mesh:"+full) != short {
		t.Fatalf("mesh: prefixed full form did not collapse to short id")
	}

	// Every out-of-band form must be deterministic and stable across calls.
	for _, f := range forms {
		if ToShort(f) != ToShort(f) {
			t.Fatalf("ToShort(%q) not deterministic", f)
		}
	}
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xF]
	}
	return string(out)
}
