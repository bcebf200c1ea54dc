package storage

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plain := []byte("%PDF-1.7 not really a pdf, but bytes are bytes")

	sealed, err := Encrypt(plain, "opens3same")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !IsEncrypted(sealed) {
		t.Fatal("sealed data should carry the envelope magic")
	}
	if bytes.Contains(sealed, plain) {
		t.Fatal("sealed data must not contain the plaintext")
	}

	got, err := Decrypt(sealed, "opens3same")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("round trip = %q, want %q", got, plain)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	sealed, err := Encrypt([]byte("secret sheets"), "right")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(sealed, "wrong"); err == nil {
		t.Fatal("wrong passphrase should fail authentication")
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	if _, err := Decrypt([]byte("too short"), "x"); err == nil {
		t.Fatal("short input should fail")
	}
	long := make([]byte, 128)
	if _, err := Decrypt(long, "x"); err == nil {
		t.Fatal("input without magic should fail")
	}
}

func TestEncryptUniquePerCall(t *testing.T) {
	// Fresh salt and nonce every call; identical plaintexts must not
	// produce identical objects.
	a, err := Encrypt([]byte("same"), "p")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt([]byte("same"), "p")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions produced identical output")
	}
}

func TestIsEncrypted(t *testing.T) {
	if IsEncrypted([]byte("%PDF-1.7")) {
		t.Error("plain pdf header misread as envelope")
	}
	if IsEncrypted(nil) {
		t.Error("nil misread as envelope")
	}
	if !IsEncrypted([]byte("GCM3NCR0rest")) {
		t.Error("magic prefix not recognized")
	}
}

func TestParseRef(t *testing.T) {
	cases := []struct {
		name       string
		ref        string
		defBucket  string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{"full ref", "s3://docs/reports/q3.pdf", "other", "docs", "reports/q3.pdf", false},
		{"bare key uses default", "reports/q3.pdf", "docs", "docs", "reports/q3.pdf", false},
		{"leading slash trimmed", "/reports/q3.pdf", "docs", "docs", "reports/q3.pdf", false},
		{"bare key without default", "reports/q3.pdf", "", "", "", true},
		{"missing key", "s3://docs", "", "", "", true},
		{"empty key", "s3://docs/", "", "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bucket, key, err := ParseRef(tc.ref, tc.defBucket)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseRef(%q) should fail", tc.ref)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRef(%q): %v", tc.ref, err)
			}
			if bucket != tc.wantBucket || key != tc.wantKey {
				t.Errorf("ParseRef(%q) = %q/%q, want %q/%q", tc.ref, bucket, key, tc.wantBucket, tc.wantKey)
			}
		})
	}
}
