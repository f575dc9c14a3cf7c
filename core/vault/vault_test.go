package vault

import (
	"strings"
	"testing"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestNewRejectsBadKeys(t *testing.T) {
	cases := []string{"", "abc", "zz" + testKey[2:], testKey[:32]}
	for _, key := range cases {
		if _, err := New(key); err != ErrNoKey {
			t.Errorf("New(%q): got %v, want ErrNoKey", key, err)
		}
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t)

	for _, plaintext := range []string{"refresh-token-value", "", "ya29.a0AfH6SMC-long-token"} {
		token, err := v.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if parts := strings.Split(token, ":"); len(parts) != 3 {
			t.Fatalf("stored form has %d parts, want 3", len(parts))
		}
		got, err := v.Decrypt(token)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip: got %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptUsesFreshNonces(t *testing.T) {
	v := newTestVault(t)

	a, _ := v.Encrypt("same secret")
	b, _ := v.Encrypt("same secret")
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical output")
	}
}

func TestDecryptRejectsTamperedValue(t *testing.T) {
	v := newTestVault(t)

	token, err := v.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	// Flip one hex digit of the ciphertext part.
	parts := strings.Split(token, ":")
	last := parts[2]
	flipped := "0"
	if last[0] == '0' {
		flipped = "1"
	}
	parts[2] = flipped + last[1:]

	if _, err := v.Decrypt(strings.Join(parts, ":")); err != ErrIntegrity {
		t.Errorf("tampered ciphertext: got %v, want ErrIntegrity", err)
	}
}

func TestDecryptRejectsMalformedValues(t *testing.T) {
	v := newTestVault(t)

	for _, token := range []string{"", "abc", "a:b", "zz:zz:zz", "00:00:00"} {
		if _, err := v.Decrypt(token); err != ErrMalformed {
			t.Errorf("Decrypt(%q): got %v, want ErrMalformed", token, err)
		}
	}
}

func TestStateSignAndVerify(t *testing.T) {
	v := newTestVault(t)

	state := v.SignState("user-id:nonce123")
	if err := v.VerifyState(state); err != nil {
		t.Fatalf("VerifyState on fresh state: %v", err)
	}
}

func TestVerifyStateRejectsTampering(t *testing.T) {
	v := newTestVault(t)
	state := v.SignState("nonce123")

	flip := "0"
	if state[len(state)-1] == '0' {
		flip = "1"
	}
	cases := []string{
		"",
		"nonce123",                  // no signature
		state[:len(state)-1] + flip, // flipped signature digit
		"other." + strings.SplitN(state, ".", 2)[1], // signature for a different nonce
	}
	for _, bad := range cases {
		if err := v.VerifyState(bad); err != ErrBadState {
			t.Errorf("VerifyState(%q): got %v, want ErrBadState", bad, err)
		}
	}
}

func TestDifferentKeysCannotDecrypt(t *testing.T) {
	v1 := newTestVault(t)
	v2, err := New("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	token, _ := v1.Encrypt("secret")
	if _, err := v2.Decrypt(token); err != ErrIntegrity {
		t.Errorf("decrypt with wrong key: got %v, want ErrIntegrity", err)
	}
}
