package crypto

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	ctx, err := NewContext(key)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	plaintext := []byte("the quick brown fox")
	env, err := ctx.SealUDP(plaintext)
	if err != nil {
		t.Fatalf("SealUDP: %v", err)
	}
	got, err := ctx.OpenUDP(env)
	if err != nil {
		t.Fatalf("OpenUDP: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	key1 := make([]byte, 16)
	key2 := make([]byte, 16)
	key2[0] = 0xFF

	ctx1, _ := NewContext(key1)
	ctx2, _ := NewContext(key2)

	env, err := ctx1.SealUDP([]byte("secret"))
	if err != nil {
		t.Fatalf("SealUDP: %v", err)
	}
	if _, err := ctx2.OpenUDP(env); err == nil {
		t.Fatal("expected decryption under the wrong key to fail")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	key := make([]byte, 16)
	ctx, _ := NewContext(key)

	env, _ := ctx.SealUDP([]byte("hello world"))
	env.Ciphertext[0] ^= 0xFF

	if _, err := ctx.OpenUDP(env); err == nil {
		t.Fatal("expected tampered ciphertext to fail authentication")
	}
}

func TestInvalidKeySize(t *testing.T) {
	if _, err := NewContext(make([]byte, 7)); err == nil {
		t.Fatal("expected error for invalid key size")
	}
}
