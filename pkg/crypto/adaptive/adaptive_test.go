package adaptive

import (
	"bytes"
	"errors"
	"testing"
)

var key32 = func() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}()

func allCiphers(t *testing.T) []Cipher {
	t.Helper()
	var out []Cipher
	for _, typ := range []CipherType{CipherAESGCM, CipherChaCha20, CipherXChaCha20} {
		c, err := NewWithType(key32, typ)
		if err != nil {
			t.Fatalf("NewWithType(%s): %v", typ, err)
		}
		if c.Type() != typ {
			t.Fatalf("Type() = %s, want %s", c.Type(), typ)
		}
		out = append(out, c)
	}
	return out
}

func TestSealOpen(t *testing.T) {
	tests := []struct {
		name      string
		prefix    []byte
		plaintext []byte
		aad       []byte
	}{
		{"empty", nil, []byte{}, nil},
		{"simple", nil, []byte("hello world"), nil},
		{"with header", []byte{0, 0, 0, 1}, []byte("secret"), []byte{0, 0, 0, 1}},
		{"large", nil, bytes.Repeat([]byte("A"), 4096), nil},
	}

	for _, c := range allCiphers(t) {
		for _, tt := range tests {
			t.Run(string(c.Type())+"/"+tt.name, func(t *testing.T) {
				sealed, err := c.Seal(append([]byte{}, tt.prefix...), tt.plaintext, tt.aad)
				if err != nil {
					t.Fatalf("Seal() error = %v", err)
				}
				if !bytes.Equal(sealed[:len(tt.prefix)], tt.prefix) {
					t.Fatalf("Seal() clobbered the prefix")
				}
				body := sealed[len(tt.prefix):]
				if len(body) != len(tt.plaintext)+c.Overhead() {
					t.Errorf("sealed length = %d, want %d", len(body), len(tt.plaintext)+c.Overhead())
				}

				plaintext, err := c.Open(body, tt.aad)
				if err != nil {
					t.Fatalf("Open() error = %v", err)
				}
				if !bytes.Equal(plaintext, tt.plaintext) {
					t.Errorf("Open() = %q, want %q", plaintext, tt.plaintext)
				}
			})
		}
	}
}

func TestOpen_Rejects(t *testing.T) {
	for _, c := range allCiphers(t) {
		sealed, err := c.Seal(nil, []byte("payload"), []byte("hdr"))
		if err != nil {
			t.Fatal(err)
		}

		tampered := append([]byte{}, sealed...)
		tampered[len(tampered)-1] ^= 0xFF
		if _, err := c.Open(tampered, []byte("hdr")); err == nil {
			t.Errorf("%s: tampered ciphertext opened", c.Type())
		}
		if _, err := c.Open(sealed, []byte("other")); err == nil {
			t.Errorf("%s: wrong additional data accepted", c.Type())
		}
		if _, err := c.Open([]byte{1, 2}, nil); !errors.Is(err, ErrCiphertextTooShort) {
			t.Errorf("%s: short input = %v, want ErrCiphertextTooShort", c.Type(), err)
		}
	}
}

func TestSeal_UniqueNonces(t *testing.T) {
	c, err := New(key32)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := c.Seal(nil, []byte("same"), nil)
	b, _ := c.Seal(nil, []byte("same"), nil)
	if bytes.Equal(a, b) {
		t.Error("two seals of the same plaintext are identical")
	}
}

func TestKeyValidation(t *testing.T) {
	tests := []struct {
		typ     CipherType
		keyLen  int
		wantErr bool
	}{
		{CipherAESGCM, 16, false},
		{CipherAESGCM, 24, false},
		{CipherAESGCM, 15, true},
		{CipherChaCha20, 16, true},
		{CipherXChaCha20, 33, true},
	}
	for _, tt := range tests {
		_, err := NewWithType(make([]byte, tt.keyLen), tt.typ)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewWithType(%s, %d bytes) error = %v, wantErr %v", tt.typ, tt.keyLen, err, tt.wantErr)
		}
	}
	if _, err := NewWithType(key32, "rot13"); !errors.Is(err, ErrUnknownCipher) {
		t.Errorf("unknown type error = %v", err)
	}
}

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey([]byte("short secret"), nil, "frame")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != KeySize {
		t.Fatalf("len = %d, want %d", len(a), KeySize)
	}
	b, _ := DeriveKey([]byte("short secret"), nil, "frame")
	c, _ := DeriveKey([]byte("short secret"), nil, "other")
	if !bytes.Equal(a, b) {
		t.Error("derivation is not deterministic")
	}
	if bytes.Equal(a, c) {
		t.Error("info does not separate keys")
	}
	if _, err := DeriveKey(nil, nil, "frame"); err == nil {
		t.Error("empty secret accepted")
	}
}
