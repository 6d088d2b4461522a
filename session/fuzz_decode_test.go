package session

import (
	"bytes"
	"testing"
	"time"
)

// FuzzDecode feeds arbitrary blobs through the decoder. Anything that
// decodes must re-encode to the same bytes.
func FuzzDecode(f *testing.F) {
	encoded, err := Encode(&Record{
		UserID:    "user1",
		TenantID:  "tenant1",
		TokenHash: [32]byte{1, 2, 3},
		IP:        "10.0.0.1",
		UserAgent: "fuzz/1.0",
		IssuedAt:  time.UnixMilli(1700000000000),
		ExpiresAt: time.UnixMilli(1700003600000),
	})
	if err != nil {
		f.Fatal(err)
	}

	f.Add(encoded)
	f.Add([]byte{})
	f.Add([]byte{0})
	f.Add([]byte{formatVersion})
	f.Add([]byte{255, 255, 255})
	f.Add(encoded[:headerSize])
	f.Add(encoded[:len(encoded)-1])
	f.Add(append(append([]byte{}, encoded...), 0))

	f.Fuzz(func(t *testing.T, data []byte) {
		rec, err := Decode(data)
		if err != nil {
			return
		}
		out, err := Encode(rec)
		if err != nil {
			t.Fatalf("re-encode failed: %v", err)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("re-encode mismatch:\n in=%x\nout=%x", data, out)
		}
	})
}
