package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func FuzzVerify(f *testing.F) {
	// Seed with a valid 3-entry chain
	validLog := filepath.Join(f.TempDir(), "valid.jsonl")
	j, err := Open(context.Background(), validLog)
	if err != nil {
		f.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		j.Append(context.Background(), Entry{Event: "approved", UserID: "fuzz", AmountUSD: "1"})
	}
	j.Close(context.Background())
	validData, _ := os.ReadFile(validLog)
	f.Add(validData)

	f.Add([]byte{})
	f.Add([]byte(`{"not":"a valid entry"}` + "\n"))
	f.Add([]byte(`not json`))

	f.Fuzz(func(t *testing.T, data []byte) {
		tmpFile := filepath.Join(t.TempDir(), "fuzz.jsonl")
		os.WriteFile(tmpFile, data, 0600)

		// Must not panic
		Verify(tmpFile)
		lineCodec{}.Decode(data, lineCodec{}.New())
	})
}
