package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashIsSelfDescribingAndStable(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		payload []byte
		want    string
	}{
		"text payload": {
			payload: []byte("hello world"),
			want:    "sha256-b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
		"empty body": {
			payload: nil,
			want:    "sha256-e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}
	h := New()
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := h.Hash(tc.payload)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)

			again, err := h.Hash(tc.payload)
			require.NoError(t, err)
			require.Equal(t, got, again)
		})
	}
}
