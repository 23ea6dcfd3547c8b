package output

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Kind   string `json:"kind" yaml:"kind"`
	Reason string `json:"reason" yaml:"reason"`
}

func (s sample) String() string { return s.Kind + ": " + s.Reason }

func TestRegistry_Register_And_Lookup(t *testing.T) {
	r := NewRegistry()
	r.Register("upper", func(w io.Writer, _ any) error {
		_, err := w.Write([]byte("HELLO"))
		return err
	})

	enc, err := r.Encoder("upper")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, enc(&buf, nil))
	assert.Equal(t, "HELLO", buf.String())
}

func TestRegistry_UnknownFormat(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.Encoder("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
	assert.Contains(t, err.Error(), "json, text, yaml")
}

func TestRegistry_Formats(t *testing.T) {
	assert.Equal(t, []string{"json", "text", "yaml"}, DefaultRegistry().Formats())
	assert.Equal(t, "none", NewRegistry().AvailableFormats())
}

func TestEncoders(t *testing.T) {
	v := sample{Kind: "full", Reason: "manifest updated"}

	tests := []struct {
		format string
		want   string
	}{
		{"text", "full: manifest updated\n"},
		{"json", "{\n  \"kind\": \"full\",\n  \"reason\": \"manifest updated\"\n}\n"},
		{"yaml", "kind: full\nreason: manifest updated\n"},
	}

	r := DefaultRegistry()

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			enc, err := r.Encoder(tt.format)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, enc(&buf, v))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestEncodeText_NonStringer(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeText(&buf, 42))
	assert.Equal(t, "42\n", buf.String())
}
