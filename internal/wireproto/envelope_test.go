package wireproto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadEnvelopeRoundTrip(t *testing.T) {
	env := &Envelope{
		JSON:  `[{"AddEntity":{"class":"Patient"}}]`,
		Blobs: [][]byte{[]byte("blob-one"), {}, []byte("blob-three")},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteEnvelope(&buf, env))

	got, err := ReadEnvelope(&buf)
	require.NoError(t, err)

	assert.Equal(t, env.JSON, got.JSON)
	assert.Equal(t, env.Blobs, got.Blobs)
}

func TestReadEnvelopeEmptyStreamReturnsEOF(t *testing.T) {
	_, err := ReadEnvelope(bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestReadEnvelopeRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := ReadEnvelope(&buf)
	assert.Error(t, err)
}

func TestWriteReadEnvelopeNoBlobs(t *testing.T) {
	env := &Envelope{JSON: `[]`}
	var buf bytes.Buffer
	require.NoError(t, WriteEnvelope(&buf, env))
	got, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Equal(t, "[]", got.JSON)
	assert.Empty(t, got.Blobs)
}
