package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/source"
)

func sampleArchive() *Archive {
	base := "base-1"
	return &Archive{
		ID:            "arc-1",
		SchemaVersion: "2",
		CreatedAt:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		BaseID:        &base,
		Tables: map[string][]source.Row{
			"patient": {
				{"id": int64(1), "name": "ada", "score": 3.5, "active": true, "note": nil},
				{"id": int64(2), "name": "grace", "score": 7.25, "active": false, "note": "x"},
			},
		},
		Tombstones: map[string][]source.Row{
			"patient": {{"id": int64(3)}},
		},
	}
}

func TestCodecRoundTripAllAlgorithms(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionGzip, CompressionLZ4, CompressionZstd} {
		t.Run(string(compression), func(t *testing.T) {
			codec := &Codec{Compression: compression}
			original := sampleArchive()

			data, meta, err := codec.Encode(original)
			require.NoError(t, err)
			assert.Equal(t, string(compression), meta.Compression)
			assert.Equal(t, KindDelta, meta.Kind)
			assert.Equal(t, 2, meta.RowCount)
			assert.Equal(t, 1, meta.Tombstones)
			assert.False(t, meta.Encrypted)

			decoded, err := codec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, original.ID, decoded.ID)
			assert.Equal(t, original.SchemaVersion, decoded.SchemaVersion)
			require.NotNil(t, decoded.BaseID)
			assert.Equal(t, "base-1", *decoded.BaseID)
			assert.Equal(t, original.Tables, decoded.Tables)
			assert.Equal(t, original.Tombstones, decoded.Tombstones)
		})
	}
}

func TestCodecRestoresConcreteNumberTypes(t *testing.T) {
	codec := &Codec{Compression: CompressionZstd}
	original := &Archive{
		ID:            "arc-1",
		SchemaVersion: "1",
		Tables: map[string][]source.Row{
			"t": {{"count": int64(42), "ratio": 0.5}},
		},
	}

	data, _, err := codec.Encode(original)
	require.NoError(t, err)
	decoded, err := codec.Decode(data)
	require.NoError(t, err)

	row := decoded.Tables["t"][0]
	assert.IsType(t, int64(0), row["count"])
	assert.IsType(t, float64(0), row["ratio"])
}

func TestCodecEncryptedRoundTrip(t *testing.T) {
	codec := &Codec{Compression: CompressionGzip, Passphrase: "correct horse"}
	original := sampleArchive()

	data, meta, err := codec.Encode(original)
	require.NoError(t, err)
	assert.True(t, meta.Encrypted)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, original.Tables, decoded.Tables)
}

func TestCodecWrongPassphrase(t *testing.T) {
	data, _, err := (&Codec{Passphrase: "right"}).Encode(sampleArchive())
	require.NoError(t, err)

	_, err = (&Codec{Passphrase: "wrong"}).Decode(data)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCorruption, apperrors.KindOf(err))
}

func TestCodecEncryptedWithoutKey(t *testing.T) {
	data, _, err := (&Codec{Passphrase: "secret"}).Encode(sampleArchive())
	require.NoError(t, err)

	_, err = (&Codec{}).Decode(data)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindStorage, apperrors.KindOf(err))
}

func TestCodecDetectsTampering(t *testing.T) {
	codec := &Codec{Compression: CompressionGzip}
	data, _, err := codec.Encode(sampleArchive())
	require.NoError(t, err)

	data[len(data)-1] ^= 0xFF
	_, err = codec.Decode(data)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCorruption, apperrors.KindOf(err))
}

func TestCodecRejectsGarbage(t *testing.T) {
	codec := &Codec{}

	_, err := codec.Decode([]byte("short"))
	assert.Equal(t, apperrors.KindCorruption, apperrors.KindOf(err))

	junk := make([]byte, headerSize+10)
	_, err = codec.Decode(junk)
	assert.Equal(t, apperrors.KindCorruption, apperrors.KindOf(err))
}

func TestCodecRawKeyRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	encryptor, err := NewEncryptor(key)
	require.NoError(t, err)

	codec := &Codec{Compression: CompressionLZ4, Encryptor: encryptor}
	data, _, err := codec.Encode(sampleArchive())
	require.NoError(t, err)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "arc-1", decoded.ID)
}
