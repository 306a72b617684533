package bytes

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalText(t *testing.T) {
	bz := []byte("hello world")
	dataB := HexBytes(bz)
	bz2, err := dataB.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "68656C6C6F20776F726C64", string(bz2))

	var dataB2 HexBytes
	err = dataB2.UnmarshalText(bz2)
	require.NoError(t, err)
	assert.Equal(t, dataB, dataB2)
}

// Test that the hex encoding works round-trip through JSON.
func TestJSONMarshal(t *testing.T) {
	type TestStruct struct {
		B1 []byte   `json:"b1"`
		B2 HexBytes `json:"b2"`
	}

	cases := []struct {
		input    []byte
		expected string
	}{
		{[]byte(``), `{"b1":"","b2":""}`},
		{[]byte(`a`), `{"b1":"YQ==","b2":"61"}`},
		{[]byte(`abc`), `{"b1":"YWJj","b2":"616263"}`},
	}

	for i, tc := range cases {
		tc := tc
		t.Run(fmt.Sprintf("Case %d", i), func(t *testing.T) {
			ts := TestStruct{B1: tc.input, B2: tc.input}

			// Test that it marshals correctly to JSON.
			jsonBytes, err := json.Marshal(ts)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, string(jsonBytes))

			// Test that unmarshaling works correctly.
			ts2 := TestStruct{}
			err = json.Unmarshal(jsonBytes, &ts2)
			require.NoError(t, err)
			assert.Equal(t, ts.B1, ts2.B1)
			assert.Equal(t, ts.B2, ts2.B2)
		})
	}
}

func TestHexBytes_String(t *testing.T) {
	hs := HexBytes([]byte("test me"))
	if _, err := fmt.Sscanf(hs.String(), "%s", &hs); err != nil {
		t.Error(err)
	}
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, Fingerprint([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
	assert.Equal(t, []byte{1, 2, 0, 0, 0, 0}, Fingerprint([]byte{1, 2}))
}
