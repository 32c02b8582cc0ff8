package addressing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{input: "localhost:7687", wantHost: "localhost", wantPort: 7687},
		{input: "10.0.0.2:17601", wantHost: "10.0.0.2", wantPort: 17601},
		{input: "[::1]:7687", wantHost: "::1", wantPort: 7687},
		{input: "localhost", wantErr: true},
		{input: "localhost:notaport", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			addr, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, addr.Host)
			assert.Equal(t, tt.wantPort, addr.Port)
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	addr := New("localhost", 7687)
	parsed, err := Parse(addr.String())
	require.NoError(t, err)
	assert.True(t, addr.Equal(parsed))
}

func TestEqual(t *testing.T) {
	assert.True(t, Local(7687).Equal(New("localhost", 7687)))
	assert.False(t, Local(7687).Equal(Local(7688)))
	assert.False(t, Local(7687).Equal(New("otherhost", 7687)))
}

func TestList(t *testing.T) {
	list := List{Local(17601), Local(17602)}
	assert.Equal(t, "localhost:17601 localhost:17602", list.String())

	parsed, err := ParseList("localhost:17601  localhost:17602")
	require.NoError(t, err)
	assert.Equal(t, list, parsed)

	_, err = ParseList("localhost:17601 nope")
	assert.Error(t, err)
}
