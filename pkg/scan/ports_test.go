package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePortSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    []int
		wantErr bool
	}{
		{"single port", "80", []int{80}, false},
		{"comma list", "22,80,443", []int{22, 80, 443}, false},
		{"range", "8000-8003", []int{8000, 8001, 8002, 8003}, false},
		{"mixed list and range", "22, 8000-8002", []int{22, 8000, 8001, 8002}, false},
		{"duplicates collapse", "80,80,80", []int{80}, false},
		{"empty", "", nil, true},
		{"zero port", "0", nil, true},
		{"port too large", "65536", nil, true},
		{"inverted range", "100-22", nil, true},
		{"garbage", "http", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePortSpec(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePortSpec_FullRange(t *testing.T) {
	ports, err := ParsePortSpec("1-1024")
	require.NoError(t, err)
	assert.Len(t, ports, 1024)
	assert.Equal(t, 1, ports[0])
	assert.Equal(t, 1024, ports[1023])
}

func TestServiceForPort(t *testing.T) {
	assert.Equal(t, "ssh", ServiceForPort(22).Name)
	assert.Equal(t, "https", ServiceForPort(443).Name)

	unknown := ServiceForPort(49152)
	assert.Empty(t, unknown.Name)
	assert.Equal(t, "tcp", unknown.Protocol)
}
