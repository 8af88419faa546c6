package sim

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRAMReadWrite(t *testing.T) {
	ram := NewRAM(64)

	require.NoError(t, ram.Write(0, 8, 0x0102030405060708))

	// Little-endian byte order.
	v, err := ram.Read(0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x08), v)

	v, err = ram.Read(2, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0506), v)

	v, err = ram.Read(4, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x01020304), v)
}

func TestRAMBounds(t *testing.T) {
	ram := NewRAM(16)

	_, err := ram.Read(12, 8)
	assert.Error(t, err)
	assert.Error(t, ram.Write(16, 1, 0))

	_, err = ram.Read(0, 3)
	assert.Error(t, err, "unsupported access size")
}

func TestBusRouting(t *testing.T) {
	bus := NewBus(0x8000_0000, 4096)
	console := &Console{Output: &bytes.Buffer{}}
	bus.Map(0x1000_0000, console)

	// RAM takes the fast path.
	require.NoError(t, bus.Write(0x8000_0010, 4, 0xdead))
	v, err := bus.Read(0x8000_0010, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdead), v)

	// Device accesses see bus-relative offsets.
	require.NoError(t, bus.Write(0x1000_0000, 1, 'x'))
	v, err = bus.Read(0x1000_0000, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v, "console read reports bytes written")

	// Holes in the map are errors.
	_, err = bus.Read(0x2000_0000, 4)
	assert.Error(t, err)
	assert.Error(t, bus.Write(0x7fff_fffc, 8, 0))
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	console := &Console{Output: &buf}

	for _, b := range []byte("hi\n") {
		require.NoError(t, console.Write(0, 1, uint64(b)))
	}

	assert.Equal(t, "hi\n", buf.String())
	n, err := console.Read(0, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func TestExitPortFiresOnce(t *testing.T) {
	var calls []uint64
	port := NewExitPort(func(code uint64) { calls = append(calls, code) })

	// Stores with bit 0 clear are ignored.
	require.NoError(t, port.Write(0, 4, 8))
	_, fired := port.ExitCode()
	assert.False(t, fired)

	require.NoError(t, port.Write(0, 4, 3<<1|1))
	code, fired := port.ExitCode()
	assert.True(t, fired)
	assert.Equal(t, uint64(3), code)

	// A second completion store keeps the first code and does not
	// re-notify.
	require.NoError(t, port.Write(0, 4, 9<<1|1))
	code, _ = port.ExitCode()
	assert.Equal(t, uint64(3), code)
	assert.Equal(t, []uint64{3}, calls)

	v, err := port.Read(0, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(3<<1|1), v)
}

func TestLoadBytes(t *testing.T) {
	bus := NewBus(0x8000_0000, 16)

	require.NoError(t, bus.LoadBytes(0x8000_0004, []byte{1, 2, 3}))
	v, err := bus.Read(0x8000_0004, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	assert.Error(t, bus.LoadBytes(0x7fff_ffff, []byte{1}))
	assert.Error(t, bus.LoadBytes(0x8000_000e, []byte{1, 2, 3}))
}
