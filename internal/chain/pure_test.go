package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress("0x6")
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000000000000000000000000000000000000000000000000000006", got)

	_, err = NormalizeAddress("0xzz")
	assert.Error(t, err)

	_, err = NormalizeAddress("")
	assert.Error(t, err)
}

func TestPureEncoding(t *testing.T) {
	assert.Equal(t, []byte{0x2c, 0x01, 0, 0, 0, 0, 0, 0}, PureU64(300).Pure)
	assert.Equal(t, []byte{1}, PureBool(true).Pure)
	assert.Equal(t, []byte{3, 'a', 'b', 'c'}, PureString("abc").Pure)

	addr, err := PureAddress("0x2")
	require.NoError(t, err)
	assert.Len(t, addr.Pure, AddressLength)
	assert.Equal(t, byte(2), addr.Pure[AddressLength-1])
}

func TestAppendULEB128(t *testing.T) {
	assert.Equal(t, []byte{0x00}, AppendULEB128(nil, 0))
	assert.Equal(t, []byte{0x7f}, AppendULEB128(nil, 127))
	assert.Equal(t, []byte{0x80, 0x01}, AppendULEB128(nil, 128))
	assert.Equal(t, []byte{0xac, 0x02}, AppendULEB128(nil, 300))
}
