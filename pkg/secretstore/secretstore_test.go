package secretstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSetGetRoundTrip 写入后重开库还能读到
func TestSetGetRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "secrets")

	ss, err := Open(OpenOptions{Path: dir})
	require.NoError(t, err)
	require.NoError(t, ss.SetString("wallet:private_key", "0xabc123"))
	require.NoError(t, ss.Close())

	ss, err = Open(OpenOptions{Path: dir, ReadOnly: true})
	require.NoError(t, err)
	defer ss.Close()

	got, found, err := ss.GetString("wallet:private_key")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "0xabc123", got)
}

// TestGetMissingKey 不存在的键返回 found=false 而不是错误
func TestGetMissingKey(t *testing.T) {
	ss, err := Open(OpenOptions{Path: filepath.Join(t.TempDir(), "secrets")})
	require.NoError(t, err)
	defer ss.Close()

	_, found, err := ss.GetString("wallet:mnemonic")
	require.NoError(t, err)
	require.False(t, found)
}

// TestOpenEncrypted 加密库必须用同一把密钥重开
func TestOpenEncrypted(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "secrets")
	key, err := ParseKey("0x000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	require.Len(t, key, 32)

	ss, err := Open(OpenOptions{Path: dir, EncryptionKey: key})
	require.NoError(t, err)
	require.NoError(t, ss.SetString("wallet:mnemonic", "abandon abandon ..."))
	require.NoError(t, ss.Close())

	// 不带密钥打开应失败
	_, err = Open(OpenOptions{Path: dir})
	require.Error(t, err)

	ss, err = Open(OpenOptions{Path: dir, EncryptionKey: key})
	require.NoError(t, err)
	defer ss.Close()
	got, found, err := ss.GetString("wallet:mnemonic")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "abandon abandon ...", got)
}

// TestParseKey hex 和 base64 两种格式，错误长度被拒
func TestParseKey(t *testing.T) {
	k, err := ParseKey("")
	require.NoError(t, err)
	require.Nil(t, k)

	_, err = ParseKey("deadbeef")
	require.Error(t, err)

	k, err = ParseKey("AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8=")
	require.NoError(t, err)
	require.Len(t, k, 32)
}
