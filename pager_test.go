package chidb

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPagerWriteReadHeader(t *testing.T) {
	db, err := os.CreateTemp(os.TempDir(), t.Name())
	require.NoError(t, err)

	pager, err := OpenPager(db.Name())
	require.NoError(t, err)
	require.NoError(t, pager.SetPageSize(DefaultPageSize))

	written := encodeFileHeader(DefaultPageSize, 1, 0, 42)
	require.NoError(t, pager.WriteHeader(written))

	read, err := pager.ReadHeader()
	require.NoError(t, err)

	assert.Equal(t, HeaderSize, len(read))
	assert.Equal(t, written, read)
}

func TestPagerDecodeFileHeaderRoundTrip(t *testing.T) {
	encoded := encodeFileHeader(4096, 7, 3, 99)

	pageSize, changeCounter, schemaVersion, pageCacheSize, userCookie, err := decodeFileHeader(encoded)
	require.NoError(t, err)

	assert.Equal(t, uint32(4096), pageSize)
	assert.Equal(t, uint32(7), changeCounter)
	assert.Equal(t, uint32(3), schemaVersion)
	assert.Equal(t, uint32(PageCacheSizeInitial), pageCacheSize)
	assert.Equal(t, uint32(99), userCookie)
}

func TestPagerDecodeFileHeaderMaxPageSizeQuirk(t *testing.T) {
	encoded := encodeFileHeader(MaxPageSize, 0, 0, 0)

	pageSize, _, _, _, _, err := decodeFileHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint32(MaxPageSize), pageSize)
}

func TestPagerDecodeFileHeaderCorrupt(t *testing.T) {
	encoded := encodeFileHeader(DefaultPageSize, 0, 0, 0)
	encoded[0] ^= 0xFF

	_, _, _, _, _, err := decodeFileHeader(encoded)
	assert.Equal(t, ErrCorruptHeader, err)
}

func TestPagerAllocateReadWritePage(t *testing.T) {
	db, err := os.CreateTemp(os.TempDir(), t.Name())
	require.NoError(t, err)

	pager, err := OpenPager(db.Name())
	require.NoError(t, err)
	require.NoError(t, pager.SetPageSize(DefaultPageSize))

	n := pager.AllocatePage()
	assert.Equal(t, uint32(1), n)

	page, err := pager.ReadPage(n)
	require.NoError(t, err)
	require.NoError(t, page.WriteAt([]byte("hello"), 10))
	require.NoError(t, pager.WritePage(page))

	reread, err := pager.ReadPage(n)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), reread.Read()[10:15])
}

func TestPagerSetPageSizeRejectsInvalid(t *testing.T) {
	db, err := os.CreateTemp(os.TempDir(), t.Name())
	require.NoError(t, err)

	pager, err := OpenPager(db.Name())
	require.NoError(t, err)

	assert.Error(t, pager.SetPageSize(511))
	assert.Error(t, pager.SetPageSize(65537))
	assert.Error(t, pager.SetPageSize(1000))
}
