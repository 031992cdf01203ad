package chidb

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// DefaultPageSize is used whenever a new database file is created without
// an explicit page size.
const DefaultPageSize = 1024

// HeaderSize is the fixed size, in bytes, of the file header that occupies
// the start of page 1.
const HeaderSize = 100

// PageCacheSizeInitial is the fixed page-cache-size hint baked into every
// freshly created file header.
const PageCacheSizeInitial = 20000

// MinPageSize and MaxPageSize bound the page sizes a pager will accept.
const (
	MinPageSize = 512
	MaxPageSize = 65536
)

// MemPage is an in-memory copy of one on-disk page. Changes made to a
// MemPage are not visible on disk until the owning Pager writes it back.
type MemPage struct {
	number uint32
	data   []byte
}

// Number returns the 1-based page number this page was read from.
func (m *MemPage) Number() uint32 {
	return m.number
}

// Read returns the full page buffer.
func (m *MemPage) Read() []byte {
	return m.data
}

// WriteAt overwrites data starting at byte offset `at` within the page.
func (m *MemPage) WriteAt(data []byte, at uint16) error {
	if int(at)+len(data) > len(m.data) {
		return fmt.Errorf("write at %d of length %d overflows page of size %d", at, len(data), len(m.data))
	}
	copy(m.data[at:], data)
	return nil
}

// Write replaces the entire page buffer; data must be exactly the page size.
func (m *MemPage) Write(data []byte) error {
	if len(data) != len(m.data) {
		return fmt.Errorf("invalid page size to write: expected %d got %d", len(m.data), len(data))
	}
	copy(m.data, data)
	return nil
}

// Len returns the page size in bytes.
func (m *MemPage) Len() int {
	return len(m.data)
}

// Pager provides fixed-size page read/write over a single database file.
// It is the sole writer of the file and owns the page count and page
// size; no caching is required for correctness, so none is attempted here
// beyond the transient MemPage returned to callers.
type Pager struct {
	file       *os.File
	totalPages uint32
	pageSize   uint32
}

// OpenPager opens (or creates) a file for paged access. The page size is
// not known until either SetPageSize is called (new file) or the header
// is read back (existing file); callers must establish one before reading
// pages past page 1's header.
func OpenPager(filename string) (*Pager, error) {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	p := &Pager{file: f, pageSize: DefaultPageSize}
	return p, nil
}

// SetPageSize configures the page size used for all subsequent paging
// operations, and derives the current page count from the file size.
func (p *Pager) SetPageSize(size uint32) error {
	if size < MinPageSize || size > MaxPageSize || size&(size-1) != 0 {
		return fmt.Errorf("invalid page size %d", size)
	}
	p.pageSize = size
	info, err := p.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() > 0 {
		p.totalPages = uint32(info.Size() / int64(size))
	}
	return nil
}

// PageSize returns the pager's current page size.
func (p *Pager) PageSize() uint32 {
	return p.pageSize
}

// PageCount returns the number of pages currently allocated in the file.
func (p *Pager) PageCount() uint32 {
	return p.totalPages
}

// IsEmpty reports whether the underlying file has never been written to.
func (p *Pager) IsEmpty() (bool, error) {
	info, err := p.file.Stat()
	if err != nil {
		return false, err
	}
	return info.Size() == 0, nil
}

// ReadHeader reads the first HeaderSize bytes of the file. This can be
// called even before the page size is known, since the header always
// occupies a fixed region at the start of the file.
func (p *Pager) ReadHeader() ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := p.file.ReadAt(header, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return header, nil
}

// WriteHeader writes the HeaderSize-byte file header.
func (p *Pager) WriteHeader(header []byte) error {
	if len(header) != HeaderSize {
		return fmt.Errorf("invalid header size %d", len(header))
	}
	_, err := p.file.WriteAt(header, 0)
	return err
}

// ReadPage reads a page from the file into a fresh MemPage.
func (p *Pager) ReadPage(page uint32) (*MemPage, error) {
	if err := p.pageIsValid(page); err != nil {
		return nil, err
	}

	data := make([]byte, p.pageSize)
	_, err := p.file.ReadAt(data, p.offset(page))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read page %d: %w", page, err)
	}
	log.WithFields(log.Fields{"page": page, "size": len(data)}).Debug("pager: read page")

	return &MemPage{number: page, data: data}, nil
}

// WritePage persists all page-size bytes of a MemPage to disk.
func (p *Pager) WritePage(page *MemPage) error {
	if err := p.pageIsValid(page.number); err != nil {
		return err
	}
	if l := len(page.data); l != int(p.pageSize) {
		return fmt.Errorf("invalid page data size: expected %d got %d", p.pageSize, l)
	}

	if _, err := p.file.WriteAt(page.data, p.offset(page.number)); err != nil {
		return err
	}
	log.WithFields(log.Fields{"page": page.number}).Debug("pager: wrote page")
	return nil
}

// AllocatePage reserves a new page number without writing anything. The
// caller is responsible for initializing and writing the page.
func (p *Pager) AllocatePage() uint32 {
	p.totalPages++
	return p.totalPages
}

// Close releases the underlying file handle.
func (p *Pager) Close() error {
	return p.file.Close()
}

func (p *Pager) pageIsValid(page uint32) error {
	if page == 0 || page > p.totalPages {
		return ErrPageOutOfRange
	}
	return nil
}

func (p *Pager) offset(page uint32) int64 {
	return int64(page-1) * int64(p.pageSize)
}

// --- file header helpers -----------------------------------------------

// fileHeaderTailConst1 is the fixed 6-byte run following the page size in
// the file header (write-version/read-version/reserved-space/max-embedded-
// payload-fraction/min-embedded-payload-fraction/leaf-payload-fraction, all
// fixed for a chidb file).
var fileHeaderTailConst1 = []byte{0x01, 0x01, 0x00, 0x40, 0x20, 0x20}

// fileHeaderConst2 is the fixed 4-byte constant following the schema
// version (the "schema format number", always 1 here).
var fileHeaderConst2 = []byte{0x00, 0x00, 0x00, 0x01}

// fileHeaderTailConst3 is the fixed 8-byte run preceding the user cookie,
// ending in a single 0x01 byte (the "text encoding" field, fixed to UTF-8).
var fileHeaderTailConst3 = []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01}

func encodeFileHeader(pageSize uint32, fileChangeCounter, schemaVersion, userCookie uint32) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:16], MagicBytes)
	// A stored value of 1 means "65536": the field is 16 bits wide and
	// can't represent 65536 directly, the same quirk the real SQLite
	// format uses.
	stored := uint16(pageSize)
	if pageSize == MaxPageSize {
		stored = 1
	}
	binary.BigEndian.PutUint16(buf[16:18], stored)
	copy(buf[18:24], fileHeaderTailConst1)
	// buf[24:28] reserved, left zero
	binary.BigEndian.PutUint32(buf[28:32], fileChangeCounter)
	// buf[32:40] reserved, left zero
	binary.BigEndian.PutUint32(buf[40:44], schemaVersion)
	copy(buf[44:48], fileHeaderConst2)
	binary.BigEndian.PutUint32(buf[48:52], PageCacheSizeInitial)
	copy(buf[52:60], fileHeaderTailConst3)
	binary.BigEndian.PutUint32(buf[60:64], userCookie)
	// buf[64:100] reserved, left zero
	return buf
}

func decodeFileHeader(b []byte) (pageSize uint32, fileChangeCounter, schemaVersion, pageCacheSize, userCookie uint32, err error) {
	if len(b) != HeaderSize {
		err = fmt.Errorf("invalid header length %d", len(b))
		return
	}
	if !equalBytes(b[0:16], MagicBytes) {
		err = ErrCorruptHeader
		return
	}
	rawPageSize := binary.BigEndian.Uint16(b[16:18])
	if rawPageSize <= 1 {
		pageSize = MaxPageSize
	} else {
		pageSize = uint32(rawPageSize)
	}
	if !equalBytes(b[18:24], fileHeaderTailConst1) {
		err = ErrCorruptHeader
		return
	}
	fileChangeCounter = binary.BigEndian.Uint32(b[28:32])
	schemaVersion = binary.BigEndian.Uint32(b[40:44])
	if !equalBytes(b[44:48], fileHeaderConst2) {
		err = ErrCorruptHeader
		return
	}
	pageCacheSize = binary.BigEndian.Uint32(b[48:52])
	if !equalBytes(b[52:60], fileHeaderTailConst3) {
		err = ErrCorruptHeader
		return
	}
	userCookie = binary.BigEndian.Uint32(b[60:64])
	return
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
