package chidb

import (
	"encoding/binary"
	"fmt"
)

// MagicBytes is the fixed 16-byte magic string every chidb file begins
// with (the 15 ASCII bytes "SQLite format 3" plus a trailing NUL).
var MagicBytes = append([]byte("SQLite format 3"), 0x00)

// indexCellConst is the fixed 4-byte constant that separates the child
// page from the key in index cells.
var indexCellConst = []byte{0x0B, 0x03, 0x04, 0x04}

// BTree represents a chidb file: a single pager-backed file containing
// one B-tree per table or index, all sharing page 1's schema table as
// their root of discovery.
type BTree struct {
	pager *Pager
}

// openBTree opens a database file, creating it (with a fresh empty
// schema table in page 1) if it does not already exist. DB.Open is the
// public entry point; this is the lower layer it builds on.
func openBTree(filename string) (*BTree, error) {
	pager, err := OpenPager(filename)
	if err != nil {
		return nil, err
	}
	bt := &BTree{pager: pager}

	isEmpty, err := pager.IsEmpty()
	if err != nil {
		return nil, err
	}

	if isEmpty {
		if err := pager.SetPageSize(DefaultPageSize); err != nil {
			return nil, err
		}
		if err := bt.initializeHeader(); err != nil {
			return nil, err
		}
		if _, err := bt.NewNode(LeafTable); err != nil {
			return nil, err
		}
		return bt, nil
	}

	if err := bt.validateAndLoadHeader(); err != nil {
		return nil, err
	}
	return bt, nil
}

// Close closes the underlying pager.
func (b *BTree) Close() error {
	return b.pager.Close()
}

func (b *BTree) initializeHeader() error {
	return b.pager.WriteHeader(encodeFileHeader(b.pager.PageSize(), 0, 0, 0))
}

func (b *BTree) validateAndLoadHeader() error {
	raw, err := b.pager.ReadHeader()
	if err != nil {
		return err
	}
	pageSize, _, _, pageCacheSize, _, err := decodeFileHeader(raw)
	if err != nil {
		return err
	}
	if pageCacheSize != PageCacheSizeInitial {
		return ErrCorruptHeader
	}
	return b.pager.SetPageSize(pageSize)
}

// GetNodeByPage loads a B-Tree node view over the given page. This is the
// only legitimate way to obtain a node; Go's garbage collector is the
// "release" facility spec.md asks for (per its design notes), so no
// explicit unpin step is required once the node goes out of scope.
func (b *BTree) GetNodeByPage(nPage uint32) (*BTreeNode, error) {
	page, err := b.pager.ReadPage(nPage)
	if err != nil {
		return nil, err
	}
	return btreeNodeFromPage(page, nPage == 1)
}

// NewNode allocates a fresh page and initializes it as an empty node of
// the requested type, committing it to disk.
func (b *BTree) NewNode(typ BTreeNodeType) (*BTreeNode, error) {
	nPage := b.pager.AllocatePage()
	page, err := b.pager.ReadPage(nPage)
	if err != nil {
		return nil, err
	}
	node := newBTreeNode(page, typ, nPage == 1, b.pager.PageSize())
	if err := b.WriteNode(node); err != nil {
		return nil, err
	}
	return node, nil
}

// WriteNode persists an in-memory node's header fields back to its page
// and writes the page through the pager. The cell offset array and cells
// themselves are mutated directly on the page by InsertCell, so only the
// header needs re-encoding here.
func (b *BTree) WriteNode(node *BTreeNode) error {
	if err := node.page.WriteAt(node.headerBytes(), node.base); err != nil {
		return err
	}
	return b.pager.WritePage(node.page)
}

// Find searches a table B-tree rooted at rootPage for the exact key,
// returning a copy of its payload bytes.
func (b *BTree) Find(rootPage uint32, key uint32) ([]byte, error) {
	node, err := b.GetNodeByPage(rootPage)
	if err != nil {
		return nil, err
	}
	for {
		if node.IsLeaf() {
			for i := uint16(0); i < node.nCells; i++ {
				cell, err := node.GetCell(i)
				if err != nil {
					return nil, err
				}
				if cell.key == key {
					payload := make([]byte, len(cell.payload))
					copy(payload, cell.payload)
					return payload, nil
				}
			}
			return nil, ErrNotFound
		}

		next, err := node.childFor(key)
		if err != nil {
			return nil, err
		}
		node, err = b.GetNodeByPage(next)
		if err != nil {
			return nil, err
		}
	}
}

// Insert inserts a cell into the B-tree rooted at rootPage, using the
// preemptive top-down split discipline from spec.md: the root is split
// before descent whenever it is full, so a leaf insertion never overflows.
func (b *BTree) Insert(rootPage uint32, cell *BTreeCell) error {
	root, err := b.GetNodeByPage(rootPage)
	if err != nil {
		return err
	}

	if root.HasRoom(cell) {
		return b.insertNonFull(root, cell)
	}

	newChild, err := b.NewNode(root.typ)
	if err != nil {
		return err
	}
	for i := uint16(0); i < root.nCells; i++ {
		c, err := root.GetCell(i)
		if err != nil {
			return err
		}
		if err := newChild.InsertCell(i, c); err != nil {
			return err
		}
	}
	newChild.rightPage = root.rightPage
	if err := b.WriteNode(newChild); err != nil {
		return err
	}

	newRootType := internalFamilyOf(root.typ)
	newRoot := newBTreeNode(root.page, newRootType, rootPage == 1, b.pager.PageSize())
	newRoot.rightPage = newChild.page.number
	if err := b.WriteNode(newRoot); err != nil {
		return err
	}

	if _, err := b.split(rootPage, newChild.page.number, 0); err != nil {
		return err
	}

	reloadedRoot, err := b.GetNodeByPage(rootPage)
	if err != nil {
		return err
	}
	return b.insertNonFull(reloadedRoot, cell)
}

func (b *BTree) insertNonFull(node *BTreeNode, cell *BTreeCell) error {
	for i := uint16(0); i < node.nCells; i++ {
		c, err := node.GetCell(i)
		if err != nil {
			return err
		}

		if c.key == cell.key && node.typ != InternalTable {
			return ErrDuplicate
		}

		if c.key >= cell.key {
			if node.IsLeaf() {
				if err := node.InsertCell(i, cell); err != nil {
					return err
				}
				return b.WriteNode(node)
			}

			child, err := b.GetNodeByPage(c.childPage)
			if err != nil {
				return err
			}
			if !child.HasRoom(cell) {
				if _, err := b.split(node.page.number, c.childPage, int(i)); err != nil {
					return err
				}
				reloaded, err := b.GetNodeByPage(node.page.number)
				if err != nil {
					return err
				}
				return b.insertNonFull(reloaded, cell)
			}
			return b.insertNonFull(child, cell)
		}
	}

	if node.IsLeaf() {
		if err := node.InsertCell(node.nCells, cell); err != nil {
			return err
		}
		return b.WriteNode(node)
	}

	if node.rightPage == 0 {
		return fmt.Errorf("internal node %d has no right page", node.page.number)
	}
	child, err := b.GetNodeByPage(node.rightPage)
	if err != nil {
		return err
	}
	if !child.HasRoom(cell) {
		if _, err := b.split(node.page.number, node.rightPage, int(node.nCells)); err != nil {
			return err
		}
		reloaded, err := b.GetNodeByPage(node.page.number)
		if err != nil {
			return err
		}
		return b.insertNonFull(reloaded, cell)
	}
	return b.insertNonFull(child, cell)
}

// split splits the node at childPage, which is a child of parentPage at
// (or, for a right-page split, conceptually beyond) parentCellIndex,
// promoting its median key into the parent. It returns the new left
// sibling's page number.
func (b *BTree) split(parentPage, childPage uint32, parentCellIndex int) (uint32, error) {
	parent, err := b.GetNodeByPage(parentPage)
	if err != nil {
		return 0, err
	}
	child, err := b.GetNodeByPage(childPage)
	if err != nil {
		return 0, err
	}

	m := child.nCells / 2
	median, err := child.GetCell(m)
	if err != nil {
		return 0, err
	}

	left, err := b.NewNode(child.typ)
	if err != nil {
		return 0, err
	}
	for i := uint16(0); i < m; i++ {
		c, err := child.GetCell(i)
		if err != nil {
			return 0, err
		}
		if err := left.InsertCell(i, c); err != nil {
			return 0, err
		}
	}
	if child.IsLeaf() {
		if err := left.InsertCell(m, median); err != nil {
			return 0, err
		}
	} else {
		left.rightPage = median.childPage
	}
	if err := b.WriteNode(left); err != nil {
		return 0, err
	}

	sep := &BTreeCell{typ: parent.typ, key: median.key, childPage: left.page.number}
	if parent.typ == InternalIndex {
		sep.keyPk = median.keyPk
	}
	if err := parent.InsertCell(uint16(parentCellIndex), sep); err != nil {
		return 0, err
	}
	if err := b.WriteNode(parent); err != nil {
		return 0, err
	}

	oldRightPage := child.rightPage
	tail := make([]*BTreeCell, 0, child.nCells)
	for i := m + 1; i < child.nCells; i++ {
		c, err := child.GetCell(i)
		if err != nil {
			return 0, err
		}
		tail = append(tail, c)
	}
	newChild := newBTreeNode(child.page, child.typ, childPage == 1, b.pager.PageSize())
	for i, c := range tail {
		if err := newChild.InsertCell(uint16(i), c); err != nil {
			return 0, err
		}
	}
	if !newChild.IsLeaf() {
		newChild.rightPage = oldRightPage
	}
	if err := b.WriteNode(newChild); err != nil {
		return 0, err
	}

	return left.page.number, nil
}

// BTreeNodeType identifies the on-disk shape of a node's cells.
type BTreeNodeType byte

const (
	InternalTable BTreeNodeType = 0x05
	LeafTable     BTreeNodeType = 0x0D
	InternalIndex BTreeNodeType = 0x02
	LeafIndex     BTreeNodeType = 0x0A
)

func (n BTreeNodeType) String() string {
	switch n {
	case InternalTable:
		return "table-internal"
	case LeafTable:
		return "table-leaf"
	case InternalIndex:
		return "index-internal"
	case LeafIndex:
		return "index-leaf"
	default:
		return fmt.Sprintf("<invalid node type 0x%02x>", byte(n))
	}
}

func btreeNodeTypeFromByte(b byte) (BTreeNodeType, error) {
	switch BTreeNodeType(b) {
	case InternalTable, LeafTable, InternalIndex, LeafIndex:
		return BTreeNodeType(b), nil
	}
	return 0, fmt.Errorf("invalid btree node type %#x", b)
}

func internalFamilyOf(typ BTreeNodeType) BTreeNodeType {
	if typ == LeafIndex || typ == InternalIndex {
		return InternalIndex
	}
	return InternalTable
}

// headerSizeFor returns the size, in bytes, of a node's fixed header:
// 8 for leaves, 12 for internal nodes (which carry a right-page pointer).
func headerSizeFor(typ BTreeNodeType) uint16 {
	switch typ {
	case InternalTable, InternalIndex:
		return 12
	default:
		return 8
	}
}

// BTreeNode is an in-memory view over a page, interpreted as a B-tree
// node. Any change to type/freeOffset/nCells/cellsOffset/rightPage must
// go through the node's fields and be persisted with BTree.WriteNode;
// changes to cells themselves are written directly to the page by
// InsertCell.
type BTreeNode struct {
	page *MemPage

	// base is the byte offset within the page where the node header
	// starts: 0 normally, HeaderSize (100) on page 1.
	base uint16

	typ         BTreeNodeType
	freeOffset  uint16
	nCells      uint16
	cellsOffset uint16
	rightPage   uint32
}

func newBTreeNode(page *MemPage, typ BTreeNodeType, isPageOne bool, pageSize uint32) *BTreeNode {
	base := uint16(0)
	if isPageOne {
		base = HeaderSize
	}
	return &BTreeNode{
		page:        page,
		base:        base,
		typ:         typ,
		freeOffset:  base + headerSizeFor(typ),
		nCells:      0,
		cellsOffset: uint16(pageSize),
		rightPage:   0,
	}
}

func btreeNodeFromPage(page *MemPage, isPageOne bool) (*BTreeNode, error) {
	base := uint16(0)
	if isPageOne {
		base = HeaderSize
	}
	data := page.Read()
	if int(base)+8 > len(data) {
		return nil, fmt.Errorf("page too small for node header")
	}

	typ, err := btreeNodeTypeFromByte(data[base])
	if err != nil {
		return nil, err
	}

	node := &BTreeNode{
		page:        page,
		base:        base,
		typ:         typ,
		freeOffset:  binary.BigEndian.Uint16(data[base+1 : base+3]),
		nCells:      binary.BigEndian.Uint16(data[base+3 : base+5]),
		cellsOffset: binary.BigEndian.Uint16(data[base+5 : base+7]),
	}
	if typ == InternalTable || typ == InternalIndex {
		node.rightPage = binary.BigEndian.Uint32(data[base+8 : base+12])
	}
	return node, nil
}

// headerBytes encodes this node's header fields for writing back to disk.
func (n *BTreeNode) headerBytes() []byte {
	size := headerSizeFor(n.typ)
	buf := make([]byte, size)
	buf[0] = byte(n.typ)
	binary.BigEndian.PutUint16(buf[1:3], n.freeOffset)
	binary.BigEndian.PutUint16(buf[3:5], n.nCells)
	binary.BigEndian.PutUint16(buf[5:7], n.cellsOffset)
	buf[7] = 0 // reserved
	if size == 12 {
		binary.BigEndian.PutUint32(buf[8:12], n.rightPage)
	}
	return buf
}

// Type returns the node's on-disk type.
func (n *BTreeNode) Type() BTreeNodeType { return n.typ }

// NCells returns the number of cells currently stored in this node.
func (n *BTreeNode) NCells() uint16 { return n.nCells }

// RightPage returns the right-child page number (internal nodes only).
func (n *BTreeNode) RightPage() uint32 { return n.rightPage }

// PageNumber returns the page number this node is backed by.
func (n *BTreeNode) PageNumber() uint32 { return n.page.number }

// IsLeaf reports whether this node is a leaf (table or index).
func (n *BTreeNode) IsLeaf() bool {
	return n.typ == LeafTable || n.typ == LeafIndex
}

// IsIndex reports whether this node belongs to an index B-tree.
func (n *BTreeNode) IsIndex() bool {
	return n.typ == InternalIndex || n.typ == LeafIndex
}

func (n *BTreeNode) cellArrayOffset() uint16 {
	return n.base + headerSizeFor(n.typ)
}

func (n *BTreeNode) readOffsets() []uint16 {
	data := n.page.Read()
	start := n.cellArrayOffset()
	offsets := make([]uint16, n.nCells)
	for i := uint16(0); i < n.nCells; i++ {
		offsets[i] = binary.BigEndian.Uint16(data[start+i*2 : start+i*2+2])
	}
	return offsets
}

func (n *BTreeNode) writeOffsets(offsets []uint16) error {
	buf := make([]byte, len(offsets)*2)
	for i, off := range offsets {
		binary.BigEndian.PutUint16(buf[i*2:i*2+2], off)
	}
	return n.page.WriteAt(buf, n.cellArrayOffset())
}

// HasRoom reports whether this node has enough free space to accept cell
// without splitting, per spec.md's predicate: cells_offset - free_offset
// >= encoded_size(cell).
func (n *BTreeNode) HasRoom(cell *BTreeCell) bool {
	return int(n.cellsOffset)-int(n.freeOffset) >= cellEncodedSize(n.typ, cell)
}

// GetCell reads and decodes the nCell-th cell (in cell-offset-array
// order, i.e. ascending key order).
func (n *BTreeNode) GetCell(nCell uint16) (*BTreeCell, error) {
	if nCell >= n.nCells {
		return nil, ErrCellOutOfRange
	}
	offsets := n.readOffsets()
	return decodeCell(n.page.Read(), offsets[nCell], n.typ)
}

// InsertCell inserts cell at position nCell in the cell offset array
// (nCell in [0, nCells]), shifting later entries forward. The caller
// must have already verified HasRoom.
func (n *BTreeNode) InsertCell(nCell uint16, cell *BTreeCell) error {
	if nCell > n.nCells {
		return ErrCellOutOfRange
	}

	encoded := encodeCell(n.typ, cell)
	newCellsOffset := n.cellsOffset - uint16(len(encoded))
	if err := n.page.WriteAt(encoded, newCellsOffset); err != nil {
		return err
	}
	n.cellsOffset = newCellsOffset

	offsets := n.readOffsets()
	offsets = append(offsets, 0)
	copy(offsets[nCell+1:], offsets[nCell:len(offsets)-1])
	offsets[nCell] = newCellsOffset

	n.nCells++
	n.freeOffset += 2
	return n.writeOffsets(offsets)
}

// childFor returns the child page to descend into while searching for
// key in a table B-tree: the first cell whose key is >= key, or the
// right page if none match.
func (n *BTreeNode) childFor(key uint32) (uint32, error) {
	page, _, err := n.childForWithIndex(key)
	return page, err
}

// childForWithIndex is childFor's cursor-facing twin: it also reports
// which cell index (or n_cells, for the right page) the descent used, so
// a cursor's trail can be positioned consistently with a later Next/Prev.
func (n *BTreeNode) childForWithIndex(key uint32) (uint32, uint16, error) {
	for i := uint16(0); i < n.nCells; i++ {
		c, err := n.GetCell(i)
		if err != nil {
			return 0, 0, err
		}
		if c.key >= key {
			return c.childPage, i, nil
		}
	}
	return n.rightPage, n.nCells, nil
}

// BTreeCell is an in-memory representation of a single cell, shaped
// according to the node type it belongs to.
type BTreeCell struct {
	typ BTreeNodeType

	key       uint32
	childPage uint32 // table-internal, index-internal
	keyPk     uint32 // index-internal, index-leaf: primary key of the indexed row
	payload   []byte // table-leaf: packed record bytes
}

// NewTableLeafCell builds a table-leaf cell for key with payload record.
func NewTableLeafCell(key uint32, payload []byte) *BTreeCell {
	return &BTreeCell{typ: LeafTable, key: key, payload: payload}
}

// NewIndexLeafCell builds an index-leaf cell mapping key to the primary
// key keyPk of the row it indexes.
func NewIndexLeafCell(key, keyPk uint32) *BTreeCell {
	return &BTreeCell{typ: LeafIndex, key: key, keyPk: keyPk}
}

// Key returns the cell's key.
func (c *BTreeCell) Key() uint32 { return c.key }

// Payload returns the table-leaf cell's record payload.
func (c *BTreeCell) Payload() []byte { return c.payload }

// PrimaryKey returns an index cell's referenced primary key.
func (c *BTreeCell) PrimaryKey() uint32 { return c.keyPk }

// ChildPage returns an internal cell's child page.
func (c *BTreeCell) ChildPage() uint32 { return c.childPage }

func cellEncodedSize(typ BTreeNodeType, cell *BTreeCell) int {
	switch typ {
	case LeafTable:
		return 8 + len(cell.payload)
	case InternalTable:
		return 8
	case LeafIndex:
		return 12
	case InternalIndex:
		return 16
	default:
		return 0
	}
}

func encodeCell(typ BTreeNodeType, cell *BTreeCell) []byte {
	switch typ {
	case LeafTable:
		buf := make([]byte, 8+len(cell.payload))
		binary.BigEndian.PutUint32(buf[0:4], uint32(len(cell.payload)))
		binary.BigEndian.PutUint32(buf[4:8], cell.key)
		copy(buf[8:], cell.payload)
		return buf
	case InternalTable:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint32(buf[0:4], cell.childPage)
		binary.BigEndian.PutUint32(buf[4:8], cell.key)
		return buf
	case LeafIndex:
		buf := make([]byte, 12)
		copy(buf[0:4], indexCellConst)
		binary.BigEndian.PutUint32(buf[4:8], cell.key)
		binary.BigEndian.PutUint32(buf[8:12], cell.keyPk)
		return buf
	case InternalIndex:
		buf := make([]byte, 16)
		binary.BigEndian.PutUint32(buf[0:4], cell.childPage)
		copy(buf[4:8], indexCellConst)
		binary.BigEndian.PutUint32(buf[8:12], cell.key)
		binary.BigEndian.PutUint32(buf[12:16], cell.keyPk)
		return buf
	default:
		return nil
	}
}

func decodeCell(page []byte, offset uint16, typ BTreeNodeType) (*BTreeCell, error) {
	switch typ {
	case LeafTable:
		if int(offset)+8 > len(page) {
			return nil, fmt.Errorf("cell at %d truncated", offset)
		}
		size := binary.BigEndian.Uint32(page[offset : offset+4])
		key := binary.BigEndian.Uint32(page[offset+4 : offset+8])
		if int(offset)+8+int(size) > len(page) {
			return nil, fmt.Errorf("cell at %d payload truncated", offset)
		}
		payload := make([]byte, size)
		copy(payload, page[offset+8:offset+8+uint16(size)])
		return &BTreeCell{typ: typ, key: key, payload: payload}, nil
	case InternalTable:
		child := binary.BigEndian.Uint32(page[offset : offset+4])
		key := binary.BigEndian.Uint32(page[offset+4 : offset+8])
		return &BTreeCell{typ: typ, key: key, childPage: child}, nil
	case LeafIndex:
		key := binary.BigEndian.Uint32(page[offset+4 : offset+8])
		pk := binary.BigEndian.Uint32(page[offset+8 : offset+12])
		return &BTreeCell{typ: typ, key: key, keyPk: pk}, nil
	case InternalIndex:
		child := binary.BigEndian.Uint32(page[offset : offset+4])
		key := binary.BigEndian.Uint32(page[offset+8 : offset+12])
		pk := binary.BigEndian.Uint32(page[offset+12 : offset+16])
		return &BTreeCell{typ: typ, key: key, keyPk: pk, childPage: child}, nil
	default:
		return nil, fmt.Errorf("invalid node type %v", typ)
	}
}
