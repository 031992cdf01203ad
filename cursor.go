package chidb

import "fmt"

// SeekMode selects the comparator a Cursor.Seek call honors.
type SeekMode int

const (
	SeekEQ SeekMode = iota
	SeekGT
	SeekGE
	SeekLT
	SeekLE
)

// trailEntry is one frame of a cursor's descent path: the node at this
// depth, and which of its cells is currently selected.
type trailEntry struct {
	node      *BTreeNode
	cellIndex uint16
}

// Cursor is a read-only, stateful iterator over a single B-tree. It never
// mutates the tree; writes go through BTree.Insert directly.
type Cursor struct {
	bt       *BTree
	rootPage uint32

	trail   []trailEntry
	current *BTreeCell
}

// NewCursor initializes (but does not position) a cursor over the tree
// rooted at rootPage. Callers must call Rewind or Seek before reading.
func NewCursor(bt *BTree, rootPage uint32) (*Cursor, error) {
	root, err := bt.GetNodeByPage(rootPage)
	if err != nil {
		return nil, err
	}
	return &Cursor{
		bt:       bt,
		rootPage: rootPage,
		trail:    []trailEntry{{node: root, cellIndex: 0}},
	}, nil
}

// Current returns the cell the cursor is positioned on.
func (c *Cursor) Current() *BTreeCell {
	return c.current
}

// Rewind positions the cursor on the first (leftmost) cell of the tree.
// Returns ErrEmpty if the tree has no cells at all.
func (c *Cursor) Rewind() error {
	root := c.trail[0].node
	c.trail = c.trail[:1]
	c.trail[0].cellIndex = 0

	if root.NCells() == 0 && root.RightPage() == 0 {
		c.current = nil
		return ErrEmpty
	}
	return c.descendLeftmost()
}

// descendLeftmost walks from the current trail top down to a leaf,
// always picking the leftmost child, and caches cell 0 of that leaf.
func (c *Cursor) descendLeftmost() error {
	for {
		top := &c.trail[len(c.trail)-1]
		if top.node.IsLeaf() {
			if top.node.NCells() == 0 {
				c.current = nil
				return ErrEmpty
			}
			cell, err := top.node.GetCell(0)
			if err != nil {
				return err
			}
			top.cellIndex = 0
			c.current = cell
			return nil
		}

		var childPage uint32
		if top.node.NCells() == 0 {
			childPage = top.node.RightPage()
		} else {
			first, err := top.node.GetCell(0)
			if err != nil {
				return err
			}
			childPage = first.ChildPage()
		}
		top.cellIndex = 0

		child, err := c.bt.GetNodeByPage(childPage)
		if err != nil {
			return err
		}
		c.trail = append(c.trail, trailEntry{node: child, cellIndex: 0})
	}
}

// descendRightmost is descendLeftmost's mirror, used by Prev/last-entry.
func (c *Cursor) descendRightmost() error {
	for {
		top := &c.trail[len(c.trail)-1]
		if top.node.IsLeaf() {
			if top.node.NCells() == 0 {
				c.current = nil
				return ErrEmpty
			}
			idx := top.node.NCells() - 1
			cell, err := top.node.GetCell(idx)
			if err != nil {
				return err
			}
			top.cellIndex = idx
			c.current = cell
			return nil
		}

		childPage := top.node.RightPage()
		top.cellIndex = top.node.NCells()
		if childPage == 0 {
			last, err := top.node.GetCell(top.node.NCells() - 1)
			if err != nil {
				return err
			}
			childPage = last.ChildPage()
			top.cellIndex = top.node.NCells() - 1
		}

		child, err := c.bt.GetNodeByPage(childPage)
		if err != nil {
			return err
		}
		c.trail = append(c.trail, trailEntry{node: child, cellIndex: 0})
	}
}

// Next advances the cursor to the next cell in key order. On ErrCantMove
// the cursor's position is left unchanged (snapshotted and restored).
func (c *Cursor) Next() error {
	saved := c.snapshot()

	top := &c.trail[len(c.trail)-1]
	if top.cellIndex+1 < top.node.NCells() {
		top.cellIndex++
		cell, err := top.node.GetCell(top.cellIndex)
		if err != nil {
			c.restore(saved)
			return err
		}
		c.current = cell
		return nil
	}

	// Pop up until we find a parent whose index can advance.
	for len(c.trail) > 1 {
		c.trail = c.trail[:len(c.trail)-1]
		top = &c.trail[len(c.trail)-1]
		top.cellIndex++
		if top.cellIndex > top.node.NCells() {
			continue
		}

		var childPage uint32
		if top.cellIndex == top.node.NCells() {
			childPage = top.node.RightPage()
		} else {
			cell, err := top.node.GetCell(top.cellIndex)
			if err != nil {
				c.restore(saved)
				return err
			}
			childPage = cell.ChildPage()
		}
		child, err := c.bt.GetNodeByPage(childPage)
		if err != nil {
			c.restore(saved)
			return err
		}
		c.trail = append(c.trail, trailEntry{node: child, cellIndex: 0})
		if err := c.descendLeftmost(); err != nil {
			c.restore(saved)
			return err
		}
		return nil
	}

	c.restore(saved)
	return ErrCantMove
}

// Prev is Next's mirror, moving to the previous cell in key order.
func (c *Cursor) Prev() error {
	saved := c.snapshot()

	top := &c.trail[len(c.trail)-1]
	if top.cellIndex > 0 {
		top.cellIndex--
		cell, err := top.node.GetCell(top.cellIndex)
		if err != nil {
			c.restore(saved)
			return err
		}
		c.current = cell
		return nil
	}

	for len(c.trail) > 1 {
		c.trail = c.trail[:len(c.trail)-1]
		top = &c.trail[len(c.trail)-1]
		if top.cellIndex == 0 {
			continue
		}
		top.cellIndex--

		cell, err := top.node.GetCell(top.cellIndex)
		if err != nil {
			c.restore(saved)
			return err
		}
		child, err := c.bt.GetNodeByPage(cell.ChildPage())
		if err != nil {
			c.restore(saved)
			return err
		}
		c.trail = append(c.trail, trailEntry{node: child, cellIndex: 0})
		if err := c.descendRightmost(); err != nil {
			c.restore(saved)
			return err
		}
		return nil
	}

	c.restore(saved)
	return ErrCantMove
}

// Seek positions the cursor at key according to mode, per the EQ/GT/GE/
// LT/LE comparator semantics from spec.md.
func (c *Cursor) Seek(key uint32, mode SeekMode) error {
	c.trail = c.trail[:1]
	c.trail[0].cellIndex = 0
	node := c.trail[0].node

	for {
		if node.IsLeaf() {
			for i := uint16(0); i < node.NCells(); i++ {
				cell, err := node.GetCell(i)
				if err != nil {
					return err
				}
				c.trail[len(c.trail)-1].cellIndex = i
				c.current = cell

				switch {
				case cell.Key() == key:
					switch mode {
					case SeekEQ, SeekGE, SeekLE:
						return nil
					case SeekGT:
						return c.Next()
					case SeekLT:
						return c.Prev()
					}
				case cell.Key() > key:
					switch mode {
					case SeekEQ:
						return ErrNotFound
					case SeekGT, SeekGE:
						return nil
					case SeekLT, SeekLE:
						return c.Prev()
					}
				}
			}
			// Overshot past the last cell.
			switch mode {
			case SeekEQ:
				return ErrNotFound
			case SeekLT, SeekLE:
				return nil
			default:
				return ErrCantMove
			}
		}

		childPage, idx, err := node.childForWithIndex(key)
		if err != nil {
			return err
		}
		c.trail[len(c.trail)-1].cellIndex = idx
		child, err := c.bt.GetNodeByPage(childPage)
		if err != nil {
			return err
		}
		c.trail = append(c.trail, trailEntry{node: child, cellIndex: 0})
		node = child
	}
}

type cursorSnapshot struct {
	trail   []trailEntry
	current *BTreeCell
}

func (c *Cursor) snapshot() cursorSnapshot {
	trail := make([]trailEntry, len(c.trail))
	copy(trail, c.trail)
	return cursorSnapshot{trail: trail, current: c.current}
}

func (c *Cursor) restore(s cursorSnapshot) {
	c.trail = s.trail
	c.current = s.current
}

func (c *Cursor) String() string {
	return fmt.Sprintf("Cursor(root=%d, depth=%d)", c.rootPage, len(c.trail))
}
