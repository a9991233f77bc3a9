package buffer

// chunkList groups chunks by utilisation band, letting the arena
// favour partially-full chunks for locality without oversubscribing
// nearly-full ones.
type chunkList struct {
	name               string
	minUsage, maxUsage int
	head               *chunk
}

func (l *chunkList) add(c *chunk) {
	c.list = l
	c.prev = nil
	c.next = l.head
	if l.head != nil {
		l.head.prev = c
	}
	l.head = c
}

func (l *chunkList) remove(c *chunk) {
	if c.prev != nil {
		c.prev.next = c.next
	} else {
		l.head = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	}
	c.prev, c.next, c.list = nil, nil, nil
}

// fits reports whether usage still belongs in this band.
func (l *chunkList) fits(usage int) bool {
	return usage >= l.minUsage && usage <= l.maxUsage
}

// bands builds the six standard utilisation bands in allocation-try
// order (q050, q025, q000, qInit, q075) plus qInit and q100 for
// reclassification purposes; chunkLists() returns them in storage
// (ascending-usage) order instead.
func newChunkLists() (qInit, q000, q025, q050, q075, q100 *chunkList) {
	qInit = &chunkList{name: "qInit", minUsage: -1, maxUsage: 25}
	q000 = &chunkList{name: "q000", minUsage: 1, maxUsage: 50}
	q025 = &chunkList{name: "q025", minUsage: 25, maxUsage: 75}
	q050 = &chunkList{name: "q050", minUsage: 50, maxUsage: 100}
	q075 = &chunkList{name: "q075", minUsage: 75, maxUsage: 100}
	q100 = &chunkList{name: "q100", minUsage: 100, maxUsage: 100}
	return
}

// reclassify moves c into whichever band its current usage now fits,
// preferring the first band (in ascending-usage order) that fits so
// promotion/demotion always lands on the nearest matching band.
func (a *Arena) reclassify(c *chunk) {
	usage := c.usage()
	for _, l := range a.bandsAscending {
		if l.fits(usage) {
			if c.list != l {
				if c.list != nil {
					c.list.remove(c)
				}
				l.add(c)
			}
			return
		}
	}
}
