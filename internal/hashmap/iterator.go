package hashmap

import "github.com/calvinalkan/chainstore/internal/schema"

// Iterator is a lazy forward walk of a single bucket's chain, filtered to
// nodes whose key equals the key It was called with (spec §4.F). Iteration
// order within a bucket is newest-first; duplicate keys are permitted
// ("multimap" semantics).
type Iterator struct {
	hm   *Hashmap
	key  []byte
	next schema.Link
	done bool
}

// Next advances to the next matching element, returning its payload and
// link. ok is false once the chain is exhausted.
func (it *Iterator) Next() (payload []byte, link schema.Link, ok bool) {
	if it.done {
		return nil, 0, false
	}

	term := it.hm.desc.Terminal()
	for it.next != term {
		cur := it.next
		p, next, match, err := it.hm.readNode(cur, it.key)
		if err != nil {
			it.done = true
			return nil, 0, false
		}
		it.next = next
		if match {
			return p, cur, true
		}
	}

	it.done = true
	return nil, 0, false
}
