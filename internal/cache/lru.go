package cache

// lruNode is one cached entry, linked into the recency list.
type lruNode[K comparable, V any] struct {
	key        K
	value      V
	prev, next *lruNode[K, V]
}

// lruList orders entries from most (front) to least (back) recently used.
// It is not safe for concurrent use; Cache guards it with its mutex.
type lruList[K comparable, V any] struct {
	front, back *lruNode[K, V]
	len         int
}

// pushFront inserts a new entry as the most recently used.
func (l *lruList[K, V]) pushFront(key K, value V) *lruNode[K, V] {
	n := &lruNode[K, V]{key: key, value: value}
	l.linkFront(n)
	return n
}

// touch marks n as the most recently used.
func (l *lruList[K, V]) touch(n *lruNode[K, V]) {
	if n == l.front {
		return
	}
	l.unlink(n)
	l.linkFront(n)
}

// remove unlinks n.
func (l *lruList[K, V]) remove(n *lruNode[K, V]) { l.unlink(n) }

// popBack unlinks and returns the least recently used entry, or nil.
func (l *lruList[K, V]) popBack() *lruNode[K, V] {
	n := l.back
	if n != nil {
		l.unlink(n)
	}
	return n
}

func (l *lruList[K, V]) reset() { *l = lruList[K, V]{} }

func (l *lruList[K, V]) linkFront(n *lruNode[K, V]) {
	n.prev, n.next = nil, l.front
	if l.front != nil {
		l.front.prev = n
	} else {
		l.back = n
	}
	l.front = n
	l.len++
}

func (l *lruList[K, V]) unlink(n *lruNode[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.front = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.back = n.prev
	}
	n.prev, n.next = nil, nil
	l.len--
}
