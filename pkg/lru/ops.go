package lru

// Get retrieves a value from the cache. Expired non-persistent entries are
// dropped and reported as misses.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)

		var zero V

		return zero, false
	}

	if c.isExpired(ent) {
		c.removeEntry(ent)
		c.expired.Add(1)
		c.misses.Add(1)

		var zero V

		return zero, false
	}

	c.hits.Add(1)
	c.moveToFront(ent)

	return ent.value, true
}

// Put adds or updates a key-value pair in the cache.
func (c *Cache[K, V]) Put(key K, value V) {
	c.put(key, value, false)
}

// PutPersistent adds or updates an entry that is exempt from LRU eviction
// and TTL expiry. It remains removable via Remove, RemoveFunc, and Clear.
func (c *Cache[K, V]) PutPersistent(key K, value V) {
	c.put(key, value, true)
}

func (c *Cache[K, V]) put(key K, value V, persistent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Update existing entry in place.
	if ent, ok := c.entries[key]; ok {
		ent.value = value
		ent.cachedAt = c.now()
		ent.persistent = persistent
		c.moveToFront(ent)

		return
	}

	c.evictUntilFits()

	ent := &entry[K, V]{
		key:        key,
		value:      value,
		cachedAt:   c.now(),
		persistent: persistent,
	}

	c.entries[key] = ent
	c.addToFront(ent)
}

// Remove drops the entry for key. Returns true if an entry was present.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		return false
	}

	c.removeEntry(ent)

	return true
}

// RemoveFunc drops every entry whose key matches the predicate.
// Returns the number of entries removed. Used for prefix invalidation.
func (c *Cache[K, V]) RemoveFunc(match func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0

	for key, ent := range c.entries {
		if match(key) {
			c.removeEntry(ent)

			removed++
		}
	}

	return removed
}

// Clear removes all entries, persistent ones included.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*entry[K, V])
	c.head = nil
	c.tail = nil
}

// isExpired reports whether a non-persistent entry has outlived the TTL.
func (c *Cache[K, V]) isExpired(ent *entry[K, V]) bool {
	if ent.persistent || c.ttl <= 0 {
		return false
	}

	return c.now().Sub(ent.cachedAt) > c.ttl
}

// evictUntilFits removes non-persistent tail entries until a new entry fits.
func (c *Cache[K, V]) evictUntilFits() {
	if c.maxEntries <= 0 {
		return
	}

	for c.nonPersistentLen() >= c.maxEntries {
		if !c.evictTail() {
			return
		}
	}
}

// nonPersistentLen counts entries subject to eviction.
func (c *Cache[K, V]) nonPersistentLen() int {
	n := 0

	for _, ent := range c.entries {
		if !ent.persistent {
			n++
		}
	}

	return n
}

// evictTail removes the least recently used non-persistent entry.
// Returns false when no evictable entry exists.
func (c *Cache[K, V]) evictTail() bool {
	for victim := c.tail; victim != nil; victim = victim.prev {
		if victim.persistent {
			continue
		}

		c.removeEntry(victim)

		return true
	}

	return false
}

// removeEntry unlinks an entry from the list and the map.
func (c *Cache[K, V]) removeEntry(ent *entry[K, V]) {
	c.removeFromList(ent)
	delete(c.entries, ent.key)
}

// moveToFront moves an entry to the head of the LRU list.
func (c *Cache[K, V]) moveToFront(ent *entry[K, V]) {
	if ent == c.head {
		return
	}

	c.removeFromList(ent)
	c.addToFront(ent)
}

// addToFront adds an entry at the head of the LRU list.
func (c *Cache[K, V]) addToFront(ent *entry[K, V]) {
	ent.prev = nil
	ent.next = c.head

	if c.head != nil {
		c.head.prev = ent
	}

	c.head = ent

	if c.tail == nil {
		c.tail = ent
	}
}

// removeFromList removes an entry from the LRU list.
func (c *Cache[K, V]) removeFromList(ent *entry[K, V]) {
	if ent.prev != nil {
		ent.prev.next = ent.next
	} else {
		c.head = ent.next
	}

	if ent.next != nil {
		ent.next.prev = ent.prev
	} else {
		c.tail = ent.prev
	}

	ent.prev = nil
	ent.next = nil
}
