package record

// Tombstone marks that a record was deleted at a given time. Tombstones
// outlive the records they mark: once the record is purged they are the
// only evidence the delete ever happened, and the only thing stopping a
// stale copy from resurrecting it.
type Tombstone struct {
	Kind         Kind   `json:"kind"`
	ID           string `json:"id"`
	LastModified int64  `json:"lastModified"`
}

// Key returns the tombstone's identity.
func (t *Tombstone) Key() Key {
	return Key{Kind: t.Kind, ID: t.ID}
}

// Shadows reports whether the tombstone suppresses a write with the given
// timestamp. Equal timestamps favor the delete.
func (t *Tombstone) Shadows(lastModified int64) bool {
	return t.LastModified >= lastModified
}
