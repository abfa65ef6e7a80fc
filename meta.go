package bar

import (
	"time"
)

// Header field keys. Every map in the header uses these small integers in
// place of field names.
const (
	keyNote           uint64 = 0
	keyName           uint64 = 1
	keyMeta           uint64 = 2
	keyFile           uint64 = 3
	keyDir            uint64 = 4
	keyOffset         uint64 = 5
	keySize           uint64 = 6
	keyLastUpdate     uint64 = 7 // timestamp revision
	keyNonce          uint64 = 7 // encrypted revision
	keyUsed           uint64 = 8
	keyCompressMethod uint64 = 9
)

// Meta holds the descriptive fields attached to the archive, every directory
// and every file.
type Meta struct {
	// Name is required. Entry names must be valid path segments; the
	// archive name is free-form.
	Name string

	// Note is free-form text, possibly markup. Empty means absent.
	Note string

	// Used is a caller-defined flag, false by default.
	Used bool

	// LastUpdate is the modification time, stored with one-second
	// precision in UTC. The zero value means absent.
	// Only RevisionTimestamp archives carry it.
	LastUpdate time.Time

	// Nonce is the file's encryption nonce. Nil means absent.
	// Only files in RevisionEncrypted archives carry it.
	Nonce *uint64
}

// clone returns a copy of m that shares no pointers with it.
func (m Meta) clone() Meta {
	if m.Nonce != nil {
		n := *m.Nonce
		m.Nonce = &n
	}
	return m
}

// forRevision drops the field that rev cannot carry.
func (m Meta) forRevision(rev Revision) Meta {
	m = m.clone()
	switch rev {
	case RevisionTimestamp:
		m.Nonce = nil
		if !m.LastUpdate.IsZero() {
			m.LastUpdate = m.LastUpdate.UTC().Truncate(time.Second)
		}
	case RevisionEncrypted:
		m.LastUpdate = time.Time{}
	}
	return m
}

// encodeMeta maps m onto its integer-keyed header record.
func encodeMeta(m Meta, rev Revision, path string) (map[uint64]any, error) {
	if m.Name == "" {
		return nil, formatErr("encode", path, "name", ErrMissingField)
	}
	rec := map[uint64]any{keyName: m.Name}
	if m.Note != "" {
		rec[keyNote] = m.Note
	}
	if m.Used {
		rec[keyUsed] = true
	}
	switch rev {
	case RevisionTimestamp:
		if m.Nonce != nil {
			return nil, formatErr("encode", path, "enc", ErrRevisionMismatch, "nonce in %s revision", rev)
		}
		if !m.LastUpdate.IsZero() {
			rec[keyLastUpdate] = m.LastUpdate.UTC().Truncate(time.Second)
		}
	case RevisionEncrypted:
		if !m.LastUpdate.IsZero() {
			return nil, formatErr("encode", path, "last_update", ErrRevisionMismatch, "timestamp in %s revision", rev)
		}
		if m.Nonce != nil {
			rec[keyNonce] = *m.Nonce
		}
	}
	return rec, nil
}

// decodeMeta reads a header record written by encodeMeta. Absent optional
// fields take their zero values.
func decodeMeta(v any, rev Revision, path string) (Meta, error) {
	rec, ok := v.(map[any]any)
	if !ok {
		return Meta{}, formatErr("decode", path, "meta", ErrTypeMismatch, "got %s, want map", typeName(v))
	}

	var m Meta
	hasName := false
	for k, val := range rec {
		key, ok := k.(uint64)
		if !ok {
			return Meta{}, formatErr("decode", path, "meta", ErrUnknownTag, "key %v", k)
		}
		switch key {
		case keyName:
			s, ok := val.(string)
			if !ok {
				return Meta{}, formatErr("decode", path, "name", ErrTypeMismatch, "got %s, want string", typeName(val))
			}
			m.Name = s
			hasName = true
		case keyNote:
			switch s := val.(type) {
			case nil:
			case string:
				m.Note = s
			default:
				return Meta{}, formatErr("decode", path, "note", ErrTypeMismatch, "got %s, want string or null", typeName(val))
			}
		case keyUsed:
			b, ok := val.(bool)
			if !ok {
				return Meta{}, formatErr("decode", path, "used", ErrTypeMismatch, "got %s, want bool", typeName(val))
			}
			m.Used = b
		case keyLastUpdate:
			if err := decodeRevisionField(&m, val, rev, path); err != nil {
				return Meta{}, err
			}
		default:
			return Meta{}, formatErr("decode", path, "meta", ErrUnknownTag, "key %d", key)
		}
	}
	if !hasName {
		return Meta{}, formatErr("decode", path, "name", ErrMissingField)
	}
	return m, nil
}

// decodeRevisionField decodes key 7, whose meaning depends on rev.
func decodeRevisionField(m *Meta, val any, rev Revision, path string) error {
	switch v := val.(type) {
	case time.Time:
		if rev != RevisionTimestamp {
			return formatErr("decode", path, "enc", ErrRevisionMismatch, "timestamp in %s revision", rev)
		}
		m.LastUpdate = v.UTC()
	case uint64:
		if rev != RevisionEncrypted {
			return formatErr("decode", path, "last_update", ErrRevisionMismatch, "nonce in %s revision", rev)
		}
		m.Nonce = &v
	default:
		field := "last_update"
		if rev == RevisionEncrypted {
			field = "enc"
		}
		return formatErr("decode", path, field, ErrTypeMismatch, "got %s", typeName(val))
	}
	return nil
}
