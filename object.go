package hoard

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"time"

	"github.com/hoardfs/hoard/internal/codec"
	"github.com/hoardfs/hoard/internal/engine"
)

// ObjectKind discriminates the three object variants the store holds.
type ObjectKind uint8

const (
	KindBlob ObjectKind = iota
	KindTree
	KindCommit
)

var kindTags = [...]string{"blob", "tree", "commit"}

func (k ObjectKind) String() string {
	if int(k) < len(kindTags) {
		return kindTags[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k ObjectKind) valid() bool { return k <= KindCommit }

// keySpace maps a kind onto its engine key space. Kinds and spaces are
// 1:1 so kind-scoped enumeration and GC stay cheap on every backend.
func (k ObjectKind) keySpace() engine.KeySpace {
	switch k {
	case KindBlob:
		return engine.SpaceBlob
	case KindTree:
		return engine.SpaceTree
	default:
		return engine.SpaceCommit
	}
}

func kindForTag(tag string) (ObjectKind, bool) {
	for i, t := range kindTags {
		if t == tag {
			return ObjectKind(i), true
		}
	}
	return 0, false
}

// KeySize is the length of an ObjectKey in bytes.
const KeySize = 32

// ObjectKey names an object by the SHA-256 of its encoded frame. Identical
// content always yields identical keys; the store treats a collision
// between different content as a correctness violation, not something to
// resolve.
type ObjectKey [KeySize]byte

func (k ObjectKey) String() string { return hex.EncodeToString(k[:]) }

// IsZero reports whether k is the zero key. No real object hashes to it.
func (k ObjectKey) IsZero() bool { return k == ObjectKey{} }

// ParseKey parses the hex form produced by String.
func ParseKey(s string) (ObjectKey, error) {
	var k ObjectKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("parsing object key: %w", err)
	}
	if len(raw) != KeySize {
		return k, fmt.Errorf("parsing object key: want %d bytes, got %d", KeySize, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// Object is an immutable tagged value: blob content, a tree, or commit
// metadata. Build one with NewBlob, NewTree or NewCommit; the store only
// supports insert-if-absent and delete, never in-place mutation.
type Object struct {
	kind    ObjectKind
	payload []byte
}

// NewBlob wraps raw content as a blob object. The bytes are not copied;
// the caller must not modify them afterwards.
func NewBlob(content []byte) *Object {
	return &Object{kind: KindBlob, payload: content}
}

// NewTree encodes directory entries as a tree object. Entries are sorted
// by name before encoding, so entry order never affects the key.
func NewTree(entries []TreeEntry) (*Object, error) {
	payload, err := encodeTreeEntries(entries)
	if err != nil {
		return nil, err
	}
	return &Object{kind: KindTree, payload: payload}, nil
}

// NewCommit encodes commit metadata as a commit object.
func NewCommit(c CommitMetadata) (*Object, error) {
	payload, err := encodeCommit(c)
	if err != nil {
		return nil, err
	}
	return &Object{kind: KindCommit, payload: payload}, nil
}

// Kind returns the object's type discriminant.
func (o *Object) Kind() ObjectKind { return o.kind }

// Payload returns the encoded payload bytes. Callers must not modify them.
func (o *Object) Payload() []byte { return o.payload }

// Size returns the payload length in bytes.
func (o *Object) Size() int64 { return int64(len(o.payload)) }

// Key computes the object's content key. Put returns the same key; prefer
// reusing that over recomputing here.
func (o *Object) Key() ObjectKey {
	return ObjectKey(codec.Sum(codec.Encode(o.kind.String(), o.payload)))
}

// TreeEntries decodes a tree object's entries.
func (o *Object) TreeEntries() ([]TreeEntry, error) {
	if o.kind != KindTree {
		return nil, fmt.Errorf("object is a %s, not a tree", o.kind)
	}
	return decodeTreeEntries(o.payload)
}

// Commit decodes a commit object's metadata.
func (o *Object) Commit() (CommitMetadata, error) {
	if o.kind != KindCommit {
		return CommitMetadata{}, fmt.Errorf("object is a %s, not a commit", o.kind)
	}
	return decodeCommit(o.payload)
}

// TreeEntry is one child reference inside a tree object.
type TreeEntry struct {
	Name string
	Mode fs.FileMode
	Key  ObjectKey
}

// CommitMetadata describes one commit: the tree it snapshots, its parent
// commits, and authorship. Time is stored at second precision in UTC.
type CommitMetadata struct {
	Tree    ObjectKey
	Parents []ObjectKey
	Author  string
	Time    time.Time
	Message string
}

// encodeTreeEntries encodes tree entries as binary data.
// Entry format: {mode:4bytes}{key:32bytes}{nameLen:2bytes}{name}
func encodeTreeEntries(entries []TreeEntry) ([]byte, error) {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	var buf bytes.Buffer
	var prev string
	for i, entry := range sorted {
		if entry.Name == "" {
			return nil, fmt.Errorf("tree entry %d has empty name", i)
		}
		if len(entry.Name) > 0xffff {
			return nil, fmt.Errorf("tree entry name %q too long", entry.Name[:32])
		}
		if i > 0 && entry.Name == prev {
			return nil, fmt.Errorf("duplicate tree entry %q", entry.Name)
		}
		prev = entry.Name

		binary.Write(&buf, binary.BigEndian, uint32(entry.Mode))
		buf.Write(entry.Key[:])
		binary.Write(&buf, binary.BigEndian, uint16(len(entry.Name)))
		buf.WriteString(entry.Name)
	}
	return buf.Bytes(), nil
}

// decodeTreeEntries decodes tree entries from binary data.
func decodeTreeEntries(data []byte) ([]TreeEntry, error) {
	var entries []TreeEntry
	reader := bytes.NewReader(data)

	for reader.Len() > 0 {
		var entry TreeEntry

		var mode uint32
		if err := binary.Read(reader, binary.BigEndian, &mode); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		entry.Mode = fs.FileMode(mode)

		if _, err := io.ReadFull(reader, entry.Key[:]); err != nil {
			return nil, err
		}

		var nameLen uint16
		if err := binary.Read(reader, binary.BigEndian, &nameLen); err != nil {
			return nil, err
		}

		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(reader, nameBuf); err != nil {
			return nil, err
		}
		entry.Name = string(nameBuf)

		entries = append(entries, entry)
	}

	return entries, nil
}

// encodeCommit encodes commit metadata as binary data.
// Format: {tree:32}{parentCount:2}{parents:32 each}{unixTime:8}
//
//	{authorLen:2}{author}{messageLen:4}{message}
func encodeCommit(c CommitMetadata) ([]byte, error) {
	if len(c.Parents) > 0xffff {
		return nil, fmt.Errorf("commit has %d parents", len(c.Parents))
	}
	if len(c.Author) > 0xffff {
		return nil, fmt.Errorf("commit author too long")
	}

	var buf bytes.Buffer
	buf.Write(c.Tree[:])
	binary.Write(&buf, binary.BigEndian, uint16(len(c.Parents)))
	for _, p := range c.Parents {
		buf.Write(p[:])
	}
	binary.Write(&buf, binary.BigEndian, c.Time.Unix())
	binary.Write(&buf, binary.BigEndian, uint16(len(c.Author)))
	buf.WriteString(c.Author)
	binary.Write(&buf, binary.BigEndian, uint32(len(c.Message)))
	buf.WriteString(c.Message)
	return buf.Bytes(), nil
}

// decodeCommit decodes commit metadata from binary data.
func decodeCommit(data []byte) (CommitMetadata, error) {
	var c CommitMetadata
	reader := bytes.NewReader(data)

	if _, err := io.ReadFull(reader, c.Tree[:]); err != nil {
		return c, err
	}

	var parentCount uint16
	if err := binary.Read(reader, binary.BigEndian, &parentCount); err != nil {
		return c, err
	}
	for range parentCount {
		var p ObjectKey
		if _, err := io.ReadFull(reader, p[:]); err != nil {
			return c, err
		}
		c.Parents = append(c.Parents, p)
	}

	var unix int64
	if err := binary.Read(reader, binary.BigEndian, &unix); err != nil {
		return c, err
	}
	c.Time = time.Unix(unix, 0).UTC()

	var authorLen uint16
	if err := binary.Read(reader, binary.BigEndian, &authorLen); err != nil {
		return c, err
	}
	author := make([]byte, authorLen)
	if _, err := io.ReadFull(reader, author); err != nil {
		return c, err
	}
	c.Author = string(author)

	var msgLen uint32
	if err := binary.Read(reader, binary.BigEndian, &msgLen); err != nil {
		return c, err
	}
	if int(msgLen) != reader.Len() {
		return c, fmt.Errorf("commit declares %d message bytes, has %d", msgLen, reader.Len())
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(reader, msg); err != nil {
		return c, err
	}
	c.Message = string(msg)

	return c, nil
}
