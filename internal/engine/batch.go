package engine

// Batch is an ordered set of writes applied atomically by Engine.Apply.
// It is not safe for concurrent mutation; build it on one goroutine, then
// hand it to Apply.
type Batch struct {
	ops []BatchOp
}

// BatchOp is one entry in a Batch. Delete distinguishes deletions from
// puts of an empty value.
type BatchOp struct {
	Space  KeySpace
	Key    []byte
	Value  []byte
	Delete bool
}

// NewBatch returns an empty batch sized for n operations.
func NewBatch(n int) *Batch {
	return &Batch{ops: make([]BatchOp, 0, n)}
}

// Put queues a write of value under key.
func (b *Batch) Put(space KeySpace, key, value []byte) {
	b.ops = append(b.ops, BatchOp{Space: space, Key: key, Value: value})
}

// Delete queues a deletion of key.
func (b *Batch) Delete(space KeySpace, key []byte) {
	b.ops = append(b.ops, BatchOp{Space: space, Key: key, Delete: true})
}

// Len returns the number of queued operations.
func (b *Batch) Len() int { return len(b.ops) }

// Ops exposes the queued operations in order, for engine implementations.
func (b *Batch) Ops() []BatchOp { return b.ops }
