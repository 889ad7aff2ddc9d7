package block

import "bytes"

// MemBuffer is the default Buffer implementation: a bytes.Buffer with a
// Bytes()/Len() surface already satisfying the interface.
type MemBuffer struct {
	bytes.Buffer
}

func NewBuffer() *MemBuffer { return &MemBuffer{} }

func NewBufferFrom(data []byte) *MemBuffer {
	b := &MemBuffer{}
	b.Write(data)
	return b
}
