// Package block defines the type-erased block payload contract (spec §3,
// §9 "void* block payloads"). The core never interprets a block's content;
// it only creates, destroys, saves and loads it through four user-supplied
// functions, the Go analogue of the source's function-pointer quartet.
package block

import "io"

// Block is an opaque user payload. The core stores it as `any` and never
// inspects it beyond the Funcs below.
type Block any

// Buffer is the serialization target/source passed to Save/Load. It is a
// thin io.ReadWriter so user code can use encoding/gob, encoding/json, or
// hand-rolled binary.Write/Read without the core caring which.
type Buffer interface {
	io.Reader
	io.Writer
	Bytes() []byte
	Len() int
}

// CreateFunc allocates a zero-value block (used when rehydrating a spilled
// or migrated block before Load is called).
type CreateFunc func() Block

// DestroyFunc releases any resources the block holds. The Collection calls
// it whenever it drops a resident block's in-memory copy: on Unload (after
// Save has spilled it) and on Destroy. Release hands the block back to the
// caller without calling it.
type DestroyFunc func(Block)

// SaveFunc serializes a block's content into buf.
type SaveFunc func(b Block, buf Buffer) error

// LoadFunc deserializes buf's content into a freshly Create'd block.
type LoadFunc func(b Block, buf Buffer) error

// Funcs bundles the four user callbacks a Collection needs. Some of
// {Create, Destroy, Save, Load} may be left nil in single-process,
// never-spilled setups; spilling a block to external storage and loading
// it back uses all four.
type Funcs struct {
	Create  CreateFunc
	Destroy DestroyFunc
	Save    SaveFunc
	Load    LoadFunc
}
