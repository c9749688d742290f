// Package backends wires every built-in object store kind into a registry.
package backends

import (
	"github.com/sagarc03/stowfs/objectstore"
	"github.com/sagarc03/stowfs/objectstore/azure"
	"github.com/sagarc03/stowfs/objectstore/local"
	"github.com/sagarc03/stowfs/objectstore/s3"
	"github.com/sagarc03/stowfs/objectstore/s3legacy"
	"github.com/sagarc03/stowfs/objectstore/swift"
)

// Default returns a registry with the s3, s3legacy, swift, azure and local
// kinds.
func Default() *objectstore.Registry {
	r := objectstore.NewRegistry()
	objectstore.Register(r, s3.Kind, s3.Open)
	objectstore.Register(r, s3legacy.Kind, s3legacy.Open)
	objectstore.Register(r, swift.Kind, swift.Open)
	objectstore.Register(r, azure.Kind, azure.Open)
	objectstore.Register(r, local.Kind, local.Open)
	return r
}
