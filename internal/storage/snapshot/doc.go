// Package snapshot keeps one dump per referenced block and rebuilds missing
// dumps from redo logs.
//
// Layout under the storage root:
//
//	dump/<hash>        full state copy after block <hash>
//	dump/.tmp/<ulid>   files under construction, emptied on start
//	log/<hash>.redo    mutations that turn parent(<hash>) into <hash>
//
// Reconstruction of block B:
//
//  1. Walk the header index from B towards genesis until a block with a
//     dump is found. That block is the base; a missing header aborts with
//     ErrInvalidChain.
//  2. Copy the base dump to a scratch file and open it as a Storage.
//  3. Replay the redo logs of the walked blocks, oldest first.
//  4. Rename the scratch file to dump/<B>.
//
// A failed step removes the scratch file, so no partial dump is ever visible.
//
// Every dump carries a reference count. Releasing a reference never deletes
// anything; Recycle removes all dumps whose count is zero.
package snapshot
