package index

import "iter"

// FilesystemManager reads the directory tree that the index mirrors.
type FilesystemManager interface {
	// Walk yields every entry beneath root in depth-first order.
	// The root itself is not yielded. Entries that cannot be read are
	// skipped, never reported, so a single bad entry cannot abort a scan.
	Walk(root string) iter.Seq[*WalkEntry]

	// Stat reads the current metadata of a single path.
	Stat(path string) (*WalkEntry, error)
}
