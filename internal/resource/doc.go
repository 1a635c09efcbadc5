// Package resource loads response bodies by name from a file tree.
//
// A Loader reads from an fs.FS, which is either the embedded default
// pages or a directory on disk. Bodies are read on every request; there is
// no cache.
package resource
