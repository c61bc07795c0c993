// Package gamerepo resolves request paths against an on-disk tree of
// versioned game resources.
//
// Each game lives in its own directory under the namespace root. Files that
// sit directly in that directory are version 0; a child directory named
// v<N> holds the files that changed in version N. A lookup for version N
// falls back through N-1, N-2, ... to 0 and returns the first version where
// the file exists, so a version directory only has to carry what changed.
//
// METADATA files are JSON objects whose "version" field is rewritten on the
// way out. A request for the namespace-level "metadata" path returns every
// game's METADATA merged into one object keyed by game name.
//
// Everything here is read-only and keeps no state between calls, so a
// Repository is safe for concurrent use.
package gamerepo
