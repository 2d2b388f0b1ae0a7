// Package pack assembles deployable policy packs from the catalog.
//
// A Definition, written in YAML or CUE, lists selections (criteria plus an
// optional enforcement level) and extra policies to include by name. A
// Builder runs the selections against a fresh Selector so each policy lands
// in the pack at most once, validates pack-supplied config against each
// policy's JSON schema and stamps the result with an id and a canonical
// digest. A Runner then executes the pack's checks against resources.
package pack
