// Package discovery turns the aspired-models subtree into per-model lists of
// aspired versions.
//
// Ownership boundary:
// - level 1: the aspired-models node and its child set (which models exist)
// - level 2: one model's child set (which versions exist) and version data reads
// - level 3: one version's data (re-runs level 2 for its model)
// - the monitored-model set and the consumer callback
//
// Each level re-reads current state and re-arms its own one-shot watch before
// looking at the result, so a stale or duplicated notification only causes a
// redundant pass that emits the same list again.
//
// Monitored models are tracked for liveness only: every member is owed a future
// level-2 pass, and removing a member early is always safe because level 1
// re-adds it when it is still present.
package discovery
