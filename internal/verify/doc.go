// Package verify reconciles an entity's library directory against the
// cache-derived expected state. The cache and database are ground truth; the
// library directory is a disposable projection that is healed in place.
// Drift never deletes outright: bad or unauthorized files move to the
// recycle bin.
package verify
