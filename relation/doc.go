// Package relation discovers convention-based references between mapped
// types and resolves them per fetched batch. To-one foreign keys are
// satisfied with one batched query per referenced type rather than one per
// object, and to-many fields become collections that either come from a
// caller-supplied prefetched set or load themselves on first access.
package relation
