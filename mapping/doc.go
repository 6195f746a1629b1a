// Package mapping maps domain types to their backing tables.
//
// Types are declared through explicit Descriptors: field accessors, base
// lookup and column overrides are registration data, never discovered by
// runtime reflection. A type's tables form a root-to-leaf chain over its
// ancestors; the chain must share one primary-key column set, in the same
// order, end-to-end, and every override is validated against the live
// catalog when the descriptor is registered. Mapping failures are therefore
// raised before the engine builds a single statement.
package mapping
