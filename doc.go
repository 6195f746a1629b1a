// Package xrepo is an object-relational mapping engine built on live schema
// introspection instead of code generation or configuration files. Domain
// types register plain descriptors; tables, columns and primary keys are
// discovered from the connected data source, and types whose names match a
// chain of tables are persisted across all of them, joined on primary key.
//
// The facade is small: Count, Find, Save and Remove over registered types,
// plus the same four operations over ordered records for callers without
// descriptors. Find returns a memoized Cursor; Save probes each row by
// primary key and inserts or updates accordingly, allocating identities
// from a pluggable sequencer when objects arrive without one. Reference
// fields between registered types resolve automatically in batched,
// breadth-first passes.
package xrepo
