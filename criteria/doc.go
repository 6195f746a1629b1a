// Package criteria implements the filter-predicate model of the engine.
//
// A Criterion names a column, a comparison operator and a scalar or
// ordered-list value. Criteria stay plain values until a statement builder
// renders them; rendering produces a parameterized SQL fragment, records
// bind-parameter names for the log sink, and freezes the criterion against
// further mutation.
package criteria
