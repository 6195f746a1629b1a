// Package recordset defines the ordered Record value that rows materialize
// into, and the bounded streaming pipeline between statement execution and
// materialization.
package recordset
