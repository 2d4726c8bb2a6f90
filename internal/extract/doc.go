// Package extract turns decoded JSON documents into normalized records.
//
// A document is the untyped tree produced by encoding/json: map[string]any,
// []any, string, json.Number, bool and nil. Nothing in this package mutates a
// document, performs I/O, or logs; every function is safe for concurrent use
// with any other call.
//
// Three primitives do the work:
//   - Lookup / LookupEach resolve a Path against a document and report
//     "not found" as ok=false, distinct from a present null.
//   - FindKey locates the first occurrence of a key anywhere in the tree.
//   - Assemble builds a Record from a compiled Spec, substituting each field's
//     default when its path does not resolve.
//
// Missing or mistyped data never produces an error. Errors are reserved for
// malformed specs: unknown transforms, bad path syntax, and transforms that
// cannot handle the value they were given.
package extract
