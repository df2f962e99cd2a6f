// Package model defines the step file document, phase schemas and the result
// types produced by the DES validators.
//
// Step file types preserve keys they do not model: decoding captures them and
// encoding writes them back, so read-modify-write never loses fields.
package model
