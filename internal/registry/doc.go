// Package registry provides the central "glue" for the node kind system.
//
// The Registry maps the type identifiers stored in graph documents (e.g.,
// "gain", "audio.output") to the Go factories that build the processors for
// them. Construction parameters travel as cty values and are decoded into
// each kind's parameter struct through `cty` field tags.
//
// During application startup every module registers its kinds and the
// registry is validated, so a document can only fail to load because of its
// own content, never because a kind is half-registered.
package registry
