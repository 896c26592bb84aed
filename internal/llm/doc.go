// Package llm wraps text-completion providers used for reasoning-assisted
// flow composition and for narrating results. Provider-specific clients live
// in subpackages; this package only exposes the completion contract, the
// narrators built on top of it and a factory driven by configuration.
package llm
