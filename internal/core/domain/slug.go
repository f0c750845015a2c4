package domain

import "github.com/gosimple/slug"

// =============================================================================
// Project Naming
// =============================================================================

// ProjectName converts a free-form application name into a compose project
// name. Compose only accepts lowercase letters, digits, dashes and
// underscores, so everything else is transliterated or dropped.
//
// Example:
//
//	ProjectName("Insurance RAG")  // returns "insurance-rag"
//	ProjectName("My App 2.0!")    // returns "my-app-2-0"
func ProjectName(name string) string {
	return slug.Make(name)
}
