// Package permissions defines the closed permission catalog and the scoped
// permission syntax used by the access engine.
//
// A permission is a "scope:action" name (events:create) or a singleton (root).
// A scoped permission appends a resource token after '@':
//
//	events:create               global grant
//	events:create@group:fotball grant limited to the fotball group
//	news:update@news-42         grant limited to one news item
//
// Matches is the only place scope semantics live. A grant scoped to the
// wildcard satisfies any requested scope; any other scope must be equal.
package permissions
