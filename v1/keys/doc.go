// Package keys derives cache and lock keys from a format template and the
// arguments of a wrapped call. Templates use a brace format language: {} and
// {0} positional placeholders, {name} named placeholders, {name.Field}
// attribute access, !s and !r conversions, :spec format specs and {{ / }}
// escapes.
package keys
