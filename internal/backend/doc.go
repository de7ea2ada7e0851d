// Package backend defines the contract between the execution engine and the
// template engines it drives, the errors a template engine reports, and the
// registry that maps engine names to implementations.
package backend
