// Package preflight provides readiness checks for the directories, programs,
// and network endpoints m8flash depends on.
//
// The serve command runs RunAll at startup and logs failures without
// aborting; the status command renders every Result as a table row.
package preflight
