// Package tycmd wraps the TyTools tycmd CLI: board enumeration and watching
// through `tycmd list -O json -v [-w]` and firmware upload through
// `tycmd upload`. Command execution goes through an Executor so tests can
// replay captured output.
package tycmd
