// Command m8flash serves the firmware transfer core to the desktop shell and
// offers headless commands for flashing, device listing, flash history, and
// configuration.
package main
