// Package acquire resolves the selected firmware source into a flashable image
// on disk and drives the session download state machine while doing so.
//
// Remote sources are streamed over HTTP into the download cache; local sources
// are checked for existence and readability. Zip archives are unpacked to the
// single .hex image they carry. Each run reports Starting, rate-limited
// Downloading progress, and Complete or Error through a Publisher, then hands
// the image to the next stage.
package acquire
