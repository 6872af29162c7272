// Package whisperx transcribes media files by running the WhisperX CLI
// through uvx.
//
// WhisperX reads video containers directly, so the source file is passed as
// is. The JSON output is preferred; the plain-text output is a fallback.
package whisperx
