// Package services holds the helpers shared by stage executors and the
// collaborator clients they call.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging.
//   - Error markers plus the Wrap helper. The retry engine classifies
//     failures by marker, so every collaborator should tag its errors.
//
// Collaborator clients live in sub-packages (llm, whisperx, ytdlp).
package services
