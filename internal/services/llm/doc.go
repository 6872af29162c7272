// Package llm provides an OpenAI-compatible chat client for the two
// language-model steps of the pipeline.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.ExtractPhrases: turn a transcript into stock-footage search phrases.
// Client.ScoreCandidate: rate one search result for B-roll potential (1-10).
// Client.CompleteJSON: send system/user prompts, receive the raw JSON reply.
// Client.HealthCheck: verify API key and model availability.
//
// # Errors
//
// The client issues exactly one request per call. Failures carry a
// services marker so the retry engine can decide what to do:
// 429 is ErrRateLimited, 5xx and 408 are ErrTransient, 401/403 are
// ErrAuthentication, 402 is ErrQuotaExceeded, other 4xx are ErrValidation
// and transport failures are ErrNetwork. Empty or unparseable replies are
// ErrTransient since a second sample usually succeeds.
package llm
