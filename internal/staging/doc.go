// Package staging manages the per-job working directories under the
// configured staging root: fetched cloud media, transcription output and
// downloaded clips awaiting organization.
package staging
