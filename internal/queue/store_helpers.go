package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const jobColumns = "seq, job_id, file_path, source, status, current_stage, transcript, search_phrases_json, candidates_json, scored_json, downloads_json, output_path, remote_link, notified_at, error_message, claim_token, attempts, last_heartbeat, created_at, updated_at, completed_at"

// timeLayout is fixed width so lexical order in SQLite matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job          Job
		source       string
		status       string
		stage        string
		transcript   sql.NullString
		phrases      sql.NullString
		candidates   sql.NullString
		scored       sql.NullString
		downloads    sql.NullString
		outputPath   sql.NullString
		remoteLink   sql.NullString
		notifiedRaw  sql.NullString
		errorMessage sql.NullString
		claimToken   sql.NullString
		heartbeatRaw sql.NullString
		createdRaw   string
		updatedRaw   string
		completedRaw sql.NullString
	)
	if err := scanner.Scan(
		&job.Seq,
		&job.ID,
		&job.FilePath,
		&source,
		&status,
		&stage,
		&transcript,
		&phrases,
		&candidates,
		&scored,
		&downloads,
		&outputPath,
		&remoteLink,
		&notifiedRaw,
		&errorMessage,
		&claimToken,
		&job.Attempts,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	job.Source = Source(source)
	job.Status = Status(status)
	job.Stage = Stage(stage)
	job.Transcript = transcript.String
	job.OutputPath = outputPath.String
	job.RemoteLink = remoteLink.String
	job.ErrorMessage = errorMessage.String
	job.ClaimToken = claimToken.String
	job.CreatedAt = parseTimeString(createdRaw)
	job.UpdatedAt = parseTimeString(updatedRaw)
	job.NotifiedAt = parseNullableTime(notifiedRaw)
	job.LastHeartbeat = parseNullableTime(heartbeatRaw)
	job.CompletedAt = parseNullableTime(completedRaw)

	if err := decodeJSON(phrases, &job.SearchPhrases); err != nil {
		return nil, fmt.Errorf("job %s search phrases: %w", job.ID, err)
	}
	if err := decodeJSON(candidates, &job.Candidates); err != nil {
		return nil, fmt.Errorf("job %s candidates: %w", job.ID, err)
	}
	if err := decodeJSON(scored, &job.Scored); err != nil {
		return nil, fmt.Errorf("job %s scored: %w", job.ID, err)
	}
	if err := decodeJSON(downloads, &job.Downloads); err != nil {
		return nil, fmt.Errorf("job %s downloads: %w", job.ID, err)
	}
	return &job, nil
}

func decodeJSON(raw sql.NullString, dest any) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dest)
}

func encodeJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseTimeString(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	return time.Time{}
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	ts := parseTimeString(raw.String)
	if ts.IsZero() {
		return nil
	}
	return &ts
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
