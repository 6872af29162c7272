// Package organizer lays downloaded clips out as a B-roll project folder and
// hands the result to a publisher.
//
// Projects are named from the job id and creation time so a re-run after a
// crash lands in the same folder. Clips already moved on a previous run are
// recognised and kept.
package organizer
