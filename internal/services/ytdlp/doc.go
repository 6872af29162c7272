// Package ytdlp searches for and downloads candidate B-roll videos by running
// the yt-dlp CLI.
//
// Search uses `--dump-json ytsearchN:<phrase>` and parses one JSON document
// per output line. Downloads name files `scoreNN_<title>.<ext>` so an editor
// can sort a phrase folder by rating.
package ytdlp
