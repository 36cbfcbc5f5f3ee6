package types

import "time"

// File represents a servable file in the database.
type File struct {
	Id   int64  `db:"id"`
	Path string `db:"path"`
	Slug string `db:"slug"`
}

// Download is one counted access to a file. The token handed to the client is
// derived from DownloadedAt and IPAddress, so both must be set before minting.
type Download struct {
	Id           int64     `db:"id"`
	FileId       int64     `db:"file_id"`
	DownloadedAt time.Time `db:"downloaded_at"`
	IPAddress    string    `db:"ip_address"`
	UserAgent    string    `db:"user_agent"`
}

// DownloadStats summarises the download history of a single file.
type DownloadStats struct {
	Total int
	Last  *Download
}
