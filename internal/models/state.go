package models

// WatchState is the persisted change-detection state of one repository.
// It always reflects the last successfully triggered change.
type WatchState struct {
	LatestRelease string `json:"latest_release"`
	LatestCommit  string `json:"latest_commit"`
}

// IsZero reports whether nothing has been observed yet.
func (s WatchState) IsZero() bool {
	return s.LatestRelease == "" && s.LatestCommit == ""
}
