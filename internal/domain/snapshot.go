package domain

// SnapshotVersion is written into every saved document to allow future
// migration. Unknown or missing fields on read default rather than fail.
const SnapshotVersion = 1

// Snapshot is the whole persisted dataset. It is serialized and rewritten as
// one document on every save; there are no partial writes.
//
// ActiveChannels is keyed by the string encoding of the user UUID; malformed
// keys are skipped with a warning at load time.
type Snapshot struct {
	Version        int                     `json:"version"`
	Channels       map[string]Channel      `json:"channels"`
	Members        map[string][]Membership `json:"members"`
	ActiveChannels map[string]string       `json:"active_channels"`
}

// EmptySnapshot returns a current-version dataset with no channels.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		Version:        SnapshotVersion,
		Channels:       make(map[string]Channel),
		Members:        make(map[string][]Membership),
		ActiveChannels: make(map[string]string),
	}
}
