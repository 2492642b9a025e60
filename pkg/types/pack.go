package types

// Pack is a named dictionary of pronunciations, loaded from a JSON file on
// disk. Entries map a token or whitespace-containing phrase (case
// preserving) to a phoneme string in eSpeak format.
type Pack struct {
	Name    string            `json:"name"`
	Version string            `json:"version"` // YYYYMMDD-HHMMSS; the file's version field, else derived from mtime
	Format  string            `json:"format"`  // always "espeak"
	Entries map[string]string `json:"entries"`
}

// PackEntryMeta is the alternate shape an entry value may carry instead of
// a bare phoneme string; readers accept both.
type PackEntryMeta struct {
	Phonemes string `json:"phonemes"`
	Source   string `json:"source,omitempty"`
}

// FixedPackPriority is the canonical, highest-first priority order of
// bundled and learned packs (see spec.md §9's resolution of the
// local_overrides/auto_learn ordering ambiguity).
var FixedPackPriority = []string{"local_overrides", "auto_learn", "anime_en", "en_core"}

// PriorityOf returns the pack's priority rank (lower is higher priority),
// or len(FixedPackPriority) for an unranked pack name (sorted last).
func PriorityOf(name string) int {
	for i, p := range FixedPackPriority {
		if p == name {
			return i
		}
	}
	return len(FixedPackPriority)
}

// LookupResult is the response shape for GET /v1/dicts/lookup.
type LookupResult struct {
	Key        string `json:"key"`
	Phonemes   string `json:"phonemes"`
	SourcePack string `json:"source_pack"`
}

// PackSummary is one row of GET /v1/dicts.
type PackSummary struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	EntryCount int    `json:"entry_count"`
}
