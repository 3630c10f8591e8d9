package ledger

// KeyResolver extracts participant identifiers from composite ledger user keys.
type KeyResolver struct {
	length int
}

// NewKeyResolver constructs a resolver keeping the trailing length characters.
func NewKeyResolver(length int) KeyResolver {
	if length <= 0 {
		length = DefaultKeyLength
	}
	return KeyResolver{length: length}
}

// ParticipantID returns the participant reference embedded in key.
// Keys shorter than the configured length are returned unchanged.
func (k KeyResolver) ParticipantID(key string) string {
	if len(key) <= k.length {
		return key
	}
	return key[len(key)-k.length:]
}

// LatestByParticipant keeps, for each participant, the record with the greatest
// identifier. Ledger order wins over timestamps, which may disagree across clients.
func (k KeyResolver) LatestByParticipant(records []Record) map[string]Record {
	out := make(map[string]Record)
	for _, rec := range records {
		id := k.ParticipantID(rec.ExternalUserKey)
		if id == "" {
			continue
		}
		if current, ok := out[id]; !ok || rec.ID > current.ID {
			out[id] = rec
		}
	}
	return out
}

// MaxID returns the greatest identifier in records, or fallback when empty.
func MaxID(records []Record, fallback int64) int64 {
	highest := fallback
	for _, rec := range records {
		if rec.ID > highest {
			highest = rec.ID
		}
	}
	return highest
}
