package outbox

import "example.com/sockathon/internal/events"

const summarySyncedSchema = `{
  "type": "object",
  "title": "SummarySynced",
  "properties": {
    "participant_id": {"type": "string"},
    "team_id": {"type": "integer"},
    "date": {"type": "string", "format": "date"},
    "coded_seconds": {"type": "integer", "minimum": 0},
    "synced_at": {"type": "string", "format": "date-time"}
  },
  "required": ["participant_id", "date", "coded_seconds", "synced_at"],
  "additionalProperties": false
}`

const teamEliminatedSchema = `{
  "type": "object",
  "title": "TeamEliminated",
  "properties": {
    "team_id": {"type": "integer"},
    "team_name": {"type": "string"},
    "eliminated_at": {"type": "string", "format": "date-time"}
  },
  "required": ["team_id", "team_name", "eliminated_at"],
  "additionalProperties": false
}`

var schemaCatalog = map[string]string{
	events.TypeSummarySynced:  summarySyncedSchema,
	events.TypeTeamEliminated: teamEliminatedSchema,
}

func schemaFor(eventType string) (string, bool) {
	schema, ok := schemaCatalog[eventType]
	return schema, ok
}
