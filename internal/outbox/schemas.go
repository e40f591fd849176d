package outbox

import "example.com/autosave/internal/domain"

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	domain.EventActivitySaved: {Schema: activitySavedSchema},
}

const activitySavedSchema = `{
  "type": "object",
  "title": "ActivitySaved",
  "properties": {
    "activity_id": {"type": "string"},
    "activity_code": {"type": "string"},
    "user_id": {"type": "string"},
    "activity_type": {"type": "string"},
    "title": {"type": "string"},
    "source": {"type": "string"},
    "attempt": {"type": "integer"},
    "save_count": {"type": "integer"},
    "saved_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "activity_code", "user_id", "saved_at"],
  "additionalProperties": false
}`
