package queue

import (
	"fmt"

	"github.com/cleanspace/airquest/internal/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// payloadSchemas are the per-kind contracts checked at enqueue time.
var payloadSchemas = map[models.ActionKind]string{
	models.KindTelemetry: `{
		"type": "object",
		"required": ["event"],
		"properties": {
			"event": {"type": "string", "minLength": 1},
			"user_id": {"type": "string"},
			"session_id": {"type": "string"},
			"data": {"type": "object"},
			"timestamp": {"type": "string"}
		}
	}`,
	models.KindAchievement: `{
		"type": "object",
		"required": ["achievement_id"],
		"properties": {
			"achievement_id": {"type": "string", "minLength": 1},
			"user_id": {"type": "string"},
			"progress": {"type": "number", "minimum": 0},
			"unlocked_at": {"type": "string"}
		}
	}`,
	models.KindGameSession: `{
		"type": "object",
		"required": ["session_id"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"user_id": {"type": "string"},
			"mission_id": {"type": "string"},
			"status": {"enum": ["running", "succeeded", "failed", "abandoned"]},
			"score": {"type": "number"},
			"baseline_aqi": {"type": "integer", "minimum": 0},
			"final_aqi": {"type": "integer", "minimum": 0},
			"actions": {"type": "array"},
			"started_at": {"type": "string"},
			"ended_at": {"type": "string"}
		}
	}`,
	models.KindMissionProgress: `{
		"type": "object",
		"required": ["mission_id", "progress"],
		"properties": {
			"mission_id": {"type": "string", "minLength": 1},
			"user_id": {"type": "string"},
			"progress": {"type": "number", "minimum": 0, "maximum": 100},
			"completed": {"type": "boolean"},
			"updated_at": {"type": "string"}
		}
	}`,
}

func compileSchemas() (map[models.ActionKind]*jsonschema.Schema, error) {
	out := make(map[models.ActionKind]*jsonschema.Schema, len(payloadSchemas))
	for kind, src := range payloadSchemas {
		s, err := jsonschema.CompileString(string(kind)+".schema.json", src)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", kind, err)
		}
		out[kind] = s
	}
	return out, nil
}
