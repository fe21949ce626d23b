package operations

import (
	"time"

	"github.com/google/uuid"

	"github.com/atlascmd/assetos"
	"github.com/atlascmd/assetos/modules/comms"
)

const (
	registrationTimeout  = 10 * time.Second
	registrationAttempts = 3
)

var allowedEntityTypes = map[string]struct{}{
	"asset":      {},
	"track":      {},
	"geofeature": {},
}

// registerAsset creates this asset's entity at the command service via
// the comms request path. It retries with exponential backoff and
// reports whether registration completed.
func registerAsset(bus *assetos.Bus, atlas assetos.AtlasConfig, logger assetos.Logger) bool {
	asset := atlas.Asset
	if asset.ID == "" {
		logger.Error("Asset ID not found in configuration")
		return false
	}
	entityType := asset.Type
	if entityType == "" {
		entityType = "asset"
	}
	if _, ok := allowedEntityTypes[entityType]; !ok {
		logger.Error("Invalid asset entity type", "type", entityType)
		return false
	}
	alias := asset.Name
	if alias == "" {
		alias = asset.ID
	}
	modelID := asset.ModelID
	if modelID == "" {
		modelID = "generic-asset"
	}

	type outcome struct {
		ok  bool
		err string
	}
	results := make(chan outcome, registrationAttempts)
	sub := bus.Subscribe(comms.TopicResponse, func(data any) {
		resp, ok := data.(comms.Response)
		if !ok || resp.Function != "create_entity" {
			return
		}
		select {
		case results <- outcome{ok: resp.OK, err: resp.Error}:
		default:
		}
	})
	defer bus.Unsubscribe(sub)

	for attempt := 0; attempt < registrationAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * time.Second
			logger.Info("Retrying asset registration", "attempt", attempt+1, "delay", delay)
			time.Sleep(delay)
		}
		logger.Info("Registering asset",
			"id", asset.ID, "type", entityType, "alias", alias, "model", modelID)
		bus.Publish(comms.TopicRequest, comms.Request{
			Function: "create_entity",
			Args: map[string]any{
				"entity_id":   asset.ID,
				"entity_type": entityType,
				"alias":       alias,
				"subtype":     modelID,
			},
			RequestID: "reg-" + uuid.NewString(),
		})

		select {
		case result := <-results:
			if result.ok {
				logger.Info("Asset registration successful", "id", asset.ID, "alias", alias)
				return true
			}
			logger.Warn("Asset registration failed", "error", result.err)
		case <-time.After(registrationTimeout):
			logger.Warn("Registration request timed out", "timeout", registrationTimeout)
		}
	}
	logger.Error("Asset registration failed after retries", "attempts", registrationAttempts)
	return false
}
