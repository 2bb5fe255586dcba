package seeder

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

var accessEventTypes = []string{
	"access.logs.add",
	"access.logs.add",
	"access.logs.add",
	"access.logs.denied",
	"access.door.unlock",
	"access.door.open",
	"access.door.close",
	"access.door.held_open",
}

var protectEventTypes = []string{
	"motion",
	"motion",
	"ring",
	"smartDetectZone",
	"smartDetectZone",
	"recording",
}

type badgeHolder struct {
	ID   string
	Name string
}

// Generator produces webhook payloads in the source systems' native shapes.
type Generator struct {
	rng       *rand.Rand
	faker     *gofakeit.Faker
	locations []string
	actors    []badgeHolder
}

// NewGenerator creates a generator with a fixed actor pool. seed 0 derives
// one from the current time.
func NewGenerator(seed int64, locations []string, actorCount int) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(seed)
	rng := rand.New(rand.NewSource(seed))

	actors := make([]badgeHolder, actorCount)
	for i := range actors {
		actors[i] = badgeHolder{
			ID:   faker.UUID(),
			Name: faker.Name(),
		}
	}

	return &Generator{
		rng:       rng,
		faker:     faker,
		locations: locations,
		actors:    actors,
	}
}

// eventTime spreads timestamps over the window ending now, with jitter so
// runs do not produce a perfectly regular grid.
func (g *Generator) eventTime(index, total int, spread time.Duration) time.Time {
	now := time.Now().UTC()
	if spread <= 0 || total < 2 {
		return now
	}

	base := float64(spread) / float64(total)
	offset := time.Duration(float64(index)*base + (g.rng.Float64()*2-1)*base*0.4)
	if offset < 0 {
		offset = 0
	}
	if offset > spread {
		offset = spread
	}
	return now.Add(offset - spread)
}

func (g *Generator) location() string {
	return g.locations[g.rng.Intn(len(g.locations))]
}

// AccessPayload produces one door-controller webhook body.
func (g *Generator) AccessPayload(index, total int, spread time.Duration) []byte {
	actor := g.actors[g.rng.Intn(len(g.actors))]
	eventType := accessEventTypes[g.rng.Intn(len(accessEventTypes))]
	ts := g.eventTime(index, total, spread)

	payload := map[string]any{
		"event": eventType,
		"data": map[string]any{
			"id":        fmt.Sprintf("acc-%s", g.faker.UUID()),
			"timestamp": ts.UnixMilli(),
			"actor": map[string]any{
				"id":           actor.ID,
				"display_name": actor.Name,
			},
			"door": map[string]any{
				"name": g.location(),
			},
		},
	}

	body, _ := json.Marshal(payload)
	return body
}

// ProtectPayload produces one camera webhook body.
func (g *Generator) ProtectPayload(index, total int, spread time.Duration) []byte {
	eventType := protectEventTypes[g.rng.Intn(len(protectEventTypes))]
	ts := g.eventTime(index, total, spread)

	data := map[string]any{
		"id":         fmt.Sprintf("prt-%s", g.faker.UUID()),
		"start":      ts.UnixMilli(),
		"camera":     g.faker.UUID(),
		"cameraName": g.location(),
	}
	if eventType == "smartDetectZone" {
		if g.rng.Intn(2) == 0 {
			data["smartDetectTypes"] = []string{"person"}
		} else {
			data["smartDetectTypes"] = []string{"vehicle"}
		}
	}

	payload := map[string]any{
		"type": eventType,
		"data": data,
	}

	body, _ := json.Marshal(payload)
	return body
}
