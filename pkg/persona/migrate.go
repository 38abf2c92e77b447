package persona

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// CurrentSchemaVersion is the schema_version a freshly loaded document is
// migrated up to; persona documents are versioned artifacts with a
// forward migration path.
const CurrentSchemaVersion = "1.0.0"

type migrationStep struct {
	from semver.Constraints
	to string
	fn func(map[string]interface{}) error
}

// migrations run in order; each is idempotent when reapplied to output
// it already produced, since its from constraint no longer matches afterward.
var migrations []migrationStep

func init() {
	c, err := semver.NewConstraint("< 1.0.0")
	if err != nil {
		panic(err)
	}
	migrations = append(migrations, migrationStep{
		from: *c,
		to: "1.0.0",
		fn: migrateV0ToV1,
	})
}

// migrateV0ToV1 upgrades the pre-1.0 draft shape, which expressed
// "autonomy_level" instead of "authority.autonomy" and had no top-level
// "gates" array, to the current schema.
func migrateV0ToV1(raw map[string]interface{}) error {
	authority, _ := raw["authority"].(map[string]interface{})
	if authority == nil {
		authority = map[string]interface{}{}
	}
	if lvl, ok := raw["autonomy_level"]; ok {
		authority["autonomy"] = lvl
		delete(raw, "autonomy_level")
	}
	raw["authority"] = authority
	if _, ok := raw["gates"]; !ok {
		raw["gates"] = []interface{}{}
	}
	raw["schema_version"] = "1.0.0"
	return nil
}

// Migrate rewrites raw (a decoded JSON document) in place, applying every
// migration whose version constraint matches schema_version, until a
// fixed point at CurrentSchemaVersion is reached. It refuses to migrate a
// document newer than CurrentSchemaVersion: that is a downgrade, not a
// migration, and is out of scope.
func Migrate(raw map[string]interface{}) error {
	versionStr, _ := raw["schema_version"].(string)
	if versionStr == "" {
		versionStr = "0.1.0"
	}

	for i := 0; i < len(migrations)+1; i++ {
		v, err := semver.NewVersion(versionStr)
		if err != nil {
			return fmt.Errorf("persona: invalid schema_version %q: %w", versionStr, err)
		}
		current, err := semver.NewVersion(CurrentSchemaVersion)
		if err != nil {
			return err
		}
		if v.GreaterThan(current) {
			return fmt.Errorf("persona: schema_version %s is newer than supported %s", versionStr, CurrentSchemaVersion)
		}
		if !v.LessThan(current) {
			return nil
		}

		applied := false
		for _, m := range migrations {
			if m.from.Check(v) {
				if err := m.fn(raw); err != nil {
					return fmt.Errorf("persona: migrate from %s: %w", versionStr, err)
				}
				versionStr, _ = raw["schema_version"].(string)
				applied = true
				break
			}
		}
		if !applied {
			return fmt.Errorf("persona: no migration path from schema_version %s to %s", versionStr, CurrentSchemaVersion)
		}
	}
	return fmt.Errorf("persona: migration did not converge from schema_version %s", versionStr)
}

// Load parses, migrates, strict-mode validates, and decodes a persona
// document from raw JSON bytes.
func Load(raw []byte) (*Document, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("persona: invalid JSON: %w", err)
	}
	if err := Migrate(generic); err != nil {
		return nil, err
	}
	migrated, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("persona: re-marshal after migration: %w", err)
	}
	if err := ValidateRaw(migrated); err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(migrated, &doc); err != nil {
		return nil, fmt.Errorf("persona: decode document: %w", err)
	}
	return &doc, nil
}
