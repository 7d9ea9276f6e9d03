package persistence

import (
	"fmt"
	"sort"
	"strconv"

	"admissions-portal/internal/common/metrics"
	"admissions-portal/internal/forms/steps"
	"admissions-portal/internal/models"
)

// Migration upgrades a record from one schema version to the next.
type Migration struct {
	From      int
	To        int
	FromSteps int
	ToSteps   int
	// InsertedBefore lists old step ids that received a new step in front of them.
	// A saved position at or after such a step moves forward by one per entry.
	InsertedBefore []int
	// Upgrade rewrites sections in place; optional.
	Upgrade func(sections map[string]interface{})
}

// MigrationTable holds a contiguous chain of migrations ending at the current version.
type MigrationTable struct {
	current      int
	currentSteps int
	byFrom       map[int]Migration
}

func NewMigrationTable(current, currentSteps int, migrations ...Migration) (*MigrationTable, error) {
	t := &MigrationTable{current: current, currentSteps: currentSteps, byFrom: make(map[int]Migration, len(migrations))}
	for _, m := range migrations {
		if m.To != m.From+1 {
			return nil, fmt.Errorf("migration %d->%d must advance exactly one version", m.From, m.To)
		}
		if m.To > current {
			return nil, fmt.Errorf("migration %d->%d goes past current version %d", m.From, m.To, current)
		}
		if _, dup := t.byFrom[m.From]; dup {
			return nil, fmt.Errorf("duplicate migration from version %d", m.From)
		}
		t.byFrom[m.From] = m
	}
	for v := range t.byFrom {
		next, ok := t.byFrom[v+1]
		if ok && next.FromSteps != t.byFrom[v].ToSteps {
			return nil, fmt.Errorf("migration %d->%d expects %d steps but %d->%d produces %d", next.From, next.To, next.FromSteps, v, v+1, t.byFrom[v].ToSteps)
		}
	}
	return t, nil
}

// Current is the version every loaded record ends at.
func (t *MigrationTable) Current() int { return t.current }

// DetectVersion reads the stored version, falling back to matching totalSteps for
// records written before versions were stamped. Zero means unknown.
func (t *MigrationTable) DetectVersion(meta models.Metadata) int {
	if meta.SchemaVersion > 0 {
		return meta.SchemaVersion
	}
	if meta.TotalSteps == t.currentSteps {
		return t.current
	}
	for _, m := range t.byFrom {
		if m.FromSteps == meta.TotalSteps {
			return m.From
		}
	}
	return 0
}

// Apply upgrades record to the current version and returns the migrations it ran.
// A record already at the current version is left untouched.
func (t *MigrationTable) Apply(record *models.FormRecord) ([]Migration, error) {
	version := t.DetectVersion(record.Metadata)
	switch {
	case version == 0:
		return nil, fmt.Errorf("cannot determine schema version for a record with %d steps", record.Metadata.TotalSteps)
	case version > t.current:
		return nil, fmt.Errorf("record version %d is newer than supported version %d", version, t.current)
	}

	var applied []Migration
	for version < t.current {
		m, ok := t.byFrom[version]
		if !ok {
			return applied, fmt.Errorf("no migration from version %d", version)
		}
		m.apply(record)
		metrics.MigrationsApplied.WithLabelValues(strconv.Itoa(m.From), strconv.Itoa(m.To)).Inc()
		applied = append(applied, m)
		version = m.To
	}
	record.Metadata.SchemaVersion = t.current
	return applied, nil
}

func (m Migration) apply(record *models.FormRecord) {
	if m.Upgrade != nil {
		if record.Sections == nil {
			record.Sections = map[string]interface{}{}
		}
		m.Upgrade(record.Sections)
	}

	record.Metadata.CurrentStep = m.remap(record.Metadata.CurrentStep)
	completed := make([]int, 0, len(record.Metadata.CompletedSteps))
	for _, id := range record.Metadata.CompletedSteps {
		completed = append(completed, m.remap(id))
	}
	record.SetCompletedSteps(completed)
	record.Metadata.TotalSteps = m.ToSteps
	record.Metadata.SchemaVersion = m.To
}

func (m Migration) remap(step int) int {
	inserted := append([]int(nil), m.InsertedBefore...)
	sort.Ints(inserted)
	shift := 0
	for _, before := range inserted {
		if step >= before {
			shift++
		}
	}
	return step + shift
}

// DefaultMigrations is the admissions history: v1 had five steps, v2 inserted
// References in front of Review & Submit.
func DefaultMigrations() *MigrationTable {
	t, err := NewMigrationTable(steps.VersionCurrent, steps.Current().TotalSteps(), Migration{
		From:           steps.VersionLegacy,
		To:             steps.VersionCurrent,
		FromSteps:      5,
		ToSteps:        6,
		InsertedBefore: []int{5},
		Upgrade:        moveLegacyReferees,
	})
	if err != nil {
		panic(err)
	}
	return t
}

// v1 kept optional referees on the personal info page. They are copied, not moved.
func moveLegacyReferees(sections map[string]interface{}) {
	personal, ok := sections["personalInfo"].(map[string]interface{})
	if !ok {
		return
	}
	referees, ok := personal["referees"]
	if !ok {
		return
	}

	refs, _ := sections["references"].(map[string]interface{})
	if refs == nil {
		refs = map[string]interface{}{}
		sections["references"] = refs
	}
	if _, exists := refs["contacts"]; !exists {
		refs["contacts"] = models.DeepCopy(referees)
	}
}
