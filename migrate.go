package carton

// RenameRule renames an indexed field: the value stored under OldName
// moves to NewName and OldName is removed. Unique carries the
// uniqueness constraint of the recreated index.
type RenameRule struct {
	OldName string
	NewName string
	Unique  bool
}

// applyRenames transforms a sequence of records according to the rename
// rules, returning a new sequence in the same order. For each record,
// each matching OldName field is moved to NewName with its value
// preserved; records with none of the OldName fields pass through as
// copies. The transform is deterministic and has no side effects.
func applyRenames(rules []RenameRule, records []Record) []Record {
	if len(rules) == 0 {
		return records
	}
	out := make([]Record, len(records))
	for i, rec := range records {
		migrated := rec.Clone()
		for _, rule := range rules {
			if value, ok := migrated[rule.OldName]; ok {
				migrated[rule.NewName] = value
				delete(migrated, rule.OldName)
			}
		}
		out[i] = migrated
	}
	return out
}
