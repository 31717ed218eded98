package models

type NGOCapability struct {
	Name         string
	Capabilities Vector // raw capacity scores or 0/1 presence flags
}

// CapabilityTable is the wide per-NGO capability table. Categories lists the
// columns present in the source. Mixing raw scores and binary flags in one
// table is not repaired here; callers are expected to supply one or the other.
type CapabilityTable struct {
	Categories []Category
	Rows       []NGOCapability
}

// Find looks an NGO up by normalized name.
func (t *CapabilityTable) Find(name string) (*NGOCapability, bool) {
	if t == nil {
		return nil, false
	}
	key := NormalizeName(name)
	for i := range t.Rows {
		if NormalizeName(t.Rows[i].Name) == key {
			return &t.Rows[i], true
		}
	}
	return nil, false
}

func (t *CapabilityTable) NGOs() []string {
	if t == nil {
		return nil
	}
	names := make([]string, len(t.Rows))
	for i, r := range t.Rows {
		names[i] = r.Name
	}
	return names
}

// Binarize returns a copy where every positive capability becomes 1 and
// everything else 0.
func (t *CapabilityTable) Binarize() *CapabilityTable {
	out := &CapabilityTable{
		Categories: append([]Category(nil), t.Categories...),
		Rows:       make([]NGOCapability, len(t.Rows)),
	}
	for i, r := range t.Rows {
		var v Vector
		for c, score := range r.Capabilities {
			if score > 0 {
				v[c] = 1
			}
		}
		out.Rows[i] = NGOCapability{Name: r.Name, Capabilities: v}
	}
	return out
}
