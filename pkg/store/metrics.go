package store

// Stats is a compact view of the underlying Pebble state, exported through
// the telemetry package as gauges.
type Stats struct {
	DiskUsage   uint64
	MemtableSz  uint64
	L0Files     int64
	Compactions int64
}

// Stats returns best-effort storage metrics. Values are zero when the store
// is closed.
func (s *Store) Stats() Stats {
	var out Stats
	if s == nil || s.db == nil {
		return out
	}
	m := s.db.Metrics()
	out.DiskUsage = m.DiskSpaceUsage()
	out.MemtableSz = m.MemTable.Size
	out.L0Files = m.Levels[0].NumFiles
	out.Compactions = m.Compact.Count
	return out
}
