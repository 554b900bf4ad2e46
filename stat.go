package bptree

// ExportStat is a point-in-time snapshot of a Tree's internal
// counters, meant for a collaborator's metrics exporter to read after
// a batch of operations. The tree itself does not aggregate rates or
// export to any metrics backend — that is out of scope (spec section
// 1's "logging and metrics" external collaborator).
type ExportStat struct {
	Splits           uint64
	Merges           uint64
	Rebalances       uint64
	ArenaGrows       uint64
	OutOfMemoryCount uint64
}

// iStat accumulates the raw counters. The tree is single-writer (spec
// section 5), so plain counters are used instead of the teacher's
// atomic.Uint64 fields — there is no concurrent writer to race with.
type iStat struct {
	splits           uint64
	merges           uint64
	rebalances       uint64
	arenaGrows       uint64
	outOfMemoryCount uint64
}

func (s *iStat) export() ExportStat {
	return ExportStat{
		Splits:           s.splits,
		Merges:           s.merges,
		Rebalances:       s.rebalances,
		ArenaGrows:       s.arenaGrows,
		OutOfMemoryCount: s.outOfMemoryCount,
	}
}
