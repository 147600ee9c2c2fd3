package run

// NextState returns the state a run moves to after reading cp, given the
// reads recorded before it.  The first read starts a run, and the run
// finishes once every checkpoint of the course has been read.  Reading the
// highest-sequence checkpoint early therefore does not close the run; the
// read that completes the set does.  A finished run never changes state.
func NextState(current State, cp Checkpoint, course []Checkpoint, reads []Read) State {
	if current == StateFinished {
		return StateFinished
	}
	if len(course) == 0 {
		return StateRunning
	}
	seen := make(map[int64]bool, len(reads)+1)
	for _, rd := range reads {
		seen[rd.CheckpointID] = true
	}
	seen[cp.ID] = true

	for _, c := range course {
		if !seen[c.ID] {
			return StateRunning
		}
	}
	return StateFinished
}
