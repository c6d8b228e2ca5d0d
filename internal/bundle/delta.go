package bundle

import "distribox/internal/dbx"

// DeltaFor selects the histories this peer holds that contain at least one
// event the remote peer lacks, given the remote's full event-id set. A
// history with nothing new for the peer is omitted entirely; the merge on
// the far side tolerates re-sent events, so over-selection is safe but
// wasteful.
func DeltaFor(vl *dbx.VersionList, remote []dbx.ID) []*dbx.FileHistory {
	known := make(map[dbx.ID]struct{}, len(remote))
	for _, id := range remote {
		known[id] = struct{}{}
	}

	var out []*dbx.FileHistory
	for _, h := range vl.Histories() {
		for _, e := range h.Events {
			if _, ok := known[e.EventID]; !ok {
				out = append(out, h)
				break
			}
		}
	}
	return out
}
