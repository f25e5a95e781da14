package m3u8

import "fmt"

// SelectBestVariant returns the EXT-X-STREAM-INF entry with the
// highest BANDWIDTH in a master playlist. Grounded on the teacher's
// own Downloader.selectBestStream (internal/downloader/hls/hls.go),
// kept here as an explicitly optional helper: per the open question in
// the original spec (§9), the engine never auto-selects a variant on
// behalf of the caller. A caller that receives a MasterPlaylist from
// Parse may call this, then resubmit the chosen StreamInf.URI as a new
// job.
func SelectBestVariant(p *MasterPlaylist) (StreamInf, error) {
	if len(p.Streams) == 0 {
		return StreamInf{}, fmt.Errorf("m3u8: master playlist has no EXT-X-STREAM-INF entries")
	}
	best := p.Streams[0]
	for _, s := range p.Streams[1:] {
		if s.Bandwidth > best.Bandwidth {
			best = s
		}
	}
	return best, nil
}
