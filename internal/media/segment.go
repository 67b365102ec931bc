package media

import "mediascribe/internal/domain"

// PlanSegments splits a duration into fixed windows of segmentDuration
// seconds. Segment k covers [k*w, min((k+1)*w, duration)); the last window
// may be shorter. Paths are assigned later, once each slice is encoded.
func PlanSegments(duration, segmentDuration float64) []domain.Segment {
	if duration <= 0 || segmentDuration <= 0 {
		return nil
	}

	var segments []domain.Segment
	for start := 0.0; start < duration; start += segmentDuration {
		end := start + segmentDuration
		if end > duration {
			end = duration
		}
		segments = append(segments, domain.Segment{
			Index: len(segments),
			Start: start,
			End:   end,
		})
	}
	return segments
}
