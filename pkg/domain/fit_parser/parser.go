package fit_parser

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/muktihari/fit/decoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
)

// Unset uint32 fields decode to the FIT invalid sentinel.
const invalidUint32 = ^uint32(0)

// Summary is the part of a workout file persisted next to the raw file.
type Summary struct {
	Sport            string
	StartTime        time.Time
	TotalElapsedTime float64 // seconds
	TotalDistance    float64 // meters
	Sessions         int
	Records          int
}

// Summarize decodes a FIT file and folds its sessions into one summary.
// Multi-session files (e.g. triathlons) report the first session's sport,
// the earliest start and the summed duration and distance.
func Summarize(data []byte) (*Summary, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty FIT data")
	}

	fitDec := decoder.New(bytes.NewReader(data))
	summary := &Summary{}
	var fileCreated time.Time

	for fitDec.Next() {
		fitData, err := fitDec.Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to decode FIT file: %w", err)
		}

		for _, msg := range fitData.Messages {
			switch msg.Num {
			case typedef.MesgNumFileId:
				fileId := mesgdef.NewFileId(&msg)
				if fileCreated.IsZero() && !fileId.TimeCreated.IsZero() {
					fileCreated = fileId.TimeCreated.UTC()
				}

			case typedef.MesgNumRecord:
				summary.Records++

			case typedef.MesgNumSession:
				session := mesgdef.NewSession(&msg)
				summary.Sessions++
				if summary.Sport == "" {
					summary.Sport = strings.ToLower(session.Sport.String())
				}
				start := session.StartTime.UTC()
				if !session.StartTime.IsZero() && (summary.StartTime.IsZero() || start.Before(summary.StartTime)) {
					summary.StartTime = start
				}
				if session.TotalElapsedTime != invalidUint32 {
					summary.TotalElapsedTime += float64(session.TotalElapsedTime) / 1000
				}
				if session.TotalDistance != invalidUint32 {
					summary.TotalDistance += float64(session.TotalDistance) / 100
				}
			}
		}
	}

	if summary.Sessions == 0 {
		return nil, fmt.Errorf("no sessions found in FIT file")
	}
	if summary.StartTime.IsZero() {
		summary.StartTime = fileCreated
	}
	return summary, nil
}
