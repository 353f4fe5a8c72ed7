package fit_parser

import (
	"bytes"
	"testing"
	"time"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSession struct {
	sport    typedef.Sport
	start    time.Time
	elapsedS float64
	meters   float64
}

func encodeActivity(t *testing.T, sessions ...testSession) []byte {
	t.Helper()
	created := sessions[0].start
	fit := &proto.FIT{
		Messages: []proto.Message{
			mesgdef.NewFileId(nil).
				SetType(typedef.FileActivity).
				SetManufacturer(typedef.ManufacturerDevelopment).
				SetProduct(1).
				SetTimeCreated(created).
				ToMesg(nil),
		},
	}
	for i, s := range sessions {
		fit.Messages = append(fit.Messages, mesgdef.NewRecord(nil).SetTimestamp(s.start).ToMesg(nil))
		fit.Messages = append(fit.Messages, mesgdef.NewSession(nil).
			SetTimestamp(s.start.Add(time.Duration(s.elapsedS)*time.Second)).
			SetStartTime(s.start).
			SetSport(s.sport).
			SetTotalElapsedTime(uint32(s.elapsedS*1000)).
			SetTotalTimerTime(uint32(s.elapsedS*1000)).
			SetTotalDistance(uint32(s.meters*100)).
			SetMessageIndex(typedef.MessageIndex(i)).
			ToMesg(nil))
	}

	var buf bytes.Buffer
	require.NoError(t, encoder.New(&buf).Encode(fit))
	return buf.Bytes()
}

func TestSummarize_SingleSession(t *testing.T) {
	start := time.Date(2024, 3, 10, 7, 30, 0, 0, time.UTC)
	data := encodeActivity(t, testSession{sport: typedef.SportRunning, start: start, elapsedS: 1800, meters: 5000})

	s, err := Summarize(data)
	require.NoError(t, err)
	assert.Equal(t, "running", s.Sport)
	assert.Equal(t, start, s.StartTime)
	assert.InDelta(t, 1800, s.TotalElapsedTime, 0.001)
	assert.InDelta(t, 5000, s.TotalDistance, 0.01)
	assert.Equal(t, 1, s.Sessions)
	assert.Equal(t, 1, s.Records)
}

func TestSummarize_MergesSessions(t *testing.T) {
	swim := time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)
	bike := swim.Add(40 * time.Minute)
	data := encodeActivity(t,
		testSession{sport: typedef.SportSwimming, start: swim, elapsedS: 1800, meters: 1500},
		testSession{sport: typedef.SportCycling, start: bike, elapsedS: 3600, meters: 40000},
	)

	s, err := Summarize(data)
	require.NoError(t, err)
	assert.Equal(t, "swimming", s.Sport)
	assert.Equal(t, swim, s.StartTime)
	assert.InDelta(t, 5400, s.TotalElapsedTime, 0.001)
	assert.InDelta(t, 41500, s.TotalDistance, 0.01)
	assert.Equal(t, 2, s.Sessions)
}

func TestSummarize_Errors(t *testing.T) {
	_, err := Summarize(nil)
	assert.Error(t, err)

	_, err = Summarize([]byte("definitely not a fit file"))
	assert.Error(t, err)
}
